// Package response holds the fixed reply written for every completed read.
package response

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Body is the payload advertised by the content-length header of Payload.
const Body = "Hello world!"

// Payload is the byte-exact response sent on every successful read.
// It is shared read-only by all workers and must never be mutated.
var Payload = []byte("HTTP/1.1 200 OK\r\ncontent-length: 12\r\nconnection: keep-alive\r\n\r\n" + Body)

var (
	ErrNoHeaderEnd     = errors.New("response: missing header terminator")
	ErrNoContentLength = errors.New("response: missing content-length header")
	ErrLengthMismatch  = errors.New("response: content-length does not match body")
)

var (
	headerEnd     = []byte("\r\n\r\n")
	crlf          = []byte("\r\n")
	contentLength = []byte("content-length")
)

// Validate checks that the content-length declared in b equals the number
// of bytes following the header block.
func Validate(b []byte) error {
	end := bytes.Index(b, headerEnd)
	if end < 0 {
		return ErrNoHeaderEnd
	}
	body := b[end+len(headerEnd):]

	// Skip the status line.
	lines := bytes.Split(b[:end], crlf)
	for _, line := range lines[1:] {
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok || !bytes.EqualFold(bytes.TrimSpace(name), contentLength) {
			continue
		}
		declared, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil {
			return fmt.Errorf("response: bad content-length %q: %w", value, err)
		}
		if declared != len(body) {
			return fmt.Errorf("%w: declared %d, body has %d bytes", ErrLengthMismatch, declared, len(body))
		}
		return nil
	}
	return ErrNoContentLength
}

package bench

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/goceleris/ringserver/internal/response"
)

// Probe opens one TCP connection to addr and sends chunks one at a time,
// reading exactly len(response.Payload) bytes after each. It returns the
// response read for every chunk sent so far, even on error.
func Probe(ctx context.Context, addr string, chunks [][]byte) ([][]byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
	}

	out := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		if _, err := conn.Write(chunk); err != nil {
			return out, fmt.Errorf("probe: write chunk %d: %w", i, err)
		}
		buf := make([]byte, len(response.Payload))
		if _, err := io.ReadFull(conn, buf); err != nil {
			return out, fmt.Errorf("probe: read response %d: %w", i, err)
		}
		out = append(out, buf)
	}
	return out, nil
}

// Verify sends n keep-alive requests over one connection and checks that
// every response is byte-for-byte the fixed payload.
func Verify(ctx context.Context, addr string, n int) error {
	req := []byte("GET / HTTP/1.1\r\nHost: " + addr + "\r\n\r\n")
	chunks := make([][]byte, n)
	for i := range chunks {
		chunks[i] = req
	}
	got, err := Probe(ctx, addr, chunks)
	if err != nil {
		return err
	}
	for i, b := range got {
		if !bytes.Equal(b, response.Payload) {
			if verr := response.Validate(b); verr != nil {
				return fmt.Errorf("verify: response %d: %w", i, verr)
			}
			return fmt.Errorf("verify: response %d: %w: %q", i, ErrBodyMismatch, b)
		}
	}
	return nil
}

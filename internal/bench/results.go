package bench

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// Result is what one Run measured.
type Result struct {
	Requests       int64         `json:"requests"`
	Errors         int64         `json:"errors"`
	Mismatches     int64         `json:"mismatches"`
	Duration       time.Duration `json:"duration"`
	RequestsPerSec float64       `json:"requests_per_sec"`
	ThroughputBPS  float64       `json:"throughput_bps"`
	Latency        Percentiles   `json:"latency"`
}

// BenchmarkOutput is the file written by cmd/bench -output.
type BenchmarkOutput struct {
	Timestamp    string          `json:"timestamp"`
	Architecture string          `json:"architecture"`
	Config       BenchmarkConfig `json:"config"`
	Results      []ServerResult  `json:"results"`
}

// BenchmarkConfig records the load shape a run used.
type BenchmarkConfig struct {
	Duration    string `json:"duration"`
	Connections int    `json:"connections"`
	Workers     int    `json:"workers"`
	CPUs        int    `json:"cpus"`
}

// ServerResult is a Result labelled with the server it was taken against,
// with durations and rates rendered for people.
type ServerResult struct {
	Server         string        `json:"server"`
	Target         string        `json:"target"`
	RequestsPerSec float64       `json:"requests_per_sec"`
	TransferPerSec string        `json:"transfer_per_sec,omitempty"`
	Requests       int64         `json:"requests"`
	Errors         int64         `json:"errors"`
	Mismatches     int64         `json:"mismatches"`
	Latency        LatencyResult `json:"latency"`
}

// LatencyResult is Percentiles as duration strings.
type LatencyResult struct {
	Avg   string `json:"avg,omitempty"`
	Max   string `json:"max,omitempty"`
	P50   string `json:"p50,omitempty"`
	P75   string `json:"p75,omitempty"`
	P90   string `json:"p90,omitempty"`
	P99   string `json:"p99,omitempty"`
	P999  string `json:"p99.9,omitempty"`
	P9999 string `json:"p99.99,omitempty"`
}

func (p Percentiles) render() LatencyResult {
	return LatencyResult{
		Avg:   p.Avg.String(),
		Max:   p.Max.String(),
		P50:   p.P50.String(),
		P75:   p.P75.String(),
		P90:   p.P90.String(),
		P99:   p.P99.String(),
		P999:  p.P999.String(),
		P9999: p.P9999.String(),
	}
}

// ToServerResult labels r with the server name and target URL.
func (r *Result) ToServerResult(server, target string) ServerResult {
	return ServerResult{
		Server:         server,
		Target:         target,
		RequestsPerSec: r.RequestsPerSec,
		TransferPerSec: formatBytes(r.ThroughputBPS) + "/s",
		Requests:       r.Requests,
		Errors:         r.Errors,
		Mismatches:     r.Mismatches,
		Latency:        r.Latency.render(),
	}
}

// ToJSON serializes the output to indented JSON.
func (o *BenchmarkOutput) ToJSON() ([]byte, error) {
	return json.MarshalIndent(o, "", "  ")
}

// WriteFile stores the output as JSON at path.
func (o *BenchmarkOutput) WriteFile(path string) error {
	data, err := o.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func formatBytes(b float64) string {
	return humanize.IBytes(uint64(max(b, 0)))
}

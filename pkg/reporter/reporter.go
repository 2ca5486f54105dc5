// pkg/reporter/reporter.go - deployment progress reporting.
//
// When a status display is listening on the local status pipe, the
// session streams phase updates to it; otherwise everything degrades to
// the NoOpReporter. This tool never launches a UI itself.

package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/windowsadmins/appdeploy/pkg/logging"
)

// StatusMessage represents the wire format for pipe messages.
type StatusMessage struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Error   bool   `json:"error,omitempty"`
}

// Reporter abstracts deployment progress reporting.
type Reporter interface {
	Start(ctx context.Context) error
	Message(txt string)
	Detail(txt string)
	Percent(pct int) // -1 = indeterminate
	ShowLog(path string)
	Error(err error)
	Stop()
}

// New returns a pipe reporter when status reporting is enabled and a
// NoOpReporter otherwise.
func New(enabled bool, address string) Reporter {
	if enabled && address != "" {
		return NewPipeReporter(address)
	}
	return NewNoOpReporter()
}

// PipeReporter streams updates over a local TCP pipe to whatever status
// display is listening.
type PipeReporter struct {
	address string
	conn    net.Conn
	mu      sync.Mutex
}

// NewPipeReporter creates a reporter for the given pipe address.
func NewPipeReporter(address string) *PipeReporter {
	return &PipeReporter{address: address}
}

// Start connects to the status pipe. A missing listener is not an error;
// the deployment just runs unreported.
func (r *PipeReporter) Start(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 2 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", r.address)
	if err != nil {
		logging.Debug("No status listener, reporting disabled",
			"address", r.address,
			"error", err,
		)
		return nil
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	logging.Debug("Connected to status pipe", "address", r.address)
	return nil
}

// sendMessage sends a status message over the pipe.
func (r *PipeReporter) sendMessage(msg StatusMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logging.Debug("Failed to marshal status message", "error", err)
		return
	}
	data = append(data, '\n')

	if _, err := r.conn.Write(data); err != nil {
		logging.Debug("Failed to write to status pipe", "error", err)
		r.conn.Close()
		r.conn = nil
	}
}

// Message sends a status message (large headline).
func (r *PipeReporter) Message(txt string) {
	logging.Info("Status", "message", txt)
	r.sendMessage(StatusMessage{
		Type: "statusMessage",
		Data: txt,
	})
}

// Detail sends a detail message (smaller, frequently changing text).
func (r *PipeReporter) Detail(txt string) {
	logging.Debug("Status detail", "detail", txt)
	r.sendMessage(StatusMessage{
		Type: "detailMessage",
		Data: txt,
	})
}

// Percent sends progress percentage (-1 for indeterminate).
func (r *PipeReporter) Percent(pct int) {
	r.sendMessage(StatusMessage{
		Type:    "percentProgress",
		Percent: pct,
	})
}

// ShowLog asks the display to open the named log.
func (r *PipeReporter) ShowLog(path string) {
	r.sendMessage(StatusMessage{
		Type: "displayLog",
		Data: path,
	})
}

// Error sends an error message and sets the error flag.
func (r *PipeReporter) Error(err error) {
	logging.Error("Status error", "error", err)
	r.sendMessage(StatusMessage{
		Type:  "statusMessage",
		Data:  fmt.Sprintf("Error: %v", err),
		Error: true,
	})
}

// Stop tells the display the run is over and closes the connection.
func (r *PipeReporter) Stop() {
	r.sendMessage(StatusMessage{Type: "quit"})

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()
}

// NoOpReporter implements Reporter but does nothing (for silent and
// non-interactive runs).
type NoOpReporter struct{}

func NewNoOpReporter() *NoOpReporter {
	return &NoOpReporter{}
}

func (r *NoOpReporter) Start(ctx context.Context) error { return nil }
func (r *NoOpReporter) Message(txt string)              {}
func (r *NoOpReporter) Detail(txt string)               {}
func (r *NoOpReporter) Percent(pct int)                 {}
func (r *NoOpReporter) ShowLog(path string)             {}
func (r *NoOpReporter) Error(err error)                 {}
func (r *NoOpReporter) Stop()                           {}

package reporter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeListener accepts one connection and decodes every line it receives.
func pipeListener(t *testing.T) (string, <-chan StatusMessage) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	messages := make(chan StatusMessage, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(messages)
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var msg StatusMessage
			if json.Unmarshal(scanner.Bytes(), &msg) == nil {
				messages <- msg
			}
		}
		close(messages)
	}()

	return ln.Addr().String(), messages
}

func nextMessage(t *testing.T, ch <-chan StatusMessage) StatusMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "listener closed before a message arrived")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a status message")
		return StatusMessage{}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	assert.IsType(t, &PipeReporter{}, New(true, "127.0.0.1:9001"))
	assert.IsType(t, &NoOpReporter{}, New(false, "127.0.0.1:9001"))
	assert.IsType(t, &NoOpReporter{}, New(true, ""))
}

func TestPipeReporterStream(t *testing.T) {
	addr, messages := pipeListener(t)

	r := NewPipeReporter(addr)
	require.NoError(t, r.Start(context.Background()))

	r.Message("Installing SQLDeveloper")
	msg := nextMessage(t, messages)
	assert.Equal(t, "statusMessage", msg.Type)
	assert.Equal(t, "Installing SQLDeveloper", msg.Data)
	assert.False(t, msg.Error)

	r.Detail("Copying files")
	msg = nextMessage(t, messages)
	assert.Equal(t, "detailMessage", msg.Type)
	assert.Equal(t, "Copying files", msg.Data)

	r.Percent(42)
	msg = nextMessage(t, messages)
	assert.Equal(t, "percentProgress", msg.Type)
	assert.Equal(t, 42, msg.Percent)

	r.Error(errors.New("disk full"))
	msg = nextMessage(t, messages)
	assert.Equal(t, "statusMessage", msg.Type)
	assert.Equal(t, "Error: disk full", msg.Data)
	assert.True(t, msg.Error)

	r.Stop()
	msg = nextMessage(t, messages)
	assert.Equal(t, "quit", msg.Type)
}

func TestPipeReporterNoListener(t *testing.T) {
	// Grab a port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	r := NewPipeReporter(addr)
	require.NoError(t, r.Start(context.Background()), "a missing listener is not an error")

	// Sends degrade to no-ops without panicking.
	r.Message("unheard")
	r.Percent(10)
	r.Stop()
}

func TestNoOpReporter(t *testing.T) {
	t.Parallel()

	r := NewNoOpReporter()
	require.NoError(t, r.Start(context.Background()))
	r.Message("ignored")
	r.Detail("ignored")
	r.Percent(50)
	r.ShowLog(`C:\logs\deploy.log`)
	r.Error(errors.New("ignored"))
	r.Stop()
}

package monitoring

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quota-gateway/internal/config"
)

func TestEmailHandlerTimesOutOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accepts connections but never sends the SMTP greeting
	go func() {
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	h := NewEmailHandler(config.EmailConfig{
		SMTPAddr:   ln.Addr().String(),
		From:       "alerts@example.com",
		To:         []string{"ops@example.com"},
		TimeoutSec: 1,
	})

	done := make(chan error, 1)
	go func() { done <- h.Handle(Alert{Type: "quota_usage", Level: LevelWarning}) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("email handler never returned; a hung send would stall the monitoring loop")
	}
}

func TestEmailHandlerFailsFastWhenUnreachable(t *testing.T) {
	h := NewEmailHandler(config.EmailConfig{
		SMTPAddr:   "127.0.0.1:1",
		From:       "alerts@example.com",
		To:         []string{"ops@example.com"},
		TimeoutSec: 1,
	})

	assert.Error(t, h.Handle(Alert{Type: "store_disconnected", Level: LevelCritical}))
}

package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 15 * time.Second
	defaultMinBackoff   = 500 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
)

// WebSocketSource treats an open presence socket to the backend as the
// reachability signal. The backend is online while the socket is connected
// and answering pings; any read or ping failure reports offline and the
// source redials with capped exponential backoff.
type WebSocketSource struct {
	URL    string
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// PingInterval defaults to 15s. A connection that misses two intervals
	// is treated as lost.
	PingInterval time.Duration

	// MinBackoff and MaxBackoff bound the delay between redials.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// Watch dials, holds the connection, and redials until ctx is cancelled.
func (s *WebSocketSource) Watch(ctx context.Context, report func(online bool)) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	minBackoff := orDefault(s.MinBackoff, defaultMinBackoff)
	maxBackoff := orDefault(s.MaxBackoff, defaultMaxBackoff)

	backoff := minBackoff
	for {
		conn, _, err := dialer.DialContext(ctx, s.URL, s.Header)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return nil
		}

		if err != nil {
			logger.Debug("presence dial failed", "event", "presence_dial", "url", s.URL, "error", err, "retry_in", backoff)
			report(false)
		} else {
			backoff = minBackoff
			report(true)
			err = s.hold(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			logger.Debug("presence connection lost", "event", "presence_lost", "url", s.URL, "error", err)
			report(false)
		}

		if !sleep(ctx, backoff) {
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// hold keeps conn alive with pings until it fails or ctx is cancelled.
func (s *WebSocketSource) hold(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	interval := orDefault(s.PingInterval, defaultPingInterval)
	deadline := func() time.Time { return time.Now().Add(2 * interval) }

	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline())
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				return err
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

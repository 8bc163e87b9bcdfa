// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Channel is the PostgreSQL NOTIFY channel carrying permission change
// notifications.
const Channel = "perm_changed"

// Default reconnect backoff for the LISTEN connection.
const (
	defaultReconnectInitial = 100 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// Listener abstracts the PostgreSQL LISTEN/NOTIFY mechanism for
// testability. The returned channel emits raw notification payloads
// and closes when the context is cancelled.
type Listener interface {
	Listen(ctx context.Context) (<-chan string, error)
}

// PGListenerOption configures PGListener behavior.
type PGListenerOption func(*PGListener)

// WithReconnectBackoff sets the exponential backoff bounds for
// re-establishing the LISTEN connection after a failure.
func WithReconnectBackoff(initial, maxInterval time.Duration) PGListenerOption {
	return func(l *PGListener) {
		l.reconnectInitial = initial
		l.reconnectMax = maxInterval
	}
}

// PGListener listens for notifications on a dedicated PostgreSQL
// connection. LISTEN state is per-connection, so the connection is
// never shared with the query pool.
type PGListener struct {
	connStr          string
	channel          string
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// NewPGListener creates a listener for the perm_changed channel.
func NewPGListener(connStr string, opts ...PGListenerOption) *PGListener {
	l := &PGListener{
		connStr:          connStr,
		channel:          Channel,
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Listen establishes the LISTEN connection and starts the receive
// loop. The initial connection failure is returned synchronously so
// startup can fail fast; later failures reconnect with backoff.
func (l *PGListener) Listen(ctx context.Context) (<-chan string, error) {
	conn, err := l.connect(ctx)
	if err != nil {
		return nil, oops.In("sync").Code("LISTEN_FAILED").
			With("channel", l.channel).Wrap(err)
	}

	ch := make(chan string, 64)
	go l.run(ctx, conn, ch)
	return ch, nil
}

func (l *PGListener) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, l.connStr)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx) //nolint:errcheck // connection is being abandoned
		return nil, err
	}
	return conn, nil
}

func (l *PGListener) run(ctx context.Context, conn *pgx.Conn, ch chan<- string) {
	defer close(ch)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background()) //nolint:errcheck // shutdown path
		}
	}()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("notification connection lost, reconnecting",
				"channel", l.channel,
				"error", err)
			_ = conn.Close(context.Background()) //nolint:errcheck // already broken
			conn = l.reconnect(ctx)
			if conn == nil {
				return
			}
			continue
		}

		select {
		case ch <- notification.Payload:
		default:
			notificationsDroppedTotal.Inc()
			slog.Warn("notification dropped: receiver buffer full",
				"channel", l.channel)
		}
	}
}

// reconnect retries the LISTEN connection with exponential backoff
// until it succeeds or the context is cancelled. Returns nil on
// cancellation.
func (l *PGListener) reconnect(ctx context.Context) *pgx.Conn {
	backoff := retry.NewExponential(l.reconnectInitial)
	backoff = retry.WithCappedDuration(l.reconnectMax, backoff)

	var conn *pgx.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := l.connect(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil
	}
	slog.Info("notification connection re-established", "channel", l.channel)
	return conn
}

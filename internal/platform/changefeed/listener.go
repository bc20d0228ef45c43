package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/telemetry"
)

// notifier is a connection that has issued LISTEN.
type notifier interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context) (notifier, error)

// Listener holds a dedicated connection LISTENing on a channel and publishes
// every notification into a Feed. It reconnects with exponential backoff.
type Listener struct {
	connect    connectFunc
	channel    string
	feed       *Feed
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	minBackoff time.Duration
	maxBackoff time.Duration
	healthy    atomic.Bool
}

func NewListener(pool *pgxpool.Pool, channel string, feed *Feed, logger zerolog.Logger, metrics *telemetry.Metrics) *Listener {
	return &Listener{
		connect:    poolConnector(pool, channel),
		channel:    channel,
		feed:       feed,
		logger:     logger.With().Str("component", "changefeed").Str("channel", channel).Logger(),
		metrics:    metrics,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// poolConnector takes a connection out of the pool for good; a LISTENing
// connection must not be handed back to other callers.
func poolConnector(pool *pgxpool.Pool, channel string) connectFunc {
	return func(ctx context.Context) (notifier, error) {
		pc, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listen conn: %w", err)
		}
		conn := pc.Hijack()
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Close(context.Background())
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		return conn, nil
	}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.minBackoff
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			l.logger.Info().Msg("change listener stopped")
			return
		}
		if connected {
			backoff = l.minBackoff
		}
		l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("change listener disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, err := l.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close(context.Background())

	l.healthy.Store(true)
	defer l.healthy.Store(false)
	l.logger.Info().Msg("listening for changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		change, err := DecodeNotification([]byte(n.Payload))
		if err != nil {
			l.logger.Warn().Err(err).Msg("discarding malformed change notification")
			continue
		}
		change = l.feed.Publish(change)
		l.metrics.RecordChange(change.Table, string(change.Type))
		l.logger.Debug().
			Uint64("seq", change.Seq).
			Str("table", change.Table).
			Str("type", string(change.Type)).
			Str("id", change.RecordID).
			Msg("change published")
	}
}

// Healthy reports whether the listener currently holds a LISTEN connection.
func (l *Listener) Healthy(context.Context) error {
	if !l.healthy.Load() {
		return errors.New("change listener is not connected")
	}
	return nil
}

// DecodeNotification parses the trigger payload.
func DecodeNotification(payload []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if c.Table == "" {
		return Change{}, errors.New("decode change: missing table")
	}
	switch c.Type {
	case Insert, Update, Delete:
	default:
		return Change{}, fmt.Errorf("decode change: unknown type %q", c.Type)
	}
	c.Seq = 0
	return c, nil
}

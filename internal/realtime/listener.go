// Package realtime keeps the in-memory project state in step with changes
// made by other sessions and fans those changes out to connected clients.
package realtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"kttrack/api/internal/store"
)

// ResyncEvent is emitted after the listener reconnects, since notifications
// sent while it was down are lost.
const ResyncEvent = "RESYNC"

// PGListener turns NOTIFY payloads on store.ChangeChannel into ChangeEvents.
type PGListener struct {
	databaseURL string
	logger      *zap.Logger
	newBackOff  func() backoff.BackOff
}

func NewPGListener(databaseURL string, logger *zap.Logger) *PGListener {
	return &PGListener{
		databaseURL: databaseURL,
		logger:      logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Listen blocks until ctx is cancelled, reconnecting whenever the
// connection drops.
func (l *PGListener) Listen(ctx context.Context, events chan<- store.ChangeEvent) error {
	first := true
	for {
		conn, err := l.connect(ctx)
		if err != nil {
			return err
		}
		if !first {
			select {
			case events <- store.ChangeEvent{Table: store.TableProjects, Type: ResyncEvent}:
			case <-ctx.Done():
			}
		}
		first = false

		err = l.receive(ctx, conn, events)
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Close(closeCtx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("change listener disconnected", zap.Error(err))
	}
}

func (l *PGListener) connect(ctx context.Context) (*pgx.Conn, error) {
	var conn *pgx.Conn
	operation := func() error {
		c, err := pgx.Connect(ctx, l.databaseURL)
		if err != nil {
			l.logger.Warn("change listener connect failed", zap.Error(err))
			return err
		}
		if _, err := c.Exec(ctx, "LISTEN "+store.ChangeChannel); err != nil {
			_ = c.Close(ctx)
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(l.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	l.logger.Info("listening for changes", zap.String("channel", store.ChangeChannel))
	return conn, nil
}

func (l *PGListener) receive(ctx context.Context, conn *pgx.Conn, events chan<- store.ChangeEvent) error {
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		event, err := store.DecodeChangeEvent(notification.Payload)
		if err != nil {
			l.logger.Warn("dropping change notification", zap.Error(err))
			continue
		}
		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"ragbridge/pkg/bridge"
)

// Writer appends bridge events to the journal.
type Writer struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWriter wraps a database returned by Open.
func NewWriter(db *sql.DB, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, logger: logger}
}

// Record stores one event.
func (w *Writer) Record(ctx context.Context, ev bridge.Event) error {
	var errText string
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO bridge_events (type, instance_id, generation, pid, message, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Type), ev.InstanceID, int64(ev.Generation), ev.PID, ev.Message, errText,
		ev.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Type, err)
	}
	return nil
}

// Consume records events from ch until it is closed or ctx is done. A
// failed insert is logged and the event dropped; the bridge never waits on
// the journal.
func (w *Writer) Consume(ctx context.Context, ch <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := w.Record(ctx, ev); err != nil {
				w.logger.Warn("eventlog write failed", zap.Error(err))
			}
		}
	}
}

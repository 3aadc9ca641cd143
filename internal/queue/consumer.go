package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
)

// AuditFileName is the file the consumer appends to inside its directory.
const AuditFileName = "auth-audit.log"

// AuditLog appends one line per auth event to <dir>/auth-audit.log.
type AuditLog struct {
	dir string
	mu  sync.Mutex
}

func NewAuditLog(dir string) *AuditLog {
	if dir == "" {
		dir = "logs"
	}
	return &AuditLog{dir: dir}
}

// Path is the file being written.
func (a *AuditLog) Path() string { return filepath.Join(a.dir, AuditFileName) }

// Handle decodes one message body and appends it.  A body that is not an
// AuthEvent is an error so the caller can reject the delivery.
func (a *AuditLog) Handle(body []byte) error {
	var ev AuthEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return oops.Code("AUDIT_BAD_MESSAGE").Wrap(err)
	}
	if ev.Type == "" {
		return oops.Code("AUDIT_BAD_MESSAGE").Errorf("event has no type")
	}
	return a.Append(ev)
}

// Append writes ev as a single human-readable line.
func (a *AuditLog) Append(ev AuthEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("dir", a.dir).Wrap(err)
	}
	f, err := os.OpenFile(a.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("path", a.Path()).Wrap(err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("path", a.Path()).Wrap(err)
	}
	return nil
}

func formatLine(ev AuthEvent) string {
	orDash := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	return fmt.Sprintf("[%s] %s | user_id=%s | email=%q | ip=%s | request_id=%s\n",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type,
		orDash(ev.UserID), ev.Email, orDash(ev.RemoteIP), orDash(ev.RequestID))
}

// Consumer drains AuthEventsQueue into an AuditLog.
type Consumer struct {
	URL   string
	Audit *AuditLog
	Log   *slog.Logger
}

// Run connects, consumes and reconnects with exponential backoff until ctx is
// cancelled.  It returns ctx.Err() on shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit-consumer")

	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			logger.WarnContext(ctx, "dial broker failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, logger)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WarnContext(ctx, "consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.WarnContext(ctx, "set QoS failed", "error", err)
	}
	if err := declare(ch); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, AuthEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.Audit.Handle(d.Body); err != nil {
			logger.ErrorContext(ctx, "handle message failed", "error", err)
			_ = d.Nack(false, false) // reject without requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
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

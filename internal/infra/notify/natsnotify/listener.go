// Package natsnotify publishes commit records to a NATS subject so other
// processes can follow the datastore.
package natsnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"isaac/pkg/domain"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "isaac.commits"

// Header keys set on every published message.
const (
	HeaderCommitTime = "Isaac-Commit-Time"
	HeaderStampCount = "Isaac-Stamp-Count"
)

// Publisher is the part of *nats.Conn the listener needs.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

var _ domain.CommitListener = (*Listener)(nil)

// Listener implements domain.CommitListener.
type Listener struct {
	pub     Publisher
	subject string
	logger  domain.Logger
	conn    *nats.Conn
}

// Option configures a Listener.
type Option func(*Listener)

// WithSubject overrides DefaultSubject.
func WithSubject(subject string) Option {
	return func(l *Listener) {
		if subject != "" {
			l.subject = subject
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger domain.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New wraps an existing publisher.
func New(pub Publisher, opts ...Option) *Listener {
	l := &Listener{pub: pub, subject: DefaultSubject, logger: domain.NoopLogger{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connect dials url and returns a listener that owns the connection.
func Connect(url string, opts ...Option) (*Listener, error) {
	conn, err := nats.Connect(url,
		nats.Name("isaac"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	l := New(conn, opts...)
	l.conn = conn
	return l, nil
}

// Subject returns the subject commits are published on.
func (l *Listener) Subject() string { return l.subject }

// HandleCommit publishes the record as JSON. Empty commits are skipped.
func (l *Listener) HandleCommit(ctx context.Context, record domain.CommitRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.IsEmpty() {
		return nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}
	msg := nats.NewMsg(l.subject)
	msg.Data = data
	msg.Header.Set(HeaderCommitTime, strconv.FormatInt(record.Time(), 10))
	msg.Header.Set(HeaderStampCount, strconv.Itoa(len(record.StampSequences())))
	if err := l.pub.PublishMsg(msg); err != nil {
		l.logger.Warn("commit publish failed", "subject", l.subject, "time", record.Time(), "error", err)
		return fmt.Errorf("publish commit: %w", err)
	}
	l.logger.Debug("commit published", "subject", l.subject, "time", record.Time())
	return nil
}

// Close drains the connection when the listener owns one.
func (l *Listener) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Drain()
}

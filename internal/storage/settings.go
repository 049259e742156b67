package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Connector establishes a database session for a target.
type Connector func(ctx context.Context, target string) (*sql.DB, error)

// Settings bundles everything one storage call needs: the connector, the
// connection target, and the encode/decode collaborators. The bundle itself
// is immutable after construction; the session it owns is established lazily
// on first use and reused afterwards. Distinct Settings values targeting
// different databases are independent and safe to use concurrently.
type Settings struct {
	target    string
	connector Connector
	encoder   Encoder
	decoder   Decoder
	logger    *zap.Logger

	mu          sync.Mutex
	db          *sql.DB
	established bool
}

// Option 配置项
type Option func(*Settings)

// WithConnector replaces the default scheme-based connector.
func WithConnector(c Connector) Option {
	return func(s *Settings) { s.connector = c }
}

// WithLogger sets the logger used for operation timing. Defaults to a no-op
// logger; instrumentation never affects outcomes.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Settings) { s.logger = logger }
}

// NewSettings creates a settings bundle for the given target.
func NewSettings(target string, encoder Encoder, decoder Decoder, opts ...Option) *Settings {
	s := &Settings{
		target:    target,
		connector: Connect,
		encoder:   encoder,
		decoder:   decoder,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Target returns the connection target.
func (s *Settings) Target() string { return s.target }

// ensure establishes the session if it does not exist yet. Safe to call
// before every operation; repeated calls reuse the session. Connection
// errors propagate to the caller and are never retried here.
func (s *Settings) ensure(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.established {
		return s.db, nil
	}

	db, err := s.connector(ctx, s.target)
	if err != nil {
		return nil, fmt.Errorf("establish connection: %w", err)
	}
	s.db = db
	s.established = true
	return s.db, nil
}

// Close releases the session, if one was established. The settings can be
// used again afterwards; the next operation reconnects.
func (s *Settings) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.established {
		return nil
	}
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	s.db = nil
	s.established = false
	return err
}

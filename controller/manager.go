// Package controller - This file contains the manager that enforces a single active session.
package controller

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager owns at most one active session.
type Manager struct {
	mu      sync.Mutex
	active  *Session
	replace bool
	logger  zerolog.Logger
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithReplace makes Start stop the active session instead of rejecting the new one.
func WithReplace(replace bool) ManagerOption {
	return func(m *Manager) { m.replace = replace }
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager with no active session.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{logger: log.Logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start makes session the active session and starts it.
//
// A session whose worker has already exited does not count as active. If
// another session is running, Start returns ErrSessionActive, or, when the
// manager was built WithReplace(true), closes the running session first.
//
// Arguments:
//   - ctx: Parent context of the session's worker.
//   - session: The session to start.
//
// Returns:
//   - error: ErrSessionActive if rejected.
func (m *Manager) Start(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.Running() {
		if !m.replace {
			return errors.Wrapf(ErrSessionActive, "session %s", m.active.ID())
		}
		m.logger.Info().Str("previous", m.active.ID()).Str("session", session.ID()).Msg("replacing active session")
		if err := m.active.Close(); err != nil {
			m.logger.Warn().Err(err).Str("session", m.active.ID()).Msg("failed to close replaced session")
		}
	} else if m.active != nil {
		if err := m.active.Close(); err != nil {
			m.logger.Warn().Err(err).Str("session", m.active.ID()).Msg("failed to close finished session")
		}
	}

	m.active = session
	session.Start(ctx)
	return nil
}

// Stop closes the active session.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ErrNoSession
	}
	err := m.active.Close()
	m.active = nil
	return err
}

// Active returns the current session, if any, including one whose worker has exited.
func (m *Manager) Active() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// Stats returns the latest snapshot of the current session.
func (m *Manager) Stats() (Stats, error) {
	session, ok := m.Active()
	if !ok {
		return Stats{}, ErrNoSession
	}
	return session.Stats(), nil
}

// Reset clears the current session's transient state.
func (m *Manager) Reset() error {
	session, ok := m.Active()
	if !ok {
		return ErrNoSession
	}
	session.Reset()
	return nil
}

package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrEngineStopped    = errors.New("trading engine is stopped")
	ErrEngineNotStarted = errors.New("trading engine is not running")
	ErrEngineStarted    = errors.New("trading engine already started")
	// ErrIntegrity marks a pair whose audit trail failed verification.
	ErrIntegrity = errors.New("audit integrity violation")
	// ErrSystemFailure marks a pair whose actor recovered from a panic.
	ErrSystemFailure = errors.New("system failure: panic recovered")
)

// guard runs fn and turns a panic into a halted pair. A halted pair keeps
// serving reads and refuses every mutation until it is rebuilt from its
// audit trail.
func (m *market) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.haltErr = fmt.Errorf("%w: pair %s: %v", ErrSystemFailure, m.pair, r)
			m.logger.Error("CRITICAL: matching panic recovered, pair halted",
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = m.haltErr
		}
	}()
	fn()
	return nil
}

// halt refuses further mutations with err.
func (m *market) halt(err error) {
	m.haltErr = err
	m.logger.Error("Pair halted", zap.Error(err))
}

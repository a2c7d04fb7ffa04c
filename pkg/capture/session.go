package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SessionConfig holds the parameters of one capture session.
type SessionConfig struct {
	// Topics is the ordered subscription set, resolved once at session
	// start.
	Topics []Topic
	// CaptureDuration is the consume loop's deadline.
	CaptureDuration time.Duration
	// WaitGrace is added to CaptureDuration to form the controller's outer
	// wait ceiling. The ceiling must not undercut the loop deadline, so
	// the grace must be non-negative.
	WaitGrace time.Duration
}

// DefaultWaitGrace is the slack the controller allows the loop beyond its
// own deadline before forcing a stop.
const DefaultWaitGrace = 5 * time.Second

// Result is the outcome of a finished session, handed to the output
// collaborator.
type Result struct {
	Records    []Record
	Stats      Stats
	Elapsed    time.Duration
	TopicCount int
}

// Session owns the lifetime of one capture run: it connects and subscribes,
// runs the consume loop on its own goroutine for the configured duration,
// and collects the captured set once the loop has stopped.
type Session struct {
	conn   BrokerConnection
	cfg    SessionConfig
	logger zerolog.Logger
}

// NewSession validates the configuration and returns a session ready to run.
func NewSession(conn BrokerConnection, cfg SessionConfig, logger zerolog.Logger) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("broker connection cannot be nil")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic subscription is required")
	}
	if cfg.CaptureDuration <= 0 {
		return nil, fmt.Errorf("capture duration must be positive")
	}
	if cfg.WaitGrace < 0 {
		return nil, fmt.Errorf("wait grace cannot be negative")
	}
	if cfg.WaitGrace == 0 {
		cfg.WaitGrace = DefaultWaitGrace
	}
	return &Session{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With().Str("component", "Session").Logger(),
	}, nil
}

// Run executes the session end to end. Connect and subscribe failures are
// fatal and abort before any capture. Once the loop is running the session
// always hands back whatever was captured, including on early cancellation.
// The connection is disconnected on every exit path.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if err := s.conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer s.conn.Disconnect()

	if err := s.conn.SubscribeMany(s.cfg.Topics); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan LoopResult, 1)
	go func() {
		resultCh <- RunLoop(loopCtx, s.conn, s.cfg.CaptureDuration, s.logger)
	}()

	ceiling := s.cfg.CaptureDuration + s.cfg.WaitGrace
	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	var loopResult LoopResult
	select {
	case loopResult = <-resultCh:
	case <-timer.C:
		// The loop's per-item deadline check never fired, most likely
		// because no traffic arrived at all. Force it down and collect.
		s.logger.Warn().Dur("ceiling", ceiling).Msg("Outer wait ceiling reached, stopping capture loop.")
		cancel()
		loopResult = <-resultCh
	case <-ctx.Done():
		s.logger.Info().Msg("Session cancelled, stopping capture loop.")
		cancel()
		loopResult = <-resultCh
	}

	s.logger.Info().
		Int64("messages", loopResult.Stats.MessageCount).
		Int64("bytes", loopResult.Stats.TotalBytes).
		Dur("elapsed", loopResult.Elapsed).
		Msg("Capture session complete.")

	return &Result{
		Records:    loopResult.Records,
		Stats:      loopResult.Stats,
		Elapsed:    loopResult.Elapsed,
		TopicCount: len(s.cfg.Topics),
	}, nil
}

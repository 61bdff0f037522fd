// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package supervisor makes sure the inference service is up, starting it
when it is not.

# State machine

	Unknown ──► Checking ──healthy──────────────────────► Running
	               │
	               └──unhealthy──► Starting ──verified──► Running
	                                  │
	                                  └──all candidates failed──► Failed

EnsureRunning never spawns when the first health check passes. Otherwise
each located binary, best origin first, gets one detached `serve` spawn,
a grace period, and a health re-check that is retried once.

Concurrent EnsureRunning calls share a single attempt. The attempt runs
detached from any one caller's context: a caller that gives up gets its own
Cancelled error, and the attempt itself is cancelled only once every caller
waiting on it has left.

# Limitations

  - A spawned process that never becomes healthy is left running. It may
    still be loading and is reaped in the background if it exits.
*/
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/health"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/probe"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/telemetry"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State is the supervisor's view of the service.
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateStarting
	StateRunning
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome describes how EnsureRunning ended.
type Outcome struct {
	State   State           `json:"state"`
	Message string          `json:"message"`
	Started bool            `json:"started"`
	Binary  string          `json:"binary,omitempty"`
	Origin  resolver.Origin `json:"origin"`
}

// Ensure outcome labels.
const (
	outcomeAlreadyRunning = "already_running"
	outcomeStarted        = "started"
	outcomeFailed         = "failed"
	outcomeNotFound       = "not_found"
)

const flightKey = "inference_service"

var errNotResponding = errors.New("service not responding")

// BinarySource lists service binaries, best origin first.
type BinarySource interface {
	ServiceBinaries() []resolver.Binary
}

// Config tunes a Supervisor.
type Config struct {
	// ServiceName is used in user-facing messages, e.g. "Ollama".
	ServiceName string

	// StatusTimeout bounds each health check.
	StatusTimeout time.Duration

	// GracePeriod is the wait between spawn and the first verification,
	// and between the two verification tries.
	GracePeriod time.Duration

	// VerifyTries is the number of health checks after a spawn.
	VerifyTries uint
}

// Supervisor is safe for concurrent use.
type Supervisor struct {
	health   health.Prober
	prober   probe.Prober
	binaries BinarySource
	cfg      Config
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	flight singleflight.Group

	attemptMu sync.Mutex
	current   *attempt

	mu    sync.RWMutex
	state State
}

// attempt is the context shared by the callers of one coalesced ensure.
type attempt struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New creates a Supervisor. metrics and logger may be nil.
func New(h health.Prober, p probe.Prober, bins BinarySource, cfg Config, metrics *telemetry.Metrics, logger *slog.Logger) *Supervisor {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "Ollama"
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = util.StatusTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = util.ServiceGracePeriod
	}
	if cfg.VerifyTries == 0 {
		cfg.VerifyTries = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		health:   h,
		prober:   p,
		binaries: bins,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Healthy runs a single status check.
func (s *Supervisor) Healthy(ctx context.Context) bool {
	return s.health.Check(ctx, s.cfg.StatusTimeout)
}

// EnsureRunning brings the service to Running or reports why it could not.
func (s *Supervisor) EnsureRunning(ctx context.Context) (Outcome, error) {
	for {
		a := s.join(ctx)
		ch := s.flight.DoChan(flightKey, func() (interface{}, error) {
			defer s.finish(a)
			return s.ensure(a.ctx)
		})

		select {
		case res := <-ch:
			s.leave(a)
			if res.Shared {
				s.logger.Debug("joined in-flight ensure")
			}
			// The shared attempt was abandoned by everyone else while this
			// caller was joining. Start over rather than report their
			// cancellation.
			if failure.IsKind(res.Err, failure.KindCancelled) && ctx.Err() == nil {
				continue
			}
			out, _ := res.Val.(Outcome)
			return out, res.Err
		case <-ctx.Done():
			s.leave(a)
			return Outcome{State: StateFailed, Message: "cancelled"},
				failure.Wrap(ctx.Err(), failure.KindCancelled, "supervisor.EnsureRunning",
					fmt.Sprintf("Starting %s was cancelled", s.cfg.ServiceName))
		}
	}
}

// join registers the caller with the current attempt, creating one if none
// is in flight.
func (s *Supervisor) join(ctx context.Context) *attempt {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()
	if s.current == nil {
		actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.current = &attempt{ctx: actx, cancel: cancel}
	}
	s.current.waiters++
	return s.current
}

// leave drops the caller; the last one out cancels the attempt.
func (s *Supervisor) leave(a *attempt) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()
	a.waiters--
	if a.waiters > 0 {
		return
	}
	a.cancel()
	if s.current == a {
		s.current = nil
	}
}

// finish retires an attempt once its ensure has returned, so later callers
// start fresh.
func (s *Supervisor) finish(a *attempt) {
	s.attemptMu.Lock()
	if s.current == a {
		s.current = nil
	}
	s.attemptMu.Unlock()
}

func (s *Supervisor) ensure(ctx context.Context) (Outcome, error) {
	const op = "supervisor.EnsureRunning"
	name := s.cfg.ServiceName

	s.setState(StateChecking)
	if s.Healthy(ctx) {
		s.setState(StateRunning)
		s.metrics.RecordEnsure(outcomeAlreadyRunning)
		return Outcome{State: StateRunning, Message: fmt.Sprintf("%s is already running", name)}, nil
	}

	s.setState(StateStarting)
	bins := s.binaries.ServiceBinaries()
	if len(bins) == 0 {
		s.setState(StateFailed)
		s.metrics.RecordEnsure(outcomeNotFound)
		msg := fmt.Sprintf("Failed to start %s. Last error: no %s binary found", name, name)
		e := failure.New(failure.KindNotFound, op, msg)
		e.Remediation = fmt.Sprintf("Install %s or reinstall the application package", name)
		return Outcome{State: StateFailed, Message: msg}, e
	}

	lastErr := ""
	for _, bin := range bins {
		out, err := s.tryBinary(ctx, bin)
		if err == nil {
			s.setState(StateRunning)
			s.metrics.RecordEnsure(outcomeStarted)
			return out, nil
		}
		if ctx.Err() != nil {
			s.setState(StateFailed)
			s.metrics.RecordEnsure(outcomeFailed)
			return Outcome{State: StateFailed, Message: "cancelled"},
				failure.Wrap(ctx.Err(), failure.KindCancelled, op, fmt.Sprintf("Starting %s was cancelled", name))
		}
		lastErr = err.Error()
		s.logger.Warn("service candidate did not come up", "binary", bin.Path, "origin", bin.Origin.String(), "error", lastErr)
	}

	s.setState(StateFailed)
	s.metrics.RecordEnsure(outcomeFailed)
	msg := fmt.Sprintf("Failed to start %s. Last error: %s", name, lastErr)
	e := failure.New(failure.KindExternalProcessFailure, op, msg)
	e.Remediation = fmt.Sprintf("Try starting it manually with `%s serve` and check its logs", bins[0].Path)
	return Outcome{State: StateFailed, Message: msg}, e
}

// tryBinary spawns one candidate and verifies it. The returned error text
// is the user-facing reason.
func (s *Supervisor) tryBinary(ctx context.Context, bin resolver.Binary) (Outcome, error) {
	name := s.cfg.ServiceName

	handle, err := s.prober.RunDetached(ctx, bin.Path, "serve")
	if err != nil {
		return Outcome{}, fmt.Errorf("Failed to start %s at %s: %v", name, bin.Path, err)
	}
	s.metrics.RecordSpawn(bin.Origin.String())
	s.logger.Info("spawned service", "binary", bin.Path, "origin", bin.Origin.String(), "pid", handle.PID)

	if err := sleep(ctx, s.cfg.GracePeriod); err != nil {
		return Outcome{}, err
	}

	if !s.verify(ctx) {
		return Outcome{}, fmt.Errorf("%s process started but service is not responding", name)
	}
	return Outcome{
		State:   StateRunning,
		Message: fmt.Sprintf("%s started successfully", name),
		Started: true,
		Binary:  bin.Path,
		Origin:  bin.Origin,
	}, nil
}

func (s *Supervisor) verify(ctx context.Context) bool {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if s.Healthy(ctx) {
			return struct{}{}, nil
		}
		return struct{}{}, errNotResponding
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.GracePeriod)),
		backoff.WithMaxTries(s.cfg.VerifyTries),
	)
	return err == nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package app

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hearth-engine/hearth/internal/patch"
	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/hearth-engine/hearth/internal/shared/types"
)

// Runtime is the open extensibility point for hosted app logic. Apps
// run as cooperative call-outs: the kernel invokes Update once per
// frame and the app synchronously submits transactions through its
// handle. Only plain data crosses the boundary.
type Runtime interface {
	// Init is called at load and again on every supervisor restart.
	Init(ctx context.Context, handle *patch.Handle) error
	// Update runs the app's per-frame logic.
	Update(ctx context.Context, fc types.FrameContext, handle *patch.Handle) error
}

// Failure reports one app that misbehaved during a frame.
type Failure struct {
	AppID     id.AppID
	Namespace id.NamespaceID
	Panicked  bool
	Err       error
}

// RunFrame invokes every runtime-backed app's Update in namespace order.
// Panics are recovered and reported as failures; a failing app never
// takes down the frame. Apps behind an open breaker are skipped until
// their cooldown elapses.
func (m *Manager) RunFrame(ctx context.Context, fc types.FrameContext) []Failure {
	type callout struct {
		app     App
		runtime Runtime
	}

	m.mu.RLock()
	calls := make([]callout, 0, len(m.runtimes))
	for appID, rt := range m.runtimes {
		a := m.apps[appID]
		if a == nil || a.State != StateRunning {
			continue
		}
		calls = append(calls, callout{app: *a, runtime: rt})
	}
	m.mu.RUnlock()

	// Namespace order keeps frame execution deterministic.
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].app.Namespace < calls[j].app.Namespace
	})

	var failures []Failure
	for _, c := range calls {
		m.mu.RLock()
		breaker := m.breakers[c.app.ID]
		m.mu.RUnlock()

		if breaker != nil && breaker.Allow(fc.Frame) != nil {
			continue
		}

		err, panicked := m.invoke(ctx, c.runtime, fc, c.app.Namespace)
		if breaker != nil {
			breaker.Record(fc.Frame, err == nil)
		}
		if err != nil {
			m.log.Warn("app call-out failed",
				zap.String("app", c.app.Manifest.Name),
				zap.Uint64("frame", fc.Frame),
				zap.Bool("panicked", panicked),
				zap.Error(err))
			failures = append(failures, Failure{
				AppID:     c.app.ID,
				Namespace: c.app.Namespace,
				Panicked:  panicked,
				Err:       err,
			})
		}
	}
	return failures
}

// invoke runs one Update behind a recover barrier.
func (m *Manager) invoke(ctx context.Context, rt Runtime, fc types.FrameContext, ns id.NamespaceID) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("app panic: %v", r)
			panicked = true
		}
	}()
	return rt.Update(ctx, fc, m.bus.Register(ns)), false
}

// Restart re-initializes an app's runtime after a supervisor decision.
// The app keeps its namespace, grants, and quotas; only its runtime
// state is rebuilt.
func (m *Manager) Restart(ctx context.Context, appID id.AppID) error {
	m.mu.RLock()
	a, ok := m.apps[appID]
	rt := m.runtimes[appID]
	m.mu.RUnlock()

	if !ok {
		return ErrAppNotFound
	}

	if rt != nil {
		if err := m.reinit(ctx, rt, a.Namespace); err != nil {
			return err
		}
	}
	m.markRestarted(appID)
	return nil
}

func (m *Manager) reinit(ctx context.Context, rt Runtime, ns id.NamespaceID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("app panic during restart: %v", r)
		}
	}()
	return rt.Init(ctx, m.bus.Register(ns))
}

// RestartByNamespace restarts the app owning ns.
func (m *Manager) RestartByNamespace(ctx context.Context, ns id.NamespaceID) error {
	a, ok := m.FindByNamespace(ns)
	if !ok {
		return ErrAppNotFound
	}
	return m.Restart(ctx, a.ID)
}

// Package app manages the lifecycle of hosted apps: loading against a
// manifest, binding a namespace with capabilities and quotas, running
// frame call-outs, and tearing everything down on unload.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearth-engine/hearth/internal/capability"
	"github.com/hearth-engine/hearth/internal/infrastructure/resilience"
	"github.com/hearth-engine/hearth/internal/patch"
	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/hearth-engine/hearth/internal/supervise"
)

var (
	ErrTooManyApps = errors.New("app limit reached")
	ErrAppNotFound = errors.New("app not found")
)

// State represents app lifecycle states.
type State string

const (
	StateRunning   State = "running"
	StateDead      State = "dead"
	StateUnloading State = "unloading"
)

// App is one loaded app instance. Every app owns exactly one namespace.
type App struct {
	ID        id.AppID         `json:"id"`
	Manifest  Manifest         `json:"manifest"`
	Namespace id.NamespaceID   `json:"namespace"`
	Node      supervise.NodeID `json:"node"`
	State     State            `json:"state"`
	LoadedAt  time.Time        `json:"loaded_at"`
	Restarts  int              `json:"restarts"`
}

// Manager registers and unregisters apps, enforcing the app limit.
type Manager struct {
	mu          sync.RWMutex
	apps        map[id.AppID]*App
	byNamespace map[id.NamespaceID]id.AppID
	runtimes    map[id.AppID]Runtime
	breakers    map[id.AppID]*resilience.Breaker

	maxApps int
	nsIDs   *id.Sequence

	bus     *patch.Bus
	checker *capability.Checker
	tree    *supervise.Tree
	log     *zap.Logger
}

// NewManager wires the app manager to its collaborators.
func NewManager(maxApps int, bus *patch.Bus, checker *capability.Checker, tree *supervise.Tree, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		apps:        make(map[id.AppID]*App),
		byNamespace: make(map[id.NamespaceID]id.AppID),
		runtimes:    make(map[id.AppID]Runtime),
		breakers:    make(map[id.AppID]*resilience.Breaker),
		maxApps:     maxApps,
		nsIDs:       id.NewSequence(),
		bus:         bus,
		checker:     checker,
		tree:        tree,
		log:         log.Named("app"),
	}
}

// Load registers an app: allocates its namespace, binds capabilities
// and quotas from the manifest, registers a bus handle, and attaches a
// supervision node under the apps subtree. A non-nil runtime has Init
// invoked before Load returns; an Init failure unloads the app again.
// Runtime may be nil for declarative apps whose patches arrive from
// outside call-outs.
func (m *Manager) Load(manifest Manifest, runtime Runtime) (*App, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()

	if m.maxApps > 0 && len(m.apps) >= m.maxApps {
		m.mu.Unlock()
		return nil, ErrTooManyApps
	}

	ns := id.NamespaceID(m.nsIDs.Next())
	node, err := m.tree.AddChild(m.tree.AppsNode(), manifest.Name, supervise.OneForOne, manifest.MaxRestarts, ns)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	m.checker.Bind(ns, manifest.Quotas)
	m.checker.Grant(ns, manifest.Capabilities...)
	m.bus.Register(ns)

	a := &App{
		ID:        id.NewAppID(),
		Manifest:  manifest,
		Namespace: ns,
		Node:      node,
		State:     StateRunning,
		LoadedAt:  time.Now(),
	}
	m.apps[a.ID] = a
	m.byNamespace[ns] = a.ID
	if runtime != nil {
		m.runtimes[a.ID] = runtime
		m.breakers[a.ID] = resilience.New(manifest.Name, resilience.DefaultSettings())
	}

	m.log.Info("app loaded",
		zap.String("app", manifest.Name),
		zap.String("id", a.ID.String()),
		zap.Uint64("namespace", ns.Uint64()))

	cp := *a
	m.mu.Unlock()

	// Init runs outside the lock so a runtime may use its handle right
	// away. A failing or panicking Init unwinds the registration.
	if runtime != nil {
		if err := m.reinit(context.Background(), runtime, ns); err != nil {
			if _, uerr := m.Unload(cp.ID); uerr != nil {
				m.log.Warn("unload after failed init",
					zap.String("app", manifest.Name),
					zap.Error(uerr))
			}
			return nil, fmt.Errorf("init %s: %w", manifest.Name, err)
		}
	}
	return &cp, nil
}

// Unload removes an app and revokes its handle, grants, and supervision
// node. The caller (kernel gc) reclaims world entities and layers for
// the returned namespace.
func (m *Manager) Unload(appID id.AppID) (id.NamespaceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(appID)
}

func (m *Manager) unloadLocked(appID id.AppID) (id.NamespaceID, error) {
	a, ok := m.apps[appID]
	if !ok {
		return id.InvalidNamespace, ErrAppNotFound
	}

	m.bus.Unregister(a.Namespace)
	m.checker.Remove(a.Namespace)
	if err := m.tree.Remove(a.Node); err != nil && !errors.Is(err, supervise.ErrNodeNotFound) {
		m.log.Warn("supervisor node removal failed", zap.Error(err))
	}

	delete(m.apps, appID)
	delete(m.byNamespace, a.Namespace)
	delete(m.runtimes, appID)
	delete(m.breakers, appID)

	m.log.Info("app unloaded",
		zap.String("app", a.Manifest.Name),
		zap.Uint64("namespace", a.Namespace.Uint64()))
	return a.Namespace, nil
}

// UnloadNamespace removes the app owning ns. Used by gc when a
// supervisor gives up on a namespace.
func (m *Manager) UnloadNamespace(ns id.NamespaceID) (id.AppID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appID, ok := m.byNamespace[ns]
	if !ok {
		return "", ErrAppNotFound
	}
	_, err := m.unloadLocked(appID)
	return appID, err
}

// Get retrieves a copy of an app by ID.
func (m *Manager) Get(appID id.AppID) (App, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.apps[appID]
	if !ok {
		return App{}, false
	}
	return *a, true
}

// FindByNamespace retrieves a copy of the app owning ns.
func (m *Manager) FindByNamespace(ns id.NamespaceID) (App, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	appID, ok := m.byNamespace[ns]
	if !ok {
		return App{}, false
	}
	return *m.apps[appID], true
}

// List returns copies of all apps ordered by namespace.
func (m *Manager) List() []App {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]App, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}

// Count returns the number of loaded apps.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.apps)
}

// Handle returns the bus handle for an app's namespace.
func (m *Manager) Handle(appID id.AppID) (*patch.Handle, bool) {
	m.mu.RLock()
	a, ok := m.apps[appID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.bus.Register(a.Namespace), true
}

// NamespaceCursor returns the highest namespace ID allocated so far.
func (m *Manager) NamespaceCursor() uint64 {
	return m.nsIDs.Current()
}

// RewindNamespaces advances the namespace allocator past n on
// rehydration.
func (m *Manager) RewindNamespaces(n uint64) {
	m.nsIDs.Rewind(n)
}

// markRestarted bumps the app's restart counter after a supervisor
// restart has been executed.
func (m *Manager) markRestarted(appID id.AppID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.apps[appID]; ok {
		a.Restarts++
		a.State = StateRunning
	}
}

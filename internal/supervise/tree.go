// Package supervise contains failures to the smallest possible scope.
//
// Supervision is a tree of nodes carrying a restart strategy and a
// bounded restart budget. Nodes reference each other by ID in an arena,
// never by pointer, so namespace ownership stays cycle-free. Restarts
// are decided here and executed synchronously by the kernel at frame
// boundaries.
package supervise

import (
	"errors"
	"sync"

	"github.com/hearth-engine/hearth/internal/shared/id"
)

var (
	ErrNodeNotFound   = errors.New("supervisor node not found")
	ErrParentNotFound = errors.New("parent supervisor node not found")
)

// NodeID identifies a supervision node within one tree.
type NodeID uint64

// RestartStrategy is the policy applied when a child fails.
type RestartStrategy string

const (
	// OneForOne restarts only the failed child.
	OneForOne RestartStrategy = "one_for_one"
	// OneForAll restarts all siblings when one fails.
	OneForAll RestartStrategy = "one_for_all"
	// RestForOne restarts the failed child and every child started
	// after it.
	RestForOne RestartStrategy = "rest_for_one"
)

// Node is one supervision point. Namespace is zero for structural nodes.
type Node struct {
	ID          NodeID          `json:"id"`
	Name        string          `json:"name"`
	Parent      NodeID          `json:"parent"`
	Children    []NodeID        `json:"children"` // in start order
	Strategy    RestartStrategy `json:"strategy"`
	MaxRestarts int             `json:"max_restarts"`
	Restarts    int             `json:"restarts"`
	Dead        bool            `json:"dead"`
	Namespace   id.NamespaceID  `json:"namespace,omitempty"`
}

// Plan is the outcome of reporting a failure: nodes to restart now and
// nodes whose budget is exhausted, to be reclaimed by gc.
type Plan struct {
	Restart []NodeID
	GaveUp  []NodeID
}

// Tree is the supervision hierarchy rooted at the kernel.
// It is never empty: construction installs the root and a dedicated
// "apps" subtree.
type Tree struct {
	mu      sync.RWMutex
	nodes   map[NodeID]*Node
	root    NodeID
	apps    NodeID
	nodeIDs *id.Sequence
}

// NewTree builds a tree with a root node and an "apps" subtree.
func NewTree() *Tree {
	t := &Tree{
		nodes:   make(map[NodeID]*Node),
		nodeIDs: id.NewSequence(),
	}
	t.root = t.insert("root", 0, OneForOne, 0, id.InvalidNamespace)
	t.apps = t.insert("apps", t.root, OneForOne, 0, id.InvalidNamespace)
	return t
}

// Root returns the root node ID.
func (t *Tree) Root() NodeID {
	return t.root
}

// AppsNode returns the ID of the dedicated apps subtree.
func (t *Tree) AppsNode() NodeID {
	return t.apps
}

// AddChild attaches a new supervision node under parent.
func (t *Tree) AddChild(parent NodeID, name string, strategy RestartStrategy, maxRestarts int, ns id.NamespaceID) (NodeID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[parent]; !ok {
		return 0, ErrParentNotFound
	}
	return t.insert(name, parent, strategy, maxRestarts, ns), nil
}

// insert allocates a node and links it to its parent. Caller holds the
// lock (or is the constructor).
func (t *Tree) insert(name string, parent NodeID, strategy RestartStrategy, maxRestarts int, ns id.NamespaceID) NodeID {
	nid := NodeID(t.nodeIDs.Next())
	t.nodes[nid] = &Node{
		ID:          nid,
		Name:        name,
		Parent:      parent,
		Strategy:    strategy,
		MaxRestarts: maxRestarts,
		Namespace:   ns,
	}
	if p, ok := t.nodes[parent]; ok {
		p.Children = append(p.Children, nid)
	}
	return nid
}

// Remove detaches a node (and its subtree) from the tree.
func (t *Tree) Remove(nid NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[nid]
	if !ok {
		return ErrNodeNotFound
	}
	if nid == t.root || nid == t.apps {
		// Structural nodes are permanent; the tree is never emptied.
		return nil
	}

	if p, ok := t.nodes[n.Parent]; ok {
		for i, c := range p.Children {
			if c == nid {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
	}
	t.removeSubtree(nid)
	return nil
}

func (t *Tree) removeSubtree(nid NodeID) {
	n, ok := t.nodes[nid]
	if !ok {
		return
	}
	for _, c := range n.Children {
		t.removeSubtree(c)
	}
	delete(t.nodes, nid)
}

// ReportFailure applies the parent's restart strategy to a failed node
// and returns the resulting plan. Every restarted node's counter is
// incremented; nodes past their budget are marked dead and reported in
// GaveUp instead of being retried.
func (t *Tree) ReportFailure(failed NodeID) (Plan, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[failed]
	if !ok {
		return Plan{}, ErrNodeNotFound
	}
	if n.Dead {
		return Plan{GaveUp: []NodeID{failed}}, nil
	}

	parent, ok := t.nodes[n.Parent]
	if !ok {
		// Root failure: restart just the root.
		return t.restartSet([]NodeID{failed}), nil
	}

	var victims []NodeID
	switch parent.Strategy {
	case OneForAll:
		victims = append(victims, parent.Children...)
	case RestForOne:
		started := false
		for _, c := range parent.Children {
			if c == failed {
				started = true
			}
			if started {
				victims = append(victims, c)
			}
		}
	default: // OneForOne
		victims = []NodeID{failed}
	}

	return t.restartSet(victims), nil
}

// restartSet increments counters and partitions victims into restart
// and give-up sets. Caller holds the lock.
func (t *Tree) restartSet(victims []NodeID) Plan {
	var plan Plan
	for _, v := range victims {
		n, ok := t.nodes[v]
		if !ok || n.Dead {
			continue
		}
		n.Restarts++
		if n.MaxRestarts > 0 && n.Restarts > n.MaxRestarts {
			n.Dead = true
			plan.GaveUp = append(plan.GaveUp, v)
			continue
		}
		plan.Restart = append(plan.Restart, v)
	}
	return plan
}

// Get returns a copy of a node.
func (t *Tree) Get(nid NodeID) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[nid]
	if !ok {
		return Node{}, false
	}
	cp := *n
	cp.Children = append([]NodeID(nil), n.Children...)
	return cp, true
}

// FindByNamespace locates the supervision node owning a namespace.
func (t *Tree) FindByNamespace(ns id.NamespaceID) (NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for nid, n := range t.nodes {
		if n.Namespace == ns && ns != id.InvalidNamespace {
			return nid, true
		}
	}
	return 0, false
}

// DeadNamespaces returns namespaces whose supervisors gave up, for gc.
func (t *Tree) DeadNamespaces() []id.NamespaceID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []id.NamespaceID
	for _, n := range t.nodes {
		if n.Dead && n.Namespace != id.InvalidNamespace {
			out = append(out, n.Namespace)
		}
	}
	return out
}

// Recoverable reports whether any namespace-bearing node still has
// restart budget left.
func (t *Tree) Recoverable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, n := range t.nodes {
		if n.Namespace != id.InvalidNamespace && !n.Dead {
			return true
		}
	}
	return false
}

// Size returns the number of nodes in the tree.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Package skill is the execution boundary between the mission executor and
// the robot. The executor never moves anything itself: it hands each edge to
// a Skill and only looks at the returned error.
package skill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/topo-nav/pkg/types"
)

var (
	// ErrNoSkill means no skill is registered for an edge's skill kind.
	ErrNoSkill = errors.New("no skill registered")
	// ErrTraversalTimeout is reported when a traversal outlives its timeout.
	ErrTraversalTimeout = errors.New("traversal timed out")
)

// Skill executes one edge traversal. A nil error means the robot now stands
// at edge.To; any error is a traversal failure.
type Skill interface {
	Traverse(ctx context.Context, edge types.Edge) error
}

// Func adapts a function to Skill.
type Func func(ctx context.Context, edge types.Edge) error

func (f Func) Traverse(ctx context.Context, edge types.Edge) error {
	return f(ctx, edge)
}

// Cleaner runs the cleaning routine of a zone on arrival.
type Cleaner interface {
	Clean(ctx context.Context, zoneID, mode string) error
}

// CleanerFunc adapts a function to Cleaner.
type CleanerFunc func(ctx context.Context, zoneID, mode string) error

func (f CleanerFunc) Clean(ctx context.Context, zoneID, mode string) error {
	return f(ctx, zoneID, mode)
}

// Registry dispatches traversals by the edge's skill kind. It is itself a Skill.
type Registry struct {
	mu     sync.RWMutex
	skills map[types.SkillKind]Skill
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[types.SkillKind]Skill)}
}

// Register binds kind to s, replacing any earlier binding.
func (r *Registry) Register(kind types.SkillKind, s Skill) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown skill kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[kind] = s
	return nil
}

// RegisterAll binds every known skill kind to s.
func (r *Registry) RegisterAll(s Skill) {
	for _, kind := range types.SkillKinds() {
		_ = r.Register(kind, s) // every listed kind is valid
	}
}

// Lookup returns the skill for kind.
func (r *Registry) Lookup(kind types.SkillKind) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.skills[kind]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w for %q", ErrNoSkill, kind)
}

// Kinds lists the explicitly registered kinds, sorted.
func (r *Registry) Kinds() []types.SkillKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.SkillKind, 0, len(r.skills))
	for k := range r.skills {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Traverse runs the skill bound to edge.Skill.
func (r *Registry) Traverse(ctx context.Context, edge types.Edge) error {
	s, err := r.Lookup(edge.Skill)
	if err != nil {
		return err
	}
	return s.Traverse(ctx, edge)
}

// Runner executes one traversal bounded by timeout (0 = none). Dispatcher
// and Inline implement it.
type Runner interface {
	Execute(ctx context.Context, edge types.Edge, timeout time.Duration) error
}

// Inline runs the skill on the caller's goroutine, with the same timeout and
// panic handling as a Dispatcher worker.
type Inline struct {
	Skill Skill
}

// Execute implements Runner.
func (i Inline) Execute(_ context.Context, edge types.Edge, timeout time.Duration) error {
	return traverseWithTimeout(i.Skill, edge, timeout)
}

// traverseWithTimeout runs s and reports ErrTraversalTimeout if it has not
// returned within timeout. A skill that ignores its context keeps running in
// the background; its late result is discarded.
func traverseWithTimeout(s Skill, edge types.Edge, timeout time.Duration) (err error) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("skill panicked: %v", r)
			}
		}()
		done <- s.Traverse(ctx, edge)
	}()

	select {
	case err = <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %v", ErrTraversalTimeout, edge.Key(), timeout)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s after %v", ErrTraversalTimeout, edge.Key(), timeout)
	}
}

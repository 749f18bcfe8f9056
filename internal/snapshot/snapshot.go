package snapshot

// ============================================================================
// Responsibilities:
// 1. Serialize a graph (penalties included) to a JSON snapshot file
// 2. Write atomically (temp file + rename) so a crash never leaves a torn file
// 3. Verify the schema version on load
// 4. Carry penalty state across missions when persistence is enabled
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/pkg/types"
)

// SchemaVersion is the snapshot format written by this package.
const SchemaVersion = 1

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
	ErrSnapshotNotFound    = errors.New("snapshot file not found")
)

// Manager reads and writes one snapshot file.
type Manager struct {
	path string
	mu   sync.Mutex // serializes file operations
}

// NewManager returns a manager for the snapshot at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write atomically replaces the snapshot with data.
//
// Steps:
//  1. write <path>.tmp
//  2. rename it over <path>
//
// Returns the snapshot as written.
func (m *Manager) Write(data types.GraphData) (types.GraphSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := types.GraphSnapshot{
		Graph:     data,
		SchemaVer: SchemaVersion,
		TakenAt:   time.Now().UnixMilli(),
	}

	jsonBytes, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return snap, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return snap, fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonBytes, 0644); err != nil {
		return snap, fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return snap, fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return snap, nil
}

// Load reads and verifies the snapshot.
//
// Errors:
//   - ErrSnapshotNotFound if the file does not exist
//   - ErrCorruptedSnapshot if it does not decode
//   - ErrIncompatibleVersion if the schema version differs
func (m *Manager) Load() (types.GraphSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snap types.GraphSnapshot
	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, fmt.Errorf("%w: %s", ErrSnapshotNotFound, m.path)
		}
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &snap); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if snap.SchemaVer != SchemaVersion {
		return snap, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, snap.SchemaVer, SchemaVersion)
	}
	return snap, nil
}

// Exists reports whether the snapshot file exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the snapshot file path.
func (m *Manager) Path() string {
	return m.path
}

// ============================================================================
// Penalty persistence
// ============================================================================

// SaveStore snapshots the store's graph and penalties.
func (m *Manager) SaveStore(store *graph.Store) error {
	_, err := m.Write(store.Snapshot())
	return err
}

// RestoreStore applies the penalties of the snapshot to store. A missing
// snapshot is not an error and leaves the store unchanged. Penalties of
// edges the store does not have are skipped with a warning so that an
// edited graph file does not block startup.
//
// Returns the number of penalties restored.
func (m *Manager) RestoreStore(store *graph.Store) (int, error) {
	snap, err := m.Load()
	if errors.Is(err, ErrSnapshotNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	penalties := Penalties(snap.Graph)
	for key := range penalties {
		if _, err := store.Edge(key.From, key.To); err != nil {
			slog.Default().Warn("dropping penalty for unknown edge", "edge", key.String(), "snapshot", m.path)
			delete(penalties, key)
		}
	}
	if err := store.RestorePenalties(penalties); err != nil {
		return 0, fmt.Errorf("failed to restore penalties: %w", err)
	}
	return len(penalties), nil
}

// Penalties extracts the non-zero penalties of a graph.
func Penalties(data types.GraphData) map[types.EdgeKey]float64 {
	out := make(map[types.EdgeKey]float64)
	for _, e := range data.Edges {
		if e.FailurePenalty > 0 {
			out[e.Key()] = e.FailurePenalty
		}
	}
	return out
}

// PenalizedEdges returns the keys of penalized edges, sorted.
func PenalizedEdges(data types.GraphData) []types.EdgeKey {
	keys := make([]types.EdgeKey, 0)
	for key := range Penalties(data) {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].From != keys[j].From {
			return keys[i].From < keys[j].From
		}
		return keys[i].To < keys[j].To
	})
	return keys
}

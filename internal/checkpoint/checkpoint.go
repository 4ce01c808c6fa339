package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/util"
)

var (
	// ErrNoCheckpoint is returned when no state exists for a graph.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// StageRecord is the persisted state of one stage of one graph.
type StageRecord struct {
	Graph     string    `json:"graph"`
	Stage     string    `json:"stage"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists stage completion state between runs.
type Store interface {
	// Load returns the recorded stages of a graph keyed by stage name.
	// A graph with no state yields ErrNoCheckpoint.
	Load(ctx context.Context, graphID string) (map[string]StageRecord, error)

	// Save records the state of one stage.
	Save(ctx context.Context, rec StageRecord) error
}

// Config configures the state store.
type Config struct {
	Enabled bool
	Dir     string // Directory for state files
}

// NewStore creates a state store based on configuration.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &noopStore{}, nil
	}

	if err := util.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileStore{dir: cfg.Dir}, nil
}

// graphFile is the on-disk form of one graph's state.
type graphFile struct {
	Graph  string                 `json:"graph"`
	Stages map[string]StageRecord `json:"stages"`
}

// fileStore keeps one JSON file per graph.
type fileStore struct {
	dir string
	mu  sync.Mutex
}

func (s *fileStore) graphPath(graphID string) string {
	return filepath.Join(s.dir, "graph_"+util.SafeName(graphID)+".json")
}

func (s *fileStore) Load(ctx context.Context, graphID string) (map[string]StageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gf, err := s.read(graphID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]StageRecord, len(gf.Stages))
	for k, v := range gf.Stages {
		out[k] = v
	}
	return out, nil
}

func (s *fileStore) read(graphID string) (*graphFile, error) {
	data, err := os.ReadFile(s.graphPath(graphID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var gf graphFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	if gf.Graph != graphID {
		// Sanitized names collided; treat as absent rather than trust foreign state.
		return nil, ErrNoCheckpoint
	}
	return &gf, nil
}

func (s *fileStore) Save(ctx context.Context, rec StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gf, err := s.read(rec.Graph)
	if errors.Is(err, ErrNoCheckpoint) {
		gf = &graphFile{Graph: rec.Graph}
	} else if err != nil {
		return err
	}
	if gf.Stages == nil {
		gf.Stages = make(map[string]StageRecord)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	gf.Stages[rec.Stage] = rec

	data, err := json.MarshalIndent(gf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	path := s.graphPath(rec.Graph)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopStore is used when checkpointing is disabled.
type noopStore struct{}

func (s *noopStore) Load(ctx context.Context, graphID string) (map[string]StageRecord, error) {
	return nil, ErrNoCheckpoint
}

func (s *noopStore) Save(ctx context.Context, rec StageRecord) error {
	return nil
}

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/util"
)

// ErrNoChainHead is returned for a chain no event has been linked into yet.
var ErrNoChainHead = errors.New("no chain head found")

const headsFile = "chain-heads.json"

// ComputeEventHash returns "sha256:<hex>" over the event's JSON encoding
// with Chain.EventHash blanked. Struct field order makes the encoding stable.
func ComputeEventHash(evt *Event) string {
	unhashed := *evt
	unhashed.Chain.EventHash = ""

	data, err := json.Marshal(unhashed)
	if err != nil {
		return ""
	}
	return util.ComputeChecksum(data)
}

// chainHead is the persisted tip of one chain.
type chainHead struct {
	EventHash string    `json:"event_hash"`
	Length    int64     `json:"length"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainTracker remembers the last event hash of every chain in a JSON file
// so chains continue across runs.
type ChainTracker struct {
	mu    sync.Mutex
	path  string
	heads map[string]chainHead
}

func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create chain dir %s: %w", dir, err)
	}

	t := &ChainTracker{
		path:  filepath.Join(dir, headsFile),
		heads: make(map[string]chainHead),
	}

	data, err := os.ReadFile(t.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &t.heads); err != nil {
			return nil, fmt.Errorf("decode chain heads %s: %w", t.path, err)
		}
	}
	return t, nil
}

// GetHead returns the hash of the last event linked into chainKey.
func (t *ChainTracker) GetHead(chainKey string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.heads[chainKey]
	if !ok || h.EventHash == "" {
		return "", ErrNoChainHead
	}
	return h.EventHash, nil
}

// SetHead advances chainKey to eventHash and persists every head.
func (t *ChainTracker) SetHead(chainKey, eventHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.heads[chainKey]
	t.heads[chainKey] = chainHead{
		EventHash: eventHash,
		Length:    prev.Length + 1,
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(t.heads, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chain heads: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write chain heads: %w", err)
	}
	return os.Rename(tmp, t.path)
}

// GenerateEventID returns a new random event ID.
func GenerateEventID() string {
	return "evt_" + uuid.NewString()
}

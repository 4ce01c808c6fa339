package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/util"
)

// FileBackup keeps a local copy of every event as <dir>/events/<event_id>.json.
type FileBackup struct {
	dir string
}

func NewFileBackup(dir string) (*FileBackup, error) {
	events := filepath.Join(dir, "events")
	if err := util.EnsureDir(events); err != nil {
		return nil, fmt.Errorf("create events dir %s: %w", events, err)
	}
	return &FileBackup{dir: events}, nil
}

// Save writes evt, replacing any earlier copy with the same ID.
func (f *FileBackup) Save(evt *Event) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.EventID, err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, evt.EventID+".json"), data, 0644); err != nil {
		return fmt.Errorf("write event %s: %w", evt.EventID, err)
	}
	return nil
}

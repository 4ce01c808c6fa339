// Package audit emits a tamper-evident, hash-chained event for every
// published output object.
package audit

import (
	"time"
)

const (
	EventVersion = "1.0"
	EventType    = "mt_bam_published"
)

// Event records one published output.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Output   OutputInfo   `json:"output"`
	Producer ProducerInfo `json:"producer"`
	Chain    ChainInfo    `json:"chain"`
}

// OutputInfo identifies the published object and what it was derived from.
type OutputInfo struct {
	RunID     string `json:"run_id"`
	SourceURI string `json:"source_uri"`
	OutputURI string `json:"output_uri"`
	Region    string `json:"region"`
	Checksum  string `json:"checksum"`
	ByteSize  int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo provides hash chaining for tamper-evident audit log.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// SetChainHashes links the event to prevHash and computes its own hash.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}

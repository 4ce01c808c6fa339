package copier

import (
	"context"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/audit"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/metadata"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/workset"
)

// Stage names of every work item graph.
const (
	StageDownload  = "download_blob"
	StageTransform = "bam_to_mitochondrial_bam"
	StageUpload    = "upload_blob"
)

// Extractor filters a local BAM file down to mitochondrial reads.
type Extractor interface {
	Extract(ctx context.Context, in, out string) error
}

// Options scope a copier run.
type Options struct {
	// Scope selects the cells and the key prefix they live under.
	Scope workset.Scope

	// FileSuffix selects source objects by the end of their final path segment.
	FileSuffix string

	// Region is the reference region kept by the extractor. It is recorded
	// with every published output.
	Region string

	// Catalog and Audit are told about every published output. Failures
	// there are logged and never fail the item. Nil means disabled.
	Catalog metadata.Writer
	Audit   audit.Emitter
}

// Plan is the work a run would do.
type Plan struct {
	// Candidates is the number of source objects matching the suffix.
	Candidates int `yaml:"candidates"`

	// AlreadyDone is the number of candidates whose output already exists.
	AlreadyDone int `yaml:"already_done"`

	Items []workset.WorkItem `yaml:"items"`
}

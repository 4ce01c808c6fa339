// Package transform extracts mitochondrial reads from BAM files with samtools.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrMalformedInput is returned when the input is not a BAM file.
	ErrMalformedInput = errors.New("malformed BAM input")
)

// bamMagic opens the decompressed payload of every BAM file.
var bamMagic = []byte("BAM\x01")

// maxStderr caps how much tool output is kept on a ToolError.
const maxStderr = 2048

// Config configures the samtools wrapper.
type Config struct {
	Path        string // samtools executable; "samtools" when empty
	Region      string // region passed to samtools view; "MT" when empty
	VerifyInput bool   // check the BAM magic before invoking samtools
}

// Samtools runs samtools to keep only reads aligned to one region.
type Samtools struct {
	path   string
	region string
	verify bool
}

// New creates a samtools wrapper.
func New(cfg Config) *Samtools {
	if cfg.Path == "" {
		cfg.Path = "samtools"
	}
	if cfg.Region == "" {
		cfg.Region = "MT"
	}
	return &Samtools{
		path:   cfg.Path,
		region: cfg.Region,
		verify: cfg.VerifyInput,
	}
}

// Region returns the region reads are filtered to.
func (s *Samtools) Region() string {
	return s.region
}

// Extract writes the reads of in that align to the configured region into out.
//
// samtools needs an index to query by region, so one is built next to in and
// removed before returning, whatever the outcome. On failure out is removed.
func (s *Samtools) Extract(ctx context.Context, in, out string) error {
	if s.verify {
		if err := VerifyBAM(in); err != nil {
			return err
		}
	}

	defer os.Remove(IndexPath(in))

	if err := s.run(ctx, "index", in); err != nil {
		return fmt.Errorf("index %s: %w", in, err)
	}

	if err := s.run(ctx, "view", "-b", "-o", out, in, s.region); err != nil {
		os.Remove(out)
		return fmt.Errorf("extract %s from %s: %w", s.region, in, err)
	}

	return nil
}

// IndexPath is where samtools index writes the index for a BAM file.
func IndexPath(bam string) string {
	return bam + ".bai"
}

func (s *Samtools) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, s.path, args...)

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%s %s: %w", s.path, args[0], ctxErr)
			}
			return &ToolError{
				Args:     append([]string{s.path}, args...),
				ExitCode: exitErr.ExitCode(),
				Stderr:   tail(stderr.String(), maxStderr),
			}
		}
		return fmt.Errorf("run %s: %w", s.path, err)
	}
	return nil
}

// ToolError reports a non-zero exit from samtools.
type ToolError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// VerifyBAM checks that path is a BGZF stream whose payload starts with the
// BAM magic.
func VerifyBAM(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: not a BGZF stream: %v", ErrMalformedInput, path, err)
	}
	defer zr.Close()

	magic := make([]byte, len(bamMagic))
	if _, err := io.ReadFull(zr, magic); err != nil {
		return fmt.Errorf("%w: %s: short payload: %v", ErrMalformedInput, path, err)
	}
	if !bytes.Equal(magic, bamMagic) {
		return fmt.Errorf("%w: %s: bad magic %q", ErrMalformedInput, path, magic)
	}
	return nil
}

// Package workset computes the set of source objects that still need to be
// processed: it lists the per-cell prefixes of a container and diffs the
// source listing against the destination using derived output names.
package workset

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/storage"
)

// WorkItem is one source object paired with the key it will be published under.
type WorkItem struct {
	SourceKey string `yaml:"source_key"`
	OutputKey string `yaml:"output_key"`
}

// Lister is the slice of a storage container the resolver needs.
type Lister interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// Scope names the cells to enumerate and the key prefix they live under.
type Scope struct {
	Prefix string
	Cells  []string
}

// Prefixes returns one listing prefix per cell, "prefix/cell".
// Cells are expected to be disjoint; no deduplication happens here.
func (s Scope) Prefixes() []string {
	out := make([]string, 0, len(s.Cells))
	base := strings.TrimSuffix(s.Prefix, "/")
	for _, cell := range s.Cells {
		if base == "" {
			out = append(out, cell)
			continue
		}
		out = append(out, base+"/"+cell)
	}
	return out
}

// Resolve lists every key under the scope's cell prefixes whose final path
// segment ends in suffix. An empty suffix keeps every key.
//
// Any listing error aborts the whole resolution: work computed from a partial
// listing is not valid.
func Resolve(ctx context.Context, l Lister, scope Scope, suffix string) ([]string, error) {
	var keys []string
	for _, prefix := range scope.Prefixes() {
		objs, err := l.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list prefix %q: %w", prefix, err)
		}
		for _, obj := range objs {
			if suffix != "" && !strings.HasSuffix(lastSegment(obj.Key), suffix) {
				continue
			}
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// Pending returns the work items for every source key whose derived output key
// is absent from existing. The result is sorted by source key, so the same
// inputs always yield the same slice.
//
// Every source key is validated before anything is filtered; if any key cannot
// be derived, the returned error lists all of them and no items are returned.
func Pending(sourceKeys, existing []string) ([]WorkItem, error) {
	var errs *multierror.Error
	items := make([]WorkItem, 0, len(sourceKeys))
	for _, key := range sourceKeys {
		out, err := Derive(key)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		items = append(items, WorkItem{SourceKey: key, OutputKey: out})
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("validate source keys: %w", err)
	}

	done := make(map[string]struct{}, len(existing))
	for _, key := range existing {
		done[key] = struct{}{}
	}

	pending := items[:0]
	for _, item := range items {
		if _, ok := done[item.OutputKey]; ok {
			continue
		}
		pending = append(pending, item)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].SourceKey < pending[j].SourceKey
	})
	return pending, nil
}

func lastSegment(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

package workset

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/storage"
)

// mockLister serves a fixed key set and records the prefixes it was asked for.
type mockLister struct {
	mu       sync.Mutex
	keys     []string
	failOn   string
	prefixes []string
}

func (m *mockLister) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes = append(m.prefixes, prefix)
	if m.failOn != "" && prefix == m.failOn {
		return nil, errors.New("403 forbidden")
	}
	var out []storage.ObjectInfo
	for _, k := range m.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k})
		}
	}
	return out, nil
}

func TestScopePrefixes(t *testing.T) {
	tests := []struct {
		scope Scope
		want  []string
	}{
		{Scope{Prefix: "chips", Cells: []string{"A", "B"}}, []string{"chips/A", "chips/B"}},
		{Scope{Prefix: "chips/", Cells: []string{"A"}}, []string{"chips/A"}},
		{Scope{Prefix: "", Cells: []string{"A"}}, []string{"A"}},
		{Scope{Prefix: "chips"}, []string{}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tt.scope.Prefixes()); diff != "" {
			t.Errorf("Prefixes(%+v) mismatch (-want +got):\n%s", tt.scope, diff)
		}
	}
}

func TestResolveFiltersBySuffix(t *testing.T) {
	l := &mockLister{keys: []string{
		"chips/cellA/1.bam",
		"chips/cellA/1.bam.bai",
		"chips/cellA/notes.txt",
		"chips/cellA/sub/2.bam",
		"chips/cellB/3.bam",
		"chips/cellC/4.bam",
		"chips/cellA.bam/readme",
	}}

	got, err := Resolve(context.Background(), l, Scope{Prefix: "chips", Cells: []string{"cellA", "cellB"}}, ".bam")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	sort.Strings(got)

	want := []string{"chips/cellA/1.bam", "chips/cellA/sub/2.bam", "chips/cellB/3.bam"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveListingFailureIsFatal(t *testing.T) {
	l := &mockLister{
		keys:   []string{"p/cellA/1.bam", "p/cellB/2.bam"},
		failOn: "p/cellB",
	}

	keys, err := Resolve(context.Background(), l, Scope{Prefix: "p", Cells: []string{"cellA", "cellB"}}, ".bam")
	if err == nil {
		t.Fatal("expected listing error")
	}
	if keys != nil {
		t.Errorf("expected no partial result, got %v", keys)
	}
}

func TestPendingScenario(t *testing.T) {
	got, err := Pending(
		[]string{"cellA/1.bam", "cellA/2.bam"},
		[]string{"cellA/1_MT.bam"},
	)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}

	want := []WorkItem{{SourceKey: "cellA/2.bam", OutputKey: "cellA/2_MT.bam"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
}

func TestPendingComparesDerivedNames(t *testing.T) {
	// A destination copy under the raw source name does not count as done.
	got, err := Pending([]string{"c/1.bam"}, []string{"c/1.bam"})
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 pending item, got %v", got)
	}
}

func TestPendingIsIdempotent(t *testing.T) {
	source := []string{"c/3.bam", "c/1.bam", "c/2.bam", "d/9.bam"}
	dest := []string{"c/2_MT.bam", "d/unrelated.txt"}

	first, err := Pending(source, dest)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	second, err := Pending(source, dest)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second pass differs (-first +second):\n%s", diff)
	}

	var keys []string
	for _, it := range first {
		keys = append(keys, it.SourceKey)
	}
	if diff := cmp.Diff([]string{"c/1.bam", "c/3.bam", "d/9.bam"}, keys); diff != "" {
		t.Errorf("pending keys mismatch (-want +got):\n%s", diff)
	}
}

func TestPendingRejectsUnderivableKeys(t *testing.T) {
	items, err := Pending([]string{"c/1.bam", "c/2.cram", "c/.bam"}, nil)
	if !errors.Is(err, ErrUnderivableKey) {
		t.Fatalf("err = %v, want ErrUnderivableKey", err)
	}
	if items != nil {
		t.Errorf("expected no items on validation failure, got %v", items)
	}
	if !strings.Contains(err.Error(), "c/2.cram") || !strings.Contains(err.Error(), "c/.bam") {
		t.Errorf("error should name every invalid key: %v", err)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/checkpoint"
)

// threeStage builds a download -> transform -> upload graph whose actions
// pass data through the temp directory. fail names a stage that returns an
// error; published collects uploaded content.
func threeStage(t *testing.T, id, fail string, published *sync.Map) *Graph {
	t.Helper()

	failIf := func(stage string) error {
		if stage == fail {
			return fmt.Errorf("%s exploded", stage)
		}
		return nil
	}

	g, err := NewGraph(id,
		Step{
			Name:    "download",
			Outputs: []string{"in"},
			Action: func(ctx context.Context, a Artifacts) error {
				if err := failIf("download"); err != nil {
					return err
				}
				return os.WriteFile(a.Output("in"), []byte(id), 0644)
			},
		},
		Step{
			Name:    "transform",
			Inputs:  []string{"in"},
			Outputs: []string{"out"},
			Action: func(ctx context.Context, a Artifacts) error {
				if err := failIf("transform"); err != nil {
					return err
				}
				data, err := os.ReadFile(a.Input("in"))
				if err != nil {
					return err
				}
				return os.WriteFile(a.Output("out"), append(data, "_MT"...), 0644)
			},
		},
		Step{
			Name:   "upload",
			Inputs: []string{"out"},
			Action: func(ctx context.Context, a Artifacts) error {
				if err := failIf("upload"); err != nil {
					return err
				}
				data, err := os.ReadFile(a.Input("out"))
				if err != nil {
					return err
				}
				published.Store(id, string(data))
				return nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	return g
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("temp root not empty: %v", names)
	}
}

func TestRunAllSucceed(t *testing.T) {
	tmp := t.TempDir()
	eng := New(Options{Parallelism: 2, TempDir: tmp}, nil)

	var published sync.Map
	graphs := []*Graph{
		threeStage(t, "A1/r1.bam", "", &published),
		threeStage(t, "A1/r2.bam", "", &published),
		threeStage(t, "A2/r1.bam", "", &published),
	}

	res, err := eng.Run(context.Background(), graphs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Succeeded()) != 3 || len(res.Failed()) != 0 {
		t.Fatalf("succeeded=%v failed=%d", res.Succeeded(), len(res.Failed()))
	}
	for i, g := range res.Graphs {
		if g.ID != graphs[i].ID {
			t.Errorf("result %d is %q, want submission order", i, g.ID)
		}
		for _, s := range g.Stages {
			if s.State != StageCompleted || s.Attempts != 1 {
				t.Errorf("%s/%s: state=%s attempts=%d", g.ID, s.Name, s.State, s.Attempts)
			}
		}
	}

	v, _ := published.Load("A1/r2.bam")
	if v != "A1/r2.bam_MT" {
		t.Errorf("published = %v", v)
	}

	assertEmptyDir(t, tmp)
}

func TestRunFailureIsolation(t *testing.T) {
	tmp := t.TempDir()
	eng := New(Options{Parallelism: 4, TempDir: tmp}, nil)

	var published sync.Map
	graphs := []*Graph{
		threeStage(t, "good-1.bam", "", &published),
		threeStage(t, "bad-download.bam", "download", &published),
		threeStage(t, "bad-transform.bam", "transform", &published),
		threeStage(t, "good-2.bam", "", &published),
	}

	res, err := eng.Run(context.Background(), graphs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := len(res.Succeeded()); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}

	byID := map[string]GraphResult{}
	for _, g := range res.Graphs {
		byID[g.ID] = g
	}

	dl := byID["bad-download.bam"]
	if fs := dl.FailedStage(); fs == nil || fs.Name != "download" {
		t.Errorf("failed stage = %+v, want download", fs)
	}
	if dl.Stages[1].State != StageSkipped || dl.Stages[2].State != StageSkipped {
		t.Errorf("dependents of failed download should be skipped: %+v", dl.Stages)
	}

	tr := byID["bad-transform.bam"]
	if tr.Stages[0].State != StageCompleted || tr.Stages[1].State != StageFailed || tr.Stages[2].State != StageSkipped {
		t.Errorf("unexpected stage states: %+v", tr.Stages)
	}
	if tr.Err == nil {
		t.Error("graph error should be set")
	}

	if _, ok := published.Load("bad-transform.bam"); ok {
		t.Error("failed graph must not publish")
	}
	if _, ok := published.Load("good-2.bam"); !ok {
		t.Error("sibling graph should publish")
	}

	assertEmptyDir(t, tmp)
}

func TestRunRetries(t *testing.T) {
	eng := New(Options{Parallelism: 1, TempDir: t.TempDir(), RetryAttempts: 3, RetryBackoff: time.Millisecond}, nil)

	var calls int32
	g, err := NewGraph("flaky", Step{
		Name: "fetch",
		Action: func(ctx context.Context, a Artifacts) error {
			if atomic.AddInt32(&calls, 1) < 2 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := eng.Run(context.Background(), []*Graph{g})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s := res.Graphs[0].Stages[0]
	if s.State != StageCompleted || s.Attempts != 2 {
		t.Errorf("state=%s attempts=%d, want COMPLETED after 2", s.State, s.Attempts)
	}
}

func TestRunRetriesExhausted(t *testing.T) {
	eng := New(Options{Parallelism: 1, TempDir: t.TempDir(), RetryAttempts: 3, RetryBackoff: time.Millisecond}, nil)

	boom := errors.New("always")
	g, _ := NewGraph("broken", Step{
		Name:   "fetch",
		Action: func(ctx context.Context, a Artifacts) error { return boom },
	})

	res, _ := eng.Run(context.Background(), []*Graph{g})
	s := res.Graphs[0].Stages[0]
	if s.State != StageFailed || s.Attempts != 3 {
		t.Errorf("state=%s attempts=%d, want FAILED after 3", s.State, s.Attempts)
	}
	if !errors.Is(s.Err, boom) {
		t.Errorf("stage error = %v, want %v", s.Err, boom)
	}
}

func TestRunPermanentErrorNotRetried(t *testing.T) {
	eng := New(Options{Parallelism: 1, TempDir: t.TempDir(), RetryAttempts: 5, RetryBackoff: time.Millisecond}, nil)

	notFound := errors.New("not found")
	g, _ := NewGraph("missing", Step{
		Name:   "fetch",
		Action: func(ctx context.Context, a Artifacts) error { return Permanent(notFound) },
	})

	res, _ := eng.Run(context.Background(), []*Graph{g})
	s := res.Graphs[0].Stages[0]
	if s.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", s.Attempts)
	}
	if !errors.Is(s.Err, notFound) {
		t.Errorf("stage error = %v, want %v", s.Err, notFound)
	}
}

func TestRunStageTimeout(t *testing.T) {
	eng := New(Options{Parallelism: 1, TempDir: t.TempDir(), StageTimeout: 20 * time.Millisecond}, nil)

	g, _ := NewGraph("slow", Step{
		Name: "transform",
		Action: func(ctx context.Context, a Artifacts) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	res, _ := eng.Run(context.Background(), []*Graph{g})
	s := res.Graphs[0].Stages[0]
	if s.State != StageFailed || !errors.Is(s.Err, context.DeadlineExceeded) {
		t.Errorf("state=%s err=%v, want FAILED with deadline exceeded", s.State, s.Err)
	}
}

func TestRunRespectsParallelism(t *testing.T) {
	const limit = 3
	eng := New(Options{Parallelism: limit, TempDir: t.TempDir()}, nil)

	var current, peak int32
	var graphs []*Graph
	for i := 0; i < 12; i++ {
		g, err := NewGraph(fmt.Sprintf("g%d", i), Step{
			Name: "work",
			Action: func(ctx context.Context, a Artifacts) error {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		graphs = append(graphs, g)
	}

	res, err := eng.Run(context.Background(), graphs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Succeeded()) != 12 {
		t.Errorf("succeeded = %d, want 12", len(res.Succeeded()))
	}
	if peak > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", peak, limit)
	}
}

func TestRunRejectsDuplicateIDs(t *testing.T) {
	eng := New(Options{TempDir: t.TempDir()}, nil)
	a, _ := NewGraph("same", Step{Name: "s", Action: noop})
	b, _ := NewGraph("same", Step{Name: "s", Action: noop})

	if _, err := eng.Run(context.Background(), []*Graph{a, b}); !errors.Is(err, ErrDuplicateGraph) {
		t.Fatalf("expected ErrDuplicateGraph, got %v", err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	eng := New(Options{Parallelism: 2, TempDir: t.TempDir()}, nil)

	var ran int32
	var graphs []*Graph
	for i := 0; i < 5; i++ {
		g, _ := NewGraph(fmt.Sprintf("g%d", i), Step{
			Name: "s",
			Action: func(ctx context.Context, a Artifacts) error {
				atomic.AddInt32(&ran, 1)
				return nil
			},
		})
		graphs = append(graphs, g)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := eng.Run(ctx, graphs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Graphs) != 5 {
		t.Fatalf("expected a result per graph, got %d", len(res.Graphs))
	}
	for _, g := range res.Graphs {
		if g.OK() || !errors.Is(g.Err, context.Canceled) {
			t.Errorf("%s: ok=%v err=%v, want failed with context.Canceled", g.ID, g.OK(), g.Err)
		}
	}
	if ran != 0 {
		t.Errorf("%d actions ran after cancellation", ran)
	}
}

func TestRunResumesFromRecordedState(t *testing.T) {
	tmp := t.TempDir()
	store, err := checkpoint.NewStore(checkpoint.Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Parallelism: 1, TempDir: tmp, KeepTemp: true}

	var published sync.Map
	first, err := New(opts, store).Run(context.Background(), []*Graph{threeStage(t, "r1.bam", "upload", &published)})
	if err != nil {
		t.Fatal(err)
	}
	if first.Graphs[0].OK() {
		t.Fatal("first run should fail at upload")
	}

	second, err := New(opts, store).Run(context.Background(), []*Graph{threeStage(t, "r1.bam", "", &published)})
	if err != nil {
		t.Fatal(err)
	}
	st := second.Graphs[0].Stages
	if st[0].State != StageCached || st[1].State != StageCached {
		t.Errorf("download/transform should be cached: %+v", st)
	}
	if st[2].State != StageCompleted {
		t.Errorf("upload should rerun: %+v", st[2])
	}
	if v, _ := published.Load("r1.bam"); v != "r1.bam_MT" {
		t.Errorf("published = %v", v)
	}

	if _, err := os.Stat(filepath.Join(tmp)); err != nil {
		t.Errorf("temp root should survive with KeepTemp: %v", err)
	}
}

func TestRunNoCacheWithoutOutputs(t *testing.T) {
	store, _ := checkpoint.NewStore(checkpoint.Config{Enabled: true, Dir: t.TempDir()})
	opts := Options{Parallelism: 1, TempDir: t.TempDir(), KeepTemp: true}

	var calls int32
	mk := func() *Graph {
		g, _ := NewGraph("side-effect", Step{
			Name: "notify",
			Action: func(ctx context.Context, a Artifacts) error {
				atomic.AddInt32(&calls, 1)
				return nil
			},
		})
		return g
	}

	New(opts, store).Run(context.Background(), []*Graph{mk()})
	res, _ := New(opts, store).Run(context.Background(), []*Graph{mk()})

	if calls != 2 {
		t.Errorf("side-effect step ran %d times, want 2", calls)
	}
	if res.Graphs[0].Stages[0].State != StageCompleted {
		t.Errorf("state = %s, want COMPLETED", res.Graphs[0].Stages[0].State)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	res, err := New(Options{TempDir: t.TempDir()}, nil).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Graphs) != 0 {
		t.Errorf("expected no results, got %d", len(res.Graphs))
	}
}

// countingStore counts state store calls.
type countingStore struct {
	mu           sync.Mutex
	loads, saves int
}

func (s *countingStore) Load(ctx context.Context, graphID string) (map[string]checkpoint.StageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return nil, checkpoint.ErrNoCheckpoint
}

func (s *countingStore) Save(ctx context.Context, rec checkpoint.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func TestRunWithoutKeepTempSkipsStateStore(t *testing.T) {
	store := &countingStore{}
	var published sync.Map
	graphs := []*Graph{
		threeStage(t, "a.bam", "", &published),
		threeStage(t, "b.bam", "", &published),
	}

	res, err := New(Options{Parallelism: 2, TempDir: t.TempDir()}, store).Run(context.Background(), graphs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Failed()) != 0 {
		t.Fatalf("unexpected failures: %+v", res.Failed())
	}
	if store.loads != 0 || store.saves != 0 {
		t.Errorf("state store used without KeepTemp: loads=%d saves=%d", store.loads, store.saves)
	}
}

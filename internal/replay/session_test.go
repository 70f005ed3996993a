package replay_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dinsight-analytics/stream-replay/internal/config"
	"github.com/dinsight-analytics/stream-replay/internal/dinsight"
	"github.com/dinsight-analytics/stream-replay/internal/mockdinsight"
	"github.com/dinsight-analytics/stream-replay/internal/replay"
)

type env struct {
	backend *mockdinsight.Server
	client  *dinsight.Client
	cfg     config.Config
	debug   string
}

// newEnv wires a mock backend, a client with fast retries, and a session
// configuration pointing at a freshly written monitor table.
func newEnv(t *testing.T, monitorCSV string) *env {
	t.Helper()

	backend := mockdinsight.New()
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	debug := t.TempDir()
	client, err := dinsight.NewClient(srv.URL+"/api/v1", dinsight.Options{
		Logger:      log.New(io.Discard, "", 0),
		RetryBudget: 2,
		BackoffUnit: time.Millisecond,
		DebugDir:    debug,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	dir := t.TempDir()
	monitor := filepath.Join(dir, "monitor.csv")
	if err := os.WriteFile(monitor, []byte(monitorCSV), 0o644); err != nil {
		t.Fatalf("write monitor table: %v", err)
	}

	cfg := config.Default()
	cfg.BaselineID = 1
	cfg.MonitorFile = monitor
	cfg.DelaySeconds = 0
	cfg.WorkDir = filepath.Join(dir, "temp_streaming")
	return &env{backend: backend, client: client, cfg: cfg, debug: debug}
}

func newSession(t *testing.T, e *env) *replay.Session {
	t.Helper()
	s, err := replay.New(e.cfg, e.client, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func monitorFixture(rows int) string {
	var b strings.Builder
	b.WriteString("id,f_0,f_1\n")
	for i := 0; i < rows; i++ {
		b.WriteString(strings.Join([]string{
			"row-" + string(rune('a'+i)),
			"0.1",
			"0.2",
		}, ","))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestSessionRun(t *testing.T) {
	t.Parallel()

	t.Run("replays every batch in order and completes", func(t *testing.T) {
		e := newEnv(t, monitorFixture(10))
		e.backend.SeedBaseline(1, []float64{0, 1, 2}, []float64{0, 1, 2})
		e.cfg.BatchSize = 3

		s := newSession(t, e)
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		batches := e.backend.Batches()
		if len(batches) != 4 {
			t.Fatalf("expected 4 batches, got %d", len(batches))
		}
		sizes := []int{3, 3, 3, 1}
		for i, b := range batches {
			if b.BaselineID != 1 {
				t.Fatalf("batch %d sent to baseline %d", i, b.BaselineID)
			}
			if b.Points != sizes[i] {
				t.Fatalf("batch %d carried %d points, want %d", i, b.Points, sizes[i])
			}
		}
		// All batches share the full header including metadata columns.
		if !strings.HasPrefix(string(batches[0].Data), "id,f_0,f_1\n") {
			t.Fatalf("unexpected batch header: %q", string(batches[0].Data))
		}

		if _, ok := e.backend.Config(1); !ok {
			t.Fatalf("streaming config was never pushed")
		}
		if _, err := os.Stat(e.cfg.WorkDir); !os.IsNotExist(err) {
			t.Fatalf("work dir was not cleaned up: %v", err)
		}

		st := s.Status(context.Background())
		if st.State != replay.StateCompleted {
			t.Fatalf("unexpected state: %s", st.State)
		}
		if st.StreamedPoints != 10 || st.TotalPoints != 10 {
			t.Fatalf("unexpected counters: %+v", st)
		}
		if st.BackendPoints != 10 || st.ProgressPct != 100 {
			t.Fatalf("unexpected backend reading: %+v", st)
		}
		if st.BaselinePoints != 3 {
			t.Fatalf("unexpected baseline points: %d", st.BaselinePoints)
		}
	})

	t.Run("features-only mode strips metadata from the wire", func(t *testing.T) {
		e := newEnv(t, monitorFixture(2))
		e.backend.SeedBaseline(1, []float64{0}, []float64{0})
		e.cfg.IncludeMetadata = false

		s := newSession(t, e)
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		batches := e.backend.Batches()
		if len(batches) == 0 {
			t.Fatalf("no batches received")
		}
		if !strings.HasPrefix(string(batches[0].Data), "f_0,f_1\n") {
			t.Fatalf("unexpected batch header: %q", string(batches[0].Data))
		}
	})

	t.Run("uploads and waits when given a baseline file", func(t *testing.T) {
		e := newEnv(t, monitorFixture(3))
		e.backend.SetReadyAfterPolls(0)

		dir := t.TempDir()
		baseline := filepath.Join(dir, "baseline.csv")
		if err := os.WriteFile(baseline, []byte("f_0,f_1\n0.1,0.2\n0.3,0.4\n"), 0o644); err != nil {
			t.Fatalf("write baseline: %v", err)
		}
		e.cfg.BaselineID = 0
		e.cfg.BaselineFile = baseline

		s := newSession(t, e)
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		batches := e.backend.Batches()
		if len(batches) != 3 {
			t.Fatalf("expected 3 batches, got %d", len(batches))
		}
		if batches[0].BaselineID != 1 {
			t.Fatalf("batches went to baseline %d", batches[0].BaselineID)
		}
		st := s.Status(context.Background())
		if st.BaselineID != 1 || st.BaselinePoints != 2 {
			t.Fatalf("unexpected baseline resolution: %+v", st)
		}
	})

	t.Run("recovers from transient backend failures", func(t *testing.T) {
		e := newEnv(t, monitorFixture(2))
		e.backend.SeedBaseline(1, []float64{0}, []float64{0})
		e.backend.InjectMonitorFailure(503, "unavailable")
		e.backend.InjectMonitorFailure(503, "unavailable")

		s := newSession(t, e)
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(e.backend.Batches()); got != 2 {
			t.Fatalf("expected 2 delivered batches, got %d", got)
		}
	})

	t.Run("terminal rejection fails the session and preserves the batch", func(t *testing.T) {
		e := newEnv(t, monitorFixture(2))
		e.backend.SeedBaseline(1, []float64{0}, []float64{0})
		e.backend.InjectMonitorFailure(400, "dimension mismatch: expected 5 features")

		s := newSession(t, e)
		err := s.Run(context.Background())
		if err == nil {
			t.Fatalf("expected error")
		}
		var apiErr *dinsight.APIError
		if !errors.As(err, &apiErr) || apiErr.Category != dinsight.CategoryDimensionMismatch {
			t.Fatalf("expected dimension mismatch, got %v", err)
		}

		if st := s.Status(context.Background()); st.State != replay.StateFailed {
			t.Fatalf("unexpected state: %s", st.State)
		}
		if _, err := os.Stat(filepath.Join(e.debug, "debug_failed_batch_1.csv")); err != nil {
			t.Fatalf("failed batch was not preserved: %v", err)
		}
		if _, err := os.Stat(e.cfg.WorkDir); !os.IsNotExist(err) {
			t.Fatalf("work dir was not cleaned up: %v", err)
		}
	})

	t.Run("streaming config failure does not stop the replay", func(t *testing.T) {
		e := newEnv(t, monitorFixture(2))
		e.backend.SeedBaseline(1, []float64{0}, []float64{0})
		e.backend.FailStreamingConfig()

		s := newSession(t, e)
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(e.backend.Batches()); got != 2 {
			t.Fatalf("expected 2 batches, got %d", got)
		}
	})

	t.Run("missing baseline fails before any delivery", func(t *testing.T) {
		e := newEnv(t, monitorFixture(2))
		// Baseline 1 never seeded.
		s := newSession(t, e)
		if err := s.Run(context.Background()); err == nil {
			t.Fatalf("expected error")
		}
		if got := len(e.backend.Batches()); got != 0 {
			t.Fatalf("expected no batches, got %d", got)
		}
	})

	t.Run("cancellation between batches cleans up and fails", func(t *testing.T) {
		e := newEnv(t, monitorFixture(5))
		e.backend.SeedBaseline(1, []float64{0}, []float64{0})
		// A long delay parks the session at the pacing wait after batch one.
		e.cfg.DelaySeconds = 3600

		s := newSession(t, e)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- s.Run(ctx)
		}()

		deadline := time.After(5 * time.Second)
		for len(e.backend.Batches()) == 0 {
			select {
			case <-deadline:
				t.Fatalf("first batch never arrived")
			case <-time.After(5 * time.Millisecond):
			}
		}
		cancel()

		err := <-done
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if got := len(e.backend.Batches()); got != 1 {
			t.Fatalf("expected exactly 1 batch, got %d", got)
		}
		if _, err := os.Stat(e.cfg.WorkDir); !os.IsNotExist(err) {
			t.Fatalf("work dir was not cleaned up: %v", err)
		}
	})
}

func TestSessionNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid configuration", func(t *testing.T) {
		cfg := config.Default() // no baseline, no monitor file
		if _, err := replay.New(cfg, nil, nil); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("sessions get distinct ids", func(t *testing.T) {
		e := newEnv(t, monitorFixture(1))
		a := newSession(t, e)
		b := newSession(t, e)
		if a.ID() == b.ID() {
			t.Fatalf("expected distinct session ids")
		}
	})
}

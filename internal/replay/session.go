// Package replay orchestrates one monitor replay session: load the monitor
// table, resolve the baseline, then deliver time-paced batches to the
// backend while exposing read-only progress snapshots.
package replay

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dinsight-analytics/stream-replay/internal/config"
	"github.com/dinsight-analytics/stream-replay/internal/dinsight"
	"github.com/dinsight-analytics/stream-replay/internal/table"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateIdle              State = "idle"
	StateLoading           State = "loading"
	StateResolvingBaseline State = "resolving_baseline"
	StateStreaming         State = "streaming"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Status is an immutable snapshot of session progress.
type Status struct {
	State      State
	BaselineID int64

	TotalPoints int
	// StreamedPoints is the session's own confirmed-delivery counter.
	StreamedPoints int
	// BackendPoints is the backend's ingested-point reading; zero when the
	// status endpoint is unreachable.
	BackendPoints int
	// ProgressPct is derived from the backend reading, matching what a
	// frontend polling the same endpoint would display.
	ProgressPct float64

	BaselinePoints  int
	LatestGlowCount int
	IsStreaming     bool
}

// Session runs one monitor dataset against one baseline. A process hosts at
// most one active session.
type Session struct {
	cfg    config.Config
	client *dinsight.Client
	logger *log.Logger
	id     string

	mu         sync.Mutex
	state      State
	baselineID int64
	total      int
	streamed   int
	baseline   dinsight.Coordinates
}

// New validates the configuration and prepares an idle session.
func New(cfg config.Config, client *dinsight.Client, logger *log.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Session{
		cfg:    cfg,
		client: client,
		logger: logger,
		id:     uuid.NewString(),
		state:  StateIdle,
	}, nil
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string { return s.id }

func (s *Session) logf(format string, args ...any) {
	prefix := make([]any, 0, len(args)+1)
	prefix = append(prefix, s.id[:8])
	prefix = append(prefix, args...)
	s.logger.Printf("session=%s "+format, prefix...)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run executes the full session: load → resolve baseline → paced delivery.
// Any unrecoverable error moves the session to Failed and is returned; the
// per-batch transmission directory is cleared on every exit path.
func (s *Session) Run(ctx context.Context) error {
	err := s.run(ctx)
	if err != nil {
		s.setState(StateFailed)
		return err
	}
	s.setState(StateCompleted)
	return nil
}

func (s *Session) run(ctx context.Context) error {
	start := time.Now()

	s.setState(StateLoading)
	tbl, err := table.Load(s.cfg.MonitorFile, s.cfg.Limits())
	if err != nil {
		return fmt.Errorf("load monitor table: %w", err)
	}
	s.mu.Lock()
	s.total = len(tbl.Rows)
	s.mu.Unlock()

	det := tbl.Detection
	if det.Defaulted {
		s.logf("unknown schema pattern (freq=%d f=%d), defaulting to %s", det.FreqMatches, det.IndexMatches, det.Family)
	} else {
		s.logf("detected dataset family=%s (freq=%d f=%d)", det.Family, det.FreqMatches, det.IndexMatches)
	}
	s.logf("loaded %d monitor points, %d/%d feature columns selected", len(tbl.Rows), len(tbl.Features), tbl.FeatureColumns)

	baselineID, baseline, err := s.resolveBaseline(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.baselineID = baselineID
	s.baseline = baseline
	s.mu.Unlock()
	s.logf("baseline %d resolved with %d coordinate points", baselineID, len(baseline.X))

	// Best-effort: the backend works without this, so a failure is logged
	// and the session proceeds.
	if err := s.client.UpdateStreamingConfig(ctx, baselineID, dinsight.StreamingConfig{
		LatestGlowCount: s.cfg.LatestGlowCount,
		BatchSize:       s.cfg.BatchSize,
		DelaySeconds:    s.cfg.DelaySeconds,
	}); err != nil {
		s.logf("streaming config update failed (continuing): %v", err)
	}

	if err := s.stream(ctx, tbl, baselineID); err != nil {
		return err
	}

	s.logf("replay complete: %d points in %s", len(tbl.Rows), time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Session) resolveBaseline(ctx context.Context) (int64, dinsight.Coordinates, error) {
	s.setState(StateResolvingBaseline)

	baselineID := s.cfg.BaselineID
	if s.cfg.BaselineFile != "" {
		uploadID, err := s.client.Analyze(ctx, s.cfg.BaselineFile)
		if err != nil {
			return 0, dinsight.Coordinates{}, fmt.Errorf("upload baseline: %w", err)
		}
		s.logf("baseline uploaded, job id=%d; waiting for processing", uploadID)

		baselineID, err = s.client.WaitForProcessing(ctx, uploadID, dinsight.PollOptions{})
		if err != nil {
			return 0, dinsight.Coordinates{}, fmt.Errorf("baseline processing: %w", err)
		}
	}

	coords, err := s.client.GetCoordinates(ctx, baselineID)
	if err != nil {
		return 0, dinsight.Coordinates{}, fmt.Errorf("load baseline coordinates: %w", err)
	}
	if !coords.Ready() {
		return 0, dinsight.Coordinates{}, fmt.Errorf("baseline %d coordinates are empty", baselineID)
	}
	return baselineID, coords, nil
}

func (s *Session) stream(ctx context.Context, tbl *table.Table, baselineID int64) error {
	windower, err := table.NewWindower(tbl.Rows, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	// The work directory is owned exclusively by this session; clear it on
	// every exit path, including cancellation mid-send.
	defer func() {
		if err := os.RemoveAll(s.cfg.WorkDir); err != nil {
			s.logf("work dir cleanup failed: %v", err)
		}
	}()

	s.setState(StateStreaming)
	total := windower.Count()
	s.logf("streaming %d points in %d batches (size=%d, delay=%s)", len(tbl.Rows), total, s.cfg.BatchSize, s.cfg.Delay())

	// Paces batch starts at the configured cadence; the Wait is the
	// cancellation point between batches. The initial token lets the first
	// batch go out immediately, and no pacing wait follows the final batch.
	limiter := rate.NewLimiter(rate.Every(s.cfg.Delay()), 1)

	for k := 0; k < total; k++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		batch := windower.Batch(k)
		if err := s.deliver(ctx, tbl, baselineID, batch); err != nil {
			return err
		}

		s.mu.Lock()
		s.streamed += len(batch.Rows)
		streamed, totalPoints := s.streamed, s.total
		s.mu.Unlock()
		s.logf("progress: %d/%d points (%.1f%%)", streamed, totalPoints, 100*float64(streamed)/float64(totalPoints))
	}
	return nil
}

func (s *Session) deliver(ctx context.Context, tbl *table.Table, baselineID int64, batch table.Batch) error {
	data, err := tbl.Render(batch, s.cfg.IncludeMetadata)
	if err != nil {
		return fmt.Errorf("render batch %d/%d: %w", batch.Num, batch.Total, err)
	}

	if err := table.Preflight(data, tbl.Features); err != nil {
		s.client.PreserveFailedBatch(baselineID, data)
		return fmt.Errorf("pre-flight check failed for batch %d/%d: %w", batch.Num, batch.Total, err)
	}

	name := fmt.Sprintf("monitor_batch_%d.csv", batch.Num)
	path := filepath.Join(s.cfg.WorkDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write batch table: %w", err)
	}
	defer func() {
		_ = os.Remove(path)
	}()

	s.logf("sending batch %d/%d (%d points)", batch.Num, batch.Total, len(batch.Rows))
	if _, err := s.client.SendMonitorBatch(ctx, baselineID, name, data); err != nil {
		return fmt.Errorf("deliver batch %d/%d: %w", batch.Num, batch.Total, err)
	}
	return nil
}

// Status returns a point-in-time snapshot of session progress. The backend
// reading defaults to zero when the coordinates endpoint is unavailable;
// status reporting never fails the session.
func (s *Session) Status(ctx context.Context) Status {
	s.mu.Lock()
	st := Status{
		State:           s.state,
		BaselineID:      s.baselineID,
		TotalPoints:     s.total,
		StreamedPoints:  s.streamed,
		BaselinePoints:  len(s.baseline.X),
		LatestGlowCount: s.cfg.LatestGlowCount,
		IsStreaming:     s.state == StateStreaming,
	}
	s.mu.Unlock()

	if st.BaselineID != 0 {
		if n, err := s.client.MonitorPointCount(ctx, st.BaselineID); err == nil {
			st.BackendPoints = n
		}
	}
	if st.TotalPoints > 0 {
		st.ProgressPct = 100 * float64(st.BackendPoints) / float64(st.TotalPoints)
	}
	return st
}

// Package ingest drives mailbox messages through analysis, embedding and
// storage, one owner at a time.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"intel_server/core/domain"
	"intel_server/core/port/in"
	"intel_server/core/port/out"
	"intel_server/pkg/apperr"
	"intel_server/pkg/logger"
	"intel_server/pkg/metrics"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMessageDelay = time.Second
	DefaultChunkSize    = 5
	DefaultChunkDelay   = 500 * time.Millisecond
	DefaultMaxMessages  = 500
	DefaultLockTTL      = 30 * time.Minute

	runStatusCompleted   = "completed"
	runStatusRateLimited = "rate_limited"
	runStatusCancelled   = "cancelled"
	runStatusFailed      = "failed"

	reportTimeout = 10 * time.Second
)

// Analyzer produces a complete analysis for one message. A non-nil error
// means the record must not be stored.
type Analyzer interface {
	Analyze(ctx context.Context, ownerID uuid.UUID, msg *domain.RawMessage) (*domain.AnalysisRecord, error)
}

// AnalysisEmbedder turns an analysis into its stored vector.
type AnalysisEmbedder interface {
	EmbedAnalysis(ctx context.Context, ownerID uuid.UUID, rec *domain.AnalysisRecord) (*domain.EmbeddingRecord, error)
}

type Config struct {
	MessageDelay time.Duration
	ChunkSize    int
	ChunkDelay   time.Duration
	MaxMessages  int
	LockTTL      time.Duration
}

// Service implements in.IngestionService.
type Service struct {
	mailbox  out.Mailbox
	store    out.IntelStore
	analyzer Analyzer
	embedder AnalysisEmbedder

	lock    out.IngestionLock
	runs    out.IngestionRunRepository
	graph   out.KnowledgeGraph
	metrics *metrics.IngestMetrics

	cfg Config
	now func() time.Time
}

func NewService(mailbox out.Mailbox, store out.IntelStore, analyzer Analyzer, embedder AnalysisEmbedder, cfg Config) *Service {
	if cfg.MessageDelay < 0 {
		cfg.MessageDelay = 0
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Service{
		mailbox:  mailbox,
		store:    store,
		analyzer: analyzer,
		embedder: embedder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetLock enables per-owner serialization of runs.
func (s *Service) SetLock(lock out.IngestionLock) {
	s.lock = lock
}

// SetRunRepository enables run reports.
func (s *Service) SetRunRepository(runs out.IngestionRunRepository) {
	s.runs = runs
}

// SetKnowledgeGraph enables the entity graph sink.
func (s *Service) SetKnowledgeGraph(graph out.KnowledgeGraph) {
	s.graph = graph
}

func (s *Service) SetMetrics(m *metrics.IngestMetrics) {
	s.metrics = m
}

// =============================================================================
// Bulk
// =============================================================================

// IngestBulk lists the owner's messages under a label, drops the ones already
// analyzed and processes the rest one at a time. A rate limit stops the run
// and is reported in the result, not as an error.
func (s *Service) IngestBulk(ctx context.Context, ownerID uuid.UUID, req *in.BulkIngestRequest) (*in.BulkIngestResult, error) {
	if req == nil {
		req = &in.BulkIngestRequest{}
	}
	if req.DaysBack < 0 {
		return nil, apperr.InvalidInput("daysBack", "must not be negative")
	}

	lease, err := s.acquire(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer lease.release(ctx)

	run := s.newRun(ownerID, domain.IngestionModeBulk, req.LabelScope)
	finish := s.metrics.RunStarted(string(run.Mode))
	log := logger.WithFields(map[string]any{
		"run_id":   run.ID.String(),
		"owner_id": ownerID.String(),
		"label":    req.LabelScope,
	})
	log.Info("[IngestionService.IngestBulk] started (days_back=%d)", req.DaysBack)

	result := &in.BulkIngestResult{RunID: run.ID}

	ids, err := s.mailbox.ListMessageIDs(ctx, ownerID, out.MailboxScope{
		Label:      req.LabelScope,
		DaysBack:   req.DaysBack,
		MaxResults: s.cfg.MaxMessages,
	})
	if err != nil {
		if out.IsRateLimited(err) {
			log.WithError(err).Warn("[IngestionService.IngestBulk] mailbox rate limited while listing")
			result.RateLimited = true
			run.RateLimited = true
			s.finishRun(run, finish)
			return result, nil
		}
		finish(runStatusFailed)
		return nil, apperr.ExternalError("mailbox", err)
	}
	ids = lo.Uniq(ids)

	pending, err := s.store.FilterUnanalyzed(ctx, ownerID, ids)
	if err != nil {
		finish(runStatusFailed)
		return nil, apperr.DatabaseError("filter unanalyzed", err)
	}

	result.Total = len(ids)
	result.Unanalyzed = len(pending)
	run.Total = len(ids)
	run.Candidates = len(pending)
	run.Skipped = len(ids) - len(pending)
	s.metrics.AddSkipped(string(run.Mode), run.Skipped)

	for i, id := range pending {
		if i > 0 && !pause(ctx, s.cfg.MessageDelay) {
			result.Cancelled = true
			break
		}
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		if i > 0 {
			lease.extend(ctx)
		}

		_, err := s.processOne(ctx, ownerID, id, run.Mode)
		if err == nil {
			result.Analyzed++
			continue
		}
		if out.IsRateLimited(err) {
			log.WithField("message_id", id).Warn("[IngestionService.IngestBulk] rate limited, halting after %d of %d", result.Analyzed, len(pending))
			result.RateLimited = true
			break
		}
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		result.Errors++
		result.Failures = append(result.Failures, domain.IngestionFailure{MessageID: id, Error: err.Error()})
	}

	run.Processed = result.Analyzed
	run.Failures = result.Failures
	run.RateLimited = result.RateLimited
	run.Cancelled = result.Cancelled
	s.finishRun(run, finish)

	log.WithDuration(run.FinishedAt.Sub(run.StartedAt)).Info(
		"[IngestionService.IngestBulk] finished: total=%d unanalyzed=%d analyzed=%d errors=%d rate_limited=%v cancelled=%v",
		result.Total, result.Unanalyzed, result.Analyzed, result.Errors, result.RateLimited, result.Cancelled)

	return result, nil
}

// =============================================================================
// Targeted
// =============================================================================

type outcome struct {
	record *domain.AnalysisRecord
	err    error
}

// IngestMessages processes caller-chosen ids in parallel chunks. Unless
// forced, ids that already have an analysis are skipped. A rate limit lets
// the current chunk finish and drops the remaining chunks.
func (s *Service) IngestMessages(ctx context.Context, ownerID uuid.UUID, req *in.TargetedIngestRequest) (*in.TargetedIngestResult, error) {
	if req == nil {
		return nil, apperr.MissingField("messageIds")
	}
	ids := lo.Uniq(lo.FilterMap(req.MessageIDs, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	}))
	if len(ids) == 0 {
		return nil, apperr.MissingField("messageIds")
	}

	lease, err := s.acquire(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer lease.release(ctx)

	run := s.newRun(ownerID, domain.IngestionModeTargeted, "")
	finish := s.metrics.RunStarted(string(run.Mode))
	log := logger.WithFields(map[string]any{
		"run_id":   run.ID.String(),
		"owner_id": ownerID.String(),
	})

	pending := ids
	if !req.ForceReanalyze {
		pending, err = s.store.FilterUnanalyzed(ctx, ownerID, ids)
		if err != nil {
			finish(runStatusFailed)
			return nil, apperr.DatabaseError("filter unanalyzed", err)
		}
	}

	result := &in.TargetedIngestResult{
		RunID:   run.ID,
		Skipped: len(ids) - len(pending),
		Errors:  []domain.IngestionFailure{},
		Results: []*domain.AnalysisRecord{},
	}
	run.Total = len(ids)
	run.Candidates = len(pending)
	run.Skipped = result.Skipped
	s.metrics.AddSkipped(string(run.Mode), result.Skipped)

	log.Info("[IngestionService.IngestMessages] started: ids=%d pending=%d force=%v", len(ids), len(pending), req.ForceReanalyze)

	for ci, chunk := range lo.Chunk(pending, s.cfg.ChunkSize) {
		if ci > 0 && !pause(ctx, s.cfg.ChunkDelay) {
			result.Cancelled = true
			break
		}
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		if ci > 0 {
			lease.extend(ctx)
		}

		outcomes := make([]outcome, len(chunk))
		var g errgroup.Group
		g.SetLimit(s.cfg.ChunkSize)
		for i, id := range chunk {
			i, id := i, id
			g.Go(func() error {
				rec, err := s.processOne(ctx, ownerID, id, run.Mode)
				outcomes[i] = outcome{record: rec, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, o := range outcomes {
			switch {
			case o.err == nil:
				result.Processed++
				result.Results = append(result.Results, o.record)
			case out.IsRateLimited(o.err):
				result.RateLimited = true
			case ctx.Err() != nil:
				result.Cancelled = true
			default:
				result.Errors = append(result.Errors, domain.IngestionFailure{MessageID: chunk[i], Error: o.err.Error()})
			}
		}
		if result.RateLimited {
			log.Warn("[IngestionService.IngestMessages] rate limited, halting after %d of %d", result.Processed, len(pending))
			break
		}
		if result.Cancelled {
			break
		}
	}

	run.Processed = result.Processed
	run.Failures = result.Errors
	run.RateLimited = result.RateLimited
	run.Cancelled = result.Cancelled
	s.finishRun(run, finish)

	log.WithDuration(run.FinishedAt.Sub(run.StartedAt)).Info(
		"[IngestionService.IngestMessages] finished: processed=%d skipped=%d errors=%d rate_limited=%v cancelled=%v",
		result.Processed, result.Skipped, len(result.Errors), result.RateLimited, result.Cancelled)

	return result, nil
}

// ListRuns returns the most recent run reports of an owner.
func (s *Service) ListRuns(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.IngestionRun, error) {
	if s.runs == nil {
		return []*domain.IngestionRun{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := s.runs.ListRuns(ctx, ownerID, limit)
	if err != nil {
		return nil, apperr.DatabaseError("list ingestion runs", err)
	}
	return runs, nil
}

// =============================================================================
// Per-message pipeline
// =============================================================================

// processOne fetches, analyzes, embeds and stores one message. The vector
// is produced before either write, and a message only counts as analyzed
// once both writes succeed.
func (s *Service) processOne(ctx context.Context, ownerID uuid.UUID, messageID string, mode domain.IngestionMode) (*domain.AnalysisRecord, error) {
	modeLabel := string(mode)
	log := logger.WithField("message_id", messageID)

	rec, err := s.runStages(ctx, ownerID, messageID)
	switch {
	case err == nil:
	case out.IsRateLimited(err):
		s.metrics.Message(modeLabel, metrics.OutcomeRateLimited)
		return nil, err
	default:
		if ctx.Err() == nil {
			log.WithError(err).Warn("[IngestionService] message failed")
		}
		s.metrics.Message(modeLabel, metrics.OutcomeFailed)
		return nil, err
	}

	if rec.Source == domain.SourceFallback {
		s.metrics.Message(modeLabel, metrics.OutcomeFallback)
	} else {
		s.metrics.Message(modeLabel, metrics.OutcomeAnalyzed)
	}

	if s.graph != nil {
		if err := s.graph.RecordAnalysis(ctx, rec); err != nil {
			log.WithError(err).Warn("[IngestionService] knowledge graph update failed")
		}
	}
	return rec, nil
}

func (s *Service) runStages(ctx context.Context, ownerID uuid.UUID, messageID string) (*domain.AnalysisRecord, error) {
	start := time.Now()
	msg, err := s.mailbox.GetMessage(ctx, ownerID, messageID)
	s.metrics.Stage(metrics.StageFetch, time.Since(start))
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, apperr.NotFound("message " + messageID)
	}

	start = time.Now()
	rec, err := s.analyzer.Analyze(ctx, ownerID, msg)
	s.metrics.Stage(metrics.StageAnalyze, time.Since(start))
	if err != nil {
		return nil, err
	}

	start = time.Now()
	emb, err := s.embedder.EmbedAnalysis(ctx, ownerID, rec)
	s.metrics.Stage(metrics.StageEmbed, time.Since(start))
	if err != nil {
		return nil, err
	}

	start = time.Now()
	defer func() { s.metrics.Stage(metrics.StagePersist, time.Since(start)) }()
	// The analysis row marks the message analyzed, so it is written last.
	// A vector left behind by a failed analysis write has no metadata and is
	// skipped by retrieval until the retry overwrites it.
	if err := s.store.UpsertEmbedding(ctx, ownerID, emb); err != nil {
		return nil, apperr.DatabaseError("upsert embedding", err)
	}
	if err := s.store.UpsertAnalysis(ctx, ownerID, rec); err != nil {
		return nil, apperr.DatabaseError("upsert analysis", err)
	}
	return rec, nil
}

// =============================================================================
// Helpers
// =============================================================================

// ownerLease is the owner lock held for one run. With no lock configured,
// or when the lock store was unreachable at acquire time, it does nothing.
type ownerLease struct {
	s       *Service
	ownerID uuid.UUID
	held    bool
	lost    bool
}

// acquire takes the owner lock when one is configured. An unreachable lock
// store does not block ingestion.
func (s *Service) acquire(ctx context.Context, ownerID uuid.UUID) (*ownerLease, error) {
	lease := &ownerLease{s: s, ownerID: ownerID}
	if s.lock == nil {
		return lease, nil
	}
	ok, err := s.lock.Acquire(ctx, ownerID, s.cfg.LockTTL)
	if err != nil {
		logger.WithError(err).WithField("owner_id", ownerID.String()).Warn("[IngestionService] lock unavailable, running unlocked")
		return lease, nil
	}
	if !ok {
		return nil, apperr.IngestionBusy(ownerID.String())
	}
	lease.held = true
	return lease, nil
}

// extend restarts the lock TTL so a run longer than LockTTL keeps the owner
// serialized. A failed or lost extension is logged and the run goes on.
func (l *ownerLease) extend(ctx context.Context) {
	if !l.held || l.lost {
		return
	}
	ok, err := l.s.lock.Extend(ctx, l.ownerID, l.s.cfg.LockTTL)
	switch {
	case err != nil:
		logger.WithError(err).WithField("owner_id", l.ownerID.String()).Warn("[IngestionService] failed to extend lock")
	case !ok:
		logger.WithField("owner_id", l.ownerID.String()).Warn("[IngestionService] lock lost before run finished")
		l.lost = true
	}
}

func (l *ownerLease) release(ctx context.Context) {
	if !l.held {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := l.s.lock.Release(releaseCtx, l.ownerID); err != nil {
		logger.WithError(err).Warn("[IngestionService] failed to release lock")
	}
}

func (s *Service) newRun(ownerID uuid.UUID, mode domain.IngestionMode, scope string) *domain.IngestionRun {
	return &domain.IngestionRun{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Mode:      mode,
		Scope:     scope,
		Failures:  []domain.IngestionFailure{},
		StartedAt: s.now().UTC(),
	}
}

// finishRun stamps the run, records its status and stores the report. The
// report is written even when the caller's context has ended.
func (s *Service) finishRun(run *domain.IngestionRun, finish func(string)) {
	run.FinishedAt = s.now().UTC()
	if run.Failures == nil {
		run.Failures = []domain.IngestionFailure{}
	}

	status := runStatusCompleted
	switch {
	case run.RateLimited:
		status = runStatusRateLimited
	case run.Cancelled:
		status = runStatusCancelled
	}
	finish(status)

	if s.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := s.runs.SaveRun(ctx, run); err != nil {
		logger.WithError(err).WithField("run_id", run.ID.String()).Warn("[IngestionService] failed to save run report")
	}
}

// pause waits d or until ctx ends. It reports false when ctx ended.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// IsConflict reports whether err means another run holds the owner lock.
func IsConflict(err error) bool {
	return errors.Is(err, apperr.ErrConflict)
}

var _ in.IngestionService = (*Service)(nil)

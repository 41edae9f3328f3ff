package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"intel_server/core/domain"
	"intel_server/core/port/in"
	"intel_server/core/port/out"
	"intel_server/pkg/apperr"

	"github.com/google/uuid"
)

// MockMailbox for testing
type MockMailbox struct {
	mu       sync.Mutex
	ids      []string
	listErr  error
	fetchErr map[string]error
	fetched  map[string]int
}

func (m *MockMailbox) ListMessageIDs(_ context.Context, _ uuid.UUID, _ out.MailboxScope) ([]string, error) {
	return m.ids, m.listErr
}

func (m *MockMailbox) GetMessage(_ context.Context, _ uuid.UUID, id string) (*domain.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetched == nil {
		m.fetched = map[string]int{}
	}
	m.fetched[id]++
	if err := m.fetchErr[id]; err != nil {
		return nil, err
	}
	return &domain.RawMessage{ID: id, ThreadID: "t-" + id, Subject: "Subject " + id, Direction: domain.DirectionInbound}, nil
}

func (m *MockMailbox) fetchCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched[id]
}

// MockStore for testing
type MockStore struct {
	mu         sync.Mutex
	analyzed   map[string]bool
	analyses   map[string]*domain.AnalysisRecord
	embeddings map[string]*domain.EmbeddingRecord
	upsertErr  map[string]error
	embedErr   map[string]error
}

func newMockStore(analyzed ...string) *MockStore {
	s := &MockStore{
		analyzed:   map[string]bool{},
		analyses:   map[string]*domain.AnalysisRecord{},
		embeddings: map[string]*domain.EmbeddingRecord{},
		upsertErr:  map[string]error{},
		embedErr:   map[string]error{},
	}
	for _, id := range analyzed {
		s.analyzed[id] = true
	}
	return s
}

func (m *MockStore) UpsertAnalysis(_ context.Context, _ uuid.UUID, rec *domain.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.upsertErr[rec.MessageID]; err != nil {
		return err
	}
	m.analyses[rec.MessageID] = rec
	m.analyzed[rec.MessageID] = true
	return nil
}

func (m *MockStore) IsAnalyzed(_ context.Context, _ uuid.UUID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analyzed[id], nil
}

func (m *MockStore) FilterUnanalyzed(_ context.Context, _ uuid.UUID, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []string
	for _, id := range ids {
		if !m.analyzed[id] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

func (m *MockStore) GetMetadata(_ context.Context, _ uuid.UUID, _ []string, _ *domain.MetadataFilter) ([]*domain.EmailMetadata, error) {
	return nil, nil
}

func (m *MockStore) UpsertEmbedding(_ context.Context, _ uuid.UUID, rec *domain.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.embedErr[rec.MessageID]; err != nil {
		return err
	}
	m.embeddings[rec.MessageID] = rec
	return nil
}

func (m *MockStore) GetEmbedding(_ context.Context, _ uuid.UUID, id string) (*domain.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embeddings[id], nil
}

func (m *MockStore) NearestNeighbors(_ context.Context, _ uuid.UUID, _ []float32, _ float64, _ int) ([]domain.Neighbor, error) {
	return nil, nil
}

func (m *MockStore) stored(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, a := m.analyses[id]
	_, e := m.embeddings[id]
	return a && e
}

// MockAnalyzer for testing
type MockAnalyzer struct {
	mu     sync.Mutex
	errs   map[string]error
	calls  map[string]int
	onCall func(id string)
}

func (m *MockAnalyzer) Analyze(_ context.Context, ownerID uuid.UUID, msg *domain.RawMessage) (*domain.AnalysisRecord, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[msg.ID]++
	err := m.errs[msg.ID]
	hook := m.onCall
	m.mu.Unlock()

	if hook != nil {
		hook(msg.ID)
	}
	rec := &domain.AnalysisRecord{OwnerID: ownerID, MessageID: msg.ID, ThreadID: msg.ThreadID, Subject: msg.Subject, Source: domain.SourceAI}
	return rec, err
}

func (m *MockAnalyzer) callCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// MockEmbedder for testing
type MockEmbedder struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

func (m *MockEmbedder) EmbedAnalysis(_ context.Context, ownerID uuid.UUID, rec *domain.AnalysisRecord) (*domain.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[rec.MessageID]++
	if err := m.errs[rec.MessageID]; err != nil {
		return nil, err
	}
	return &domain.EmbeddingRecord{OwnerID: ownerID, MessageID: rec.MessageID, Vector: []float32{1, 0}, Model: "mock"}, nil
}

func (m *MockEmbedder) callCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// MockLock for testing
type MockLock struct {
	held     bool
	err      error
	lost     bool
	released int
	extended int
	lastTTL  time.Duration
}

func (m *MockLock) Acquire(_ context.Context, _ uuid.UUID, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.held {
		return false, nil
	}
	m.held = true
	return true, nil
}

func (m *MockLock) Extend(_ context.Context, _ uuid.UUID, ttl time.Duration) (bool, error) {
	m.extended++
	m.lastTTL = ttl
	return m.held && !m.lost, nil
}

func (m *MockLock) Release(_ context.Context, _ uuid.UUID) error {
	m.held = false
	m.released++
	return nil
}

// MockRunRepository for testing
type MockRunRepository struct {
	mu   sync.Mutex
	runs []*domain.IngestionRun
}

func (m *MockRunRepository) SaveRun(_ context.Context, run *domain.IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *MockRunRepository) ListRuns(_ context.Context, _ uuid.UUID, limit int) ([]*domain.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) > limit {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

// MockGraph for testing
type MockGraph struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (m *MockGraph) RecordAnalysis(_ context.Context, _ *domain.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

type fixture struct {
	mailbox  *MockMailbox
	store    *MockStore
	analyzer *MockAnalyzer
	embedder *MockEmbedder
	svc      *Service
}

func newFixture(ids []string, analyzed ...string) *fixture {
	f := &fixture{
		mailbox:  &MockMailbox{ids: ids, fetchErr: map[string]error{}},
		store:    newMockStore(analyzed...),
		analyzer: &MockAnalyzer{errs: map[string]error{}},
		embedder: &MockEmbedder{errs: map[string]error{}},
	}
	f.svc = NewService(f.mailbox, f.store, f.analyzer, f.embedder, Config{ChunkSize: 2})
	return f
}

func rateLimitErr() error {
	return apperr.RateLimited("openai", errors.New("429 Too Many Requests"))
}

func TestIngestBulk_SkipsAnalyzedIDs(t *testing.T) {
	f := newFixture([]string{"a", "b", "c", "b"}, "b")

	res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{LabelScope: "INBOX", DaysBack: 7})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if res.Total != 3 || res.Unanalyzed != 2 || res.Analyzed != 2 || res.Errors != 0 {
		t.Errorf("result = %+v", res)
	}
	if f.mailbox.fetchCount("b") != 0 || f.analyzer.callCount("b") != 0 || f.embedder.callCount("b") != 0 {
		t.Error("analyzed id must not reach mailbox, model or embeddings")
	}
	if !f.store.stored("a") || !f.store.stored("c") {
		t.Error("analysis and embedding must both be stored")
	}
}

func TestIngestBulk_RateLimitHaltsBatch(t *testing.T) {
	f := newFixture([]string{"a", "b", "c", "d"})
	f.analyzer.errs["b"] = rateLimitErr()

	res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
	if err != nil {
		t.Fatalf("rate limit must not surface as an error: %v", err)
	}
	if !res.RateLimited || res.Analyzed != 1 || res.Errors != 0 {
		t.Errorf("result = %+v", res)
	}
	for _, id := range []string{"c", "d"} {
		if f.mailbox.fetchCount(id) != 0 {
			t.Errorf("%s fetched after rate limit", id)
		}
	}
	if f.store.stored("b") {
		t.Error("rate-limited message must stay unanalyzed")
	}
}

func TestIngestBulk_EmbeddingRateLimitStoresNothing(t *testing.T) {
	f := newFixture([]string{"a", "b"})
	f.embedder.errs["a"] = rateLimitErr()

	res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if !res.RateLimited || res.Analyzed != 0 {
		t.Errorf("result = %+v", res)
	}
	if _, ok := f.store.analyses["a"]; ok {
		t.Error("analysis stored without its embedding")
	}
}

func TestIngestBulk_ContinuesAfterMessageError(t *testing.T) {
	f := newFixture([]string{"a", "b", "c"})
	f.mailbox.fetchErr["b"] = out.NewProviderError("gmail", out.ProviderErrNotFound, "message not found", nil, false)
	f.store.upsertErr["c"] = errors.New("connection reset")

	res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if res.Analyzed != 1 || res.Errors != 2 || res.RateLimited {
		t.Errorf("result = %+v", res)
	}
	if len(res.Failures) != 2 || res.Failures[0].MessageID != "b" || res.Failures[1].MessageID != "c" {
		t.Errorf("failures = %+v", res.Failures)
	}
	if res.Failures[0].Error == "" {
		t.Error("failure must carry the error message")
	}
}

func TestIngestBulk_EmbeddingWriteFailureIsRetried(t *testing.T) {
	f := newFixture([]string{"a", "b"})
	f.store.embedErr["a"] = errors.New("connection reset")
	owner := uuid.New()

	res, err := f.svc.IngestBulk(context.Background(), owner, &in.BulkIngestRequest{})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if res.Analyzed != 1 || res.Errors != 1 {
		t.Errorf("first run = %+v", res)
	}
	if analyzed, _ := f.store.IsAnalyzed(context.Background(), owner, "a"); analyzed {
		t.Fatal("message without a stored vector must not be marked analyzed")
	}

	delete(f.store.embedErr, "a")
	res, err = f.svc.IngestBulk(context.Background(), owner, &in.BulkIngestRequest{})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if res.Unanalyzed != 1 || res.Analyzed != 1 || res.Errors != 0 {
		t.Errorf("second run = %+v", res)
	}
	if f.mailbox.fetchCount("a") != 2 || f.mailbox.fetchCount("b") != 1 {
		t.Errorf("fetches a=%d b=%d", f.mailbox.fetchCount("a"), f.mailbox.fetchCount("b"))
	}
	if !f.store.stored("a") {
		t.Error("retry must store analysis and embedding")
	}
}

func TestIngestBulk_ProviderRateLimitFromMailbox(t *testing.T) {
	f := newFixture([]string{"a", "b"})
	f.mailbox.fetchErr["a"] = out.NewProviderError("gmail", out.ProviderErrRateLimit, "quota exceeded", nil, true)

	res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if !res.RateLimited || f.mailbox.fetchCount("b") != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestBulk_ListRateLimited(t *testing.T) {
	f := newFixture(nil)
	f.mailbox.listErr = out.NewProviderError("gmail", out.ProviderErrRateLimit, "quota exceeded", nil, true)

	res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if !res.RateLimited || res.Total != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestBulk_ListFailure(t *testing.T) {
	f := newFixture(nil)
	f.mailbox.listErr = errors.New("dial tcp: timeout")

	if _, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{}); !apperr.IsCode(err, apperr.CodeExternalError) {
		t.Errorf("expected external error, got %v", err)
	}
}

func TestIngestBulk_CancelledBetweenMessages(t *testing.T) {
	f := newFixture([]string{"a", "b", "c"})
	f.svc.cfg.MessageDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.analyzer.onCall = func(string) { cancel() }

	res, err := f.svc.IngestBulk(ctx, uuid.New(), &in.BulkIngestRequest{})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if !res.Cancelled || res.Analyzed != 1 || res.Errors != 0 {
		t.Errorf("result = %+v", res)
	}
	if f.mailbox.fetchCount("b") != 0 {
		t.Error("b fetched after cancellation")
	}
}

func TestIngestBulk_LockConflict(t *testing.T) {
	f := newFixture([]string{"a"})
	lock := &MockLock{held: true}
	f.svc.SetLock(lock)

	_, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.mailbox.fetchCount("a") != 0 {
		t.Error("no work may start without the lock")
	}
}

func TestIngestBulk_LockReleasedAndRunSaved(t *testing.T) {
	f := newFixture([]string{"a", "b"})
	f.mailbox.fetchErr["b"] = errors.New("boom")
	lock := &MockLock{}
	runs := &MockRunRepository{}
	graph := &MockGraph{err: errors.New("neo4j down")}
	f.svc.SetLock(lock)
	f.svc.SetRunRepository(runs)
	f.svc.SetKnowledgeGraph(graph)

	owner := uuid.New()
	res, err := f.svc.IngestBulk(context.Background(), owner, &in.BulkIngestRequest{LabelScope: "INBOX"})
	if err != nil {
		t.Fatalf("IngestBulk: %v", err)
	}
	if res.Analyzed != 1 {
		t.Errorf("graph failure must not fail the message: %+v", res)
	}
	if lock.held || lock.released != 1 {
		t.Errorf("lock not released: %+v", lock)
	}
	if graph.calls != 1 {
		t.Errorf("graph calls = %d", graph.calls)
	}
	if len(runs.runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs.runs))
	}
	run := runs.runs[0]
	if run.ID != res.RunID || run.OwnerID != owner || run.Mode != domain.IngestionModeBulk || run.Scope != "INBOX" {
		t.Errorf("run = %+v", run)
	}
	if run.Total != 2 || run.Processed != 1 || len(run.Failures) != 1 || run.FinishedAt.IsZero() {
		t.Errorf("run counts = %+v", run)
	}

	listed, err := f.svc.ListRuns(context.Background(), owner, 0)
	if err != nil || len(listed) != 1 {
		t.Errorf("ListRuns = %v, %v", listed, err)
	}
}

func TestIngestBulk_LockStoreDownRunsUnlocked(t *testing.T) {
	f := newFixture([]string{"a"})
	f.svc.SetLock(&MockLock{err: errors.New("redis: connection refused")})

	res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
	if err != nil || res.Analyzed != 1 {
		t.Errorf("result = %+v, err = %v", res, err)
	}
}

func TestIngestionLock_ExtendedDuringRun(t *testing.T) {
	tests := []struct {
		name         string
		lock         *MockLock
		run          func(f *fixture) (int, error)
		wantExtended int
		wantDone     int
	}{
		{
			name: "bulk extends before every later message",
			lock: &MockLock{},
			run: func(f *fixture) (int, error) {
				res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
				if err != nil {
					return 0, err
				}
				return res.Analyzed, nil
			},
			wantExtended: 2,
			wantDone:     3,
		},
		{
			name: "targeted extends before every later chunk",
			lock: &MockLock{},
			run: func(f *fixture) (int, error) {
				res, err := f.svc.IngestMessages(context.Background(), uuid.New(), &in.TargetedIngestRequest{
					MessageIDs: []string{"a", "b", "c", "d", "e"},
				})
				if err != nil {
					return 0, err
				}
				return res.Processed, nil
			},
			wantExtended: 2,
			wantDone:     5,
		},
		{
			name: "lost lock stops extending but not the run",
			lock: &MockLock{lost: true},
			run: func(f *fixture) (int, error) {
				res, err := f.svc.IngestBulk(context.Background(), uuid.New(), &in.BulkIngestRequest{})
				if err != nil {
					return 0, err
				}
				return res.Analyzed, nil
			},
			wantExtended: 1,
			wantDone:     3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture([]string{"a", "b", "c"})
			f.svc.SetLock(tt.lock)

			done, err := tt.run(f)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if done != tt.wantDone {
				t.Errorf("done = %d, want %d", done, tt.wantDone)
			}
			if tt.lock.extended != tt.wantExtended {
				t.Errorf("extended = %d, want %d", tt.lock.extended, tt.wantExtended)
			}
			if tt.lock.lastTTL != DefaultLockTTL {
				t.Errorf("ttl = %v, want %v", tt.lock.lastTTL, DefaultLockTTL)
			}
			if tt.lock.released != 1 {
				t.Errorf("released = %d, want 1", tt.lock.released)
			}
		})
	}
}

func TestIngestMessages_DedupAndForce(t *testing.T) {
	tests := []struct {
		name          string
		force         bool
		wantProcessed int
		wantSkipped   int
	}{
		{name: "dedup", force: false, wantProcessed: 2, wantSkipped: 1},
		{name: "force", force: true, wantProcessed: 3, wantSkipped: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil, "b")
			res, err := f.svc.IngestMessages(context.Background(), uuid.New(), &in.TargetedIngestRequest{
				MessageIDs:     []string{"a", "b", " c ", "a", ""},
				ForceReanalyze: tt.force,
			})
			if err != nil {
				t.Fatalf("IngestMessages: %v", err)
			}
			if res.Processed != tt.wantProcessed || res.Skipped != tt.wantSkipped {
				t.Errorf("result = %+v", res)
			}
			if len(res.Results) != tt.wantProcessed {
				t.Errorf("results = %d", len(res.Results))
			}
			if !tt.force && f.analyzer.callCount("b") != 0 {
				t.Error("analyzed id reprocessed without force")
			}
		})
	}
}

func TestIngestMessages_RateLimitStopsLaterChunks(t *testing.T) {
	f := newFixture(nil)
	f.analyzer.errs["b"] = rateLimitErr()

	res, err := f.svc.IngestMessages(context.Background(), uuid.New(), &in.TargetedIngestRequest{
		MessageIDs: []string{"a", "b", "c", "d", "e"},
	})
	if err != nil {
		t.Fatalf("IngestMessages: %v", err)
	}
	if !res.RateLimited || res.Processed != 1 || len(res.Errors) != 0 {
		t.Errorf("result = %+v", res)
	}
	for _, id := range []string{"c", "d", "e"} {
		if f.mailbox.fetchCount(id) != 0 {
			t.Errorf("%s fetched after rate limit", id)
		}
	}
}

func TestIngestMessages_ErrorsKeepChunkOrder(t *testing.T) {
	f := newFixture(nil)
	f.mailbox.fetchErr["a"] = errors.New("fetch a")
	f.mailbox.fetchErr["d"] = errors.New("fetch d")

	res, err := f.svc.IngestMessages(context.Background(), uuid.New(), &in.TargetedIngestRequest{
		MessageIDs: []string{"a", "b", "c", "d", "e"},
	})
	if err != nil {
		t.Fatalf("IngestMessages: %v", err)
	}
	if res.Processed != 3 || len(res.Errors) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Errors[0].MessageID != "a" || res.Errors[1].MessageID != "d" {
		t.Errorf("errors = %+v", res.Errors)
	}
	want := []string{"b", "c", "e"}
	for i, rec := range res.Results {
		if rec.MessageID != want[i] {
			t.Errorf("result %d = %s, want %s", i, rec.MessageID, want[i])
		}
	}
}

func TestIngestMessages_RequiresIDs(t *testing.T) {
	f := newFixture(nil)
	_, err := f.svc.IngestMessages(context.Background(), uuid.New(), &in.TargetedIngestRequest{MessageIDs: []string{" ", ""}})
	if !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("expected missing field, got %v", err)
	}
}

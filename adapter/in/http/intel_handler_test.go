package http

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"intel_server/core/domain"
	"intel_server/core/port/in"
	"intel_server/infra/middleware"
	"intel_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// MockIngestion records the last request.
type MockIngestion struct {
	bulkReq     *in.BulkIngestRequest
	targetedReq *in.TargetedIngestRequest
	err         error
}

func (m *MockIngestion) IngestBulk(ctx context.Context, ownerID uuid.UUID, req *in.BulkIngestRequest) (*in.BulkIngestResult, error) {
	m.bulkReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &in.BulkIngestResult{Total: 3, Unanalyzed: 2, Analyzed: 1, RateLimited: true}, nil
}

func (m *MockIngestion) IngestMessages(ctx context.Context, ownerID uuid.UUID, req *in.TargetedIngestRequest) (*in.TargetedIngestResult, error) {
	m.targetedReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &in.TargetedIngestResult{Processed: len(req.MessageIDs), Errors: []domain.IngestionFailure{}}, nil
}

func (m *MockIngestion) ListRuns(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.IngestionRun, error) {
	return []*domain.IngestionRun{{OwnerID: ownerID, Mode: domain.IngestionModeBulk}}, nil
}

type MockRetrieval struct {
	relatedReq *in.RelatedRequest
	searchReq  *in.SearchRequest
	err        error
}

func (m *MockRetrieval) FindRelated(ctx context.Context, ownerID uuid.UUID, req *in.RelatedRequest) (*in.RelatedResult, error) {
	m.relatedReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &in.RelatedResult{SourceEmail: &domain.EmailMetadata{MessageID: req.MessageID}}, nil
}

func (m *MockRetrieval) Search(ctx context.Context, ownerID uuid.UUID, req *in.SearchRequest) (*in.SearchResult, error) {
	m.searchReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &in.SearchResult{Results: []in.SearchHit{}}, nil
}

var testOwner = uuid.MustParse("6f1f3a52-7a3e-4c1e-9a55-0b7c2d3e4f50")

func newTestApp(ing *MockIngestion, ret *MockRetrieval, authenticated bool) *fiber.App {
	app := fiber.New(fiber.Config{
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: middleware.ErrorHandler(),
	})
	app.Use(func(c *fiber.Ctx) error {
		if authenticated {
			c.Locals(UserIDKey, testOwner)
		}
		return c.Next()
	})
	NewIntelHandler(ing, ret).Register(app.Group("/api/v1"))
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) any {
	errInfo, _ := body["error"].(map[string]any)
	return errInfo["code"]
}

func TestIngestBulk(t *testing.T) {
	ing := &MockIngestion{}
	app := newTestApp(ing, &MockRetrieval{}, true)

	status, body := doRequest(t, app, "POST", "/api/v1/intel/ingest/bulk", `{"labelScope":"INBOX","daysBack":7}`)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if ing.bulkReq.LabelScope != "INBOX" || ing.bulkReq.DaysBack != 7 {
		t.Errorf("request = %+v", ing.bulkReq)
	}
	data := body["data"].(map[string]any)
	if data["rateLimited"] != true || data["analyzed"] != float64(1) {
		t.Errorf("data = %v", data)
	}
}

func TestIngestBulkEmptyBody(t *testing.T) {
	ing := &MockIngestion{}
	app := newTestApp(ing, &MockRetrieval{}, true)

	status, _ := doRequest(t, app, "POST", "/api/v1/intel/ingest/bulk", "")
	if status != 200 || ing.bulkReq == nil {
		t.Fatalf("status = %d, req = %v", status, ing.bulkReq)
	}
}

func TestIngestMessages(t *testing.T) {
	ing := &MockIngestion{}
	app := newTestApp(ing, &MockRetrieval{}, true)

	status, _ := doRequest(t, app, "POST", "/api/v1/intel/ingest", `{"messageIds":["a","b"],"forceReanalyze":true}`)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if len(ing.targetedReq.MessageIDs) != 2 || !ing.targetedReq.ForceReanalyze {
		t.Errorf("request = %+v", ing.targetedReq)
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", apperr.Conflict("ingestion already running"), 409, apperr.CodeConflict},
		{"validation", apperr.MissingField("messageIds"), 400, apperr.CodeMissingField},
		{"unexpected", context.DeadlineExceeded, 500, apperr.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&MockIngestion{err: tt.err}, &MockRetrieval{}, true)
			status, body := doRequest(t, app, "POST", "/api/v1/intel/ingest", `{"messageIds":[]}`)
			if status != tt.status || errorCode(body) != tt.code {
				t.Errorf("got %d %v, want %d %s", status, errorCode(body), tt.status, tt.code)
			}
		})
	}
}

func TestUnauthenticated(t *testing.T) {
	app := newTestApp(&MockIngestion{}, &MockRetrieval{}, false)
	status, body := doRequest(t, app, "POST", "/api/v1/intel/search", `{"query":"x"}`)
	if status != 401 || errorCode(body) != apperr.CodeUnauthorized {
		t.Errorf("got %d %v", status, body)
	}
}

func TestFindRelated(t *testing.T) {
	ret := &MockRetrieval{}
	app := newTestApp(&MockIngestion{}, ret, true)

	status, body := doRequest(t, app, "GET", "/api/v1/intel/messages/m-1/related?limit=5&threshold=0.8", "")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if ret.relatedReq.MessageID != "m-1" || ret.relatedReq.Limit != 5 {
		t.Errorf("request = %+v", ret.relatedReq)
	}
	if ret.relatedReq.Threshold == nil || *ret.relatedReq.Threshold != 0.8 {
		t.Errorf("threshold = %v", ret.relatedReq.Threshold)
	}
	source := body["data"].(map[string]any)["sourceEmail"].(map[string]any)
	if source["message_id"] != "m-1" {
		t.Errorf("source = %v", source)
	}
}

func TestFindRelatedBadThreshold(t *testing.T) {
	app := newTestApp(&MockIngestion{}, &MockRetrieval{}, true)
	status, _ := doRequest(t, app, "GET", "/api/v1/intel/messages/m-1/related?threshold=high", "")
	if status != 400 {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestFindRelatedNotAnalyzed(t *testing.T) {
	app := newTestApp(&MockIngestion{}, &MockRetrieval{err: apperr.NotAnalyzed("m-1")}, true)
	status, body := doRequest(t, app, "GET", "/api/v1/intel/messages/m-1/related", "")
	if status != 404 || errorCode(body) != apperr.CodeNotFound {
		t.Errorf("got %d %v", status, body)
	}
}

func TestSearchFilters(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		check  func(t *testing.T, req *in.SearchRequest)
	}{
		{
			name:   "no filters",
			body:   `{"query":"creation basket","limit":5}`,
			status: 200,
			check: func(t *testing.T, req *in.SearchRequest) {
				if req.Filters != nil || req.Limit != 5 {
					t.Errorf("req = %+v", req)
				}
			},
		},
		{
			name:   "all filters",
			body:   `{"query":"q","filters":{"category":"trade","direction":"Inbound","dateFrom":"2026-01-01","dateTo":"2026-01-31"}}`,
			status: 200,
			check: func(t *testing.T, req *in.SearchRequest) {
				f := req.Filters
				if f == nil || f.Category != domain.CategoryTrade || f.Direction != domain.DirectionInbound {
					t.Fatalf("filters = %+v", f)
				}
				if f.DateTo.Day() != 31 || f.DateTo.Hour() != 23 {
					t.Errorf("dateTo = %v, want end of day", f.DateTo)
				}
			},
		},
		{
			name:   "empty filter object",
			body:   `{"query":"q","filters":{}}`,
			status: 200,
			check: func(t *testing.T, req *in.SearchRequest) {
				if req.Filters != nil {
					t.Errorf("filters = %+v", req.Filters)
				}
			},
		},
		{name: "bad category", body: `{"query":"q","filters":{"category":"SPAM"}}`, status: 400},
		{name: "bad direction", body: `{"query":"q","filters":{"direction":"sideways"}}`, status: 400},
		{name: "bad date", body: `{"query":"q","filters":{"dateFrom":"yesterday"}}`, status: 400},
		{name: "reversed range", body: `{"query":"q","filters":{"dateFrom":"2026-02-01","dateTo":"2026-01-01"}}`, status: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := &MockRetrieval{}
			app := newTestApp(&MockIngestion{}, ret, true)
			status, _ := doRequest(t, app, "POST", "/api/v1/intel/search", tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d", status, tt.status)
			}
			if tt.check != nil {
				tt.check(t, ret.searchReq)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	app := newTestApp(&MockIngestion{}, &MockRetrieval{}, true)
	status, body := doRequest(t, app, "GET", "/api/v1/intel/ingest/runs?limit=5", "")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	meta := body["meta"].(map[string]any)
	if meta["total"] != float64(1) || meta["limit"] != float64(5) {
		t.Errorf("meta = %v", meta)
	}
}

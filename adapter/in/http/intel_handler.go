package http

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"intel_server/core/domain"
	"intel_server/core/port/in"
	"intel_server/pkg/apperr"
	"intel_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// IntelHandler exposes ingestion and retrieval under /intel.
type IntelHandler struct {
	ingestion in.IngestionService
	retrieval in.RetrievalService
}

func NewIntelHandler(ingestion in.IngestionService, retrieval in.RetrievalService) *IntelHandler {
	return &IntelHandler{ingestion: ingestion, retrieval: retrieval}
}

func (h *IntelHandler) Register(router fiber.Router) {
	intel := router.Group("/intel")

	intel.Post("/ingest/bulk", h.IngestBulk)
	intel.Post("/ingest", h.IngestMessages)
	intel.Get("/ingest/runs", h.ListRuns)
	intel.Get("/messages/:id/related", h.FindRelated)
	intel.Post("/search", h.Search)
}

// =============================================================================
// Ingestion
// =============================================================================

func (h *IntelHandler) IngestBulk(c *fiber.Ctx) error {
	ownerID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req in.BulkIngestRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
	}

	result, err := h.ingestion.IngestBulk(c.UserContext(), ownerID, &req)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

func (h *IntelHandler) IngestMessages(c *fiber.Ctx) error {
	ownerID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req in.TargetedIngestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	result, err := h.ingestion.IngestMessages(c.UserContext(), ownerID, &req)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

func (h *IntelHandler) ListRuns(c *fiber.Ctx) error {
	ownerID, err := GetUserID(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", 20)
	runs, err := h.ingestion.ListRuns(c.UserContext(), ownerID, limit)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, runs, &response.Meta{Total: len(runs), Limit: limit})
}

// =============================================================================
// Retrieval
// =============================================================================

func (h *IntelHandler) FindRelated(c *fiber.Ctx) error {
	ownerID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req := &in.RelatedRequest{
		MessageID: c.Params("id"),
		Limit:     c.QueryInt("limit", 0),
	}
	if raw := c.Query("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return apperr.InvalidInput("threshold", "must be a number")
		}
		req.Threshold = &threshold
	}

	result, err := h.retrieval.FindRelated(c.UserContext(), ownerID, req)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

var errInvalidDate = errors.New("use RFC 3339 or YYYY-MM-DD")

// searchBody is the wire shape of a search. Dates accept RFC 3339 or
// YYYY-MM-DD; a bare dateTo covers the whole day.
type searchBody struct {
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
	Filters *struct {
		Category  string `json:"category"`
		DateFrom  string `json:"dateFrom"`
		DateTo    string `json:"dateTo"`
		Direction string `json:"direction"`
	} `json:"filters"`
}

func (h *IntelHandler) Search(c *fiber.Ctx) error {
	ownerID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var body searchBody
	if err := c.BodyParser(&body); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	req, err := body.toRequest()
	if err != nil {
		return err
	}

	result, err := h.retrieval.Search(c.UserContext(), ownerID, req)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

func (b *searchBody) toRequest() (*in.SearchRequest, error) {
	req := &in.SearchRequest{Query: b.Query, Limit: b.Limit}
	if b.Filters == nil {
		return req, nil
	}

	filter := &domain.MetadataFilter{}
	if cat := strings.ToUpper(strings.TrimSpace(b.Filters.Category)); cat != "" {
		filter.Category = domain.Category(cat)
		if !filter.Category.IsValid() {
			return nil, apperr.InvalidInput("filters.category", "unknown category")
		}
	}
	if dir := strings.ToLower(strings.TrimSpace(b.Filters.Direction)); dir != "" {
		filter.Direction = domain.Direction(dir)
		if !filter.Direction.IsValid() {
			return nil, apperr.InvalidInput("filters.direction", "must be inbound or outbound")
		}
	}

	var err error
	if filter.DateFrom, err = parseDate(b.Filters.DateFrom, false); err != nil {
		return nil, apperr.InvalidInput("filters.dateFrom", err.Error())
	}
	if filter.DateTo, err = parseDate(b.Filters.DateTo, true); err != nil {
		return nil, apperr.InvalidInput("filters.dateTo", err.Error())
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return nil, apperr.InvalidInput("filters", "dateTo is before dateFrom")
	}

	if !filter.IsEmpty() {
		req.Filters = filter
	}
	return req, nil
}

func parseDate(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, errInvalidDate
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

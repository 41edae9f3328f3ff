package persistence

import (
	"bytes"
	"database/sql"
	"reflect"
	"strings"
	"testing"
	"time"

	"intel_server/core/domain"
	"intel_server/pkg/crypto"
	"intel_server/pkg/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func TestPgVectorRoundTrip(t *testing.T) {
	vec := []float32{0.125, -1, 3e-05, 0}
	text := pgVector(vec)
	if text != "[0.125,-1,0.00003,0]" {
		t.Errorf("pgVector = %s", text)
	}
	got, err := parseVector(text)
	if err != nil {
		t.Fatalf("parseVector: %v", err)
	}
	if !reflect.DeepEqual(got, vec) {
		t.Errorf("round trip = %v, want %v", got, vec)
	}
}

func TestParseVector_Malformed(t *testing.T) {
	for _, in := range []string{"", "0.1,0.2", "[0.1,abc]", "["} {
		if _, err := parseVector(in); err == nil {
			t.Errorf("parseVector(%q) should fail", in)
		}
	}
	if v, err := parseVector("[]"); err != nil || len(v) != 0 {
		t.Errorf("parseVector([]) = %v, %v", v, err)
	}
}

func TestBuildMetadataQuery(t *testing.T) {
	owner := uuid.New()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildMetadataQuery(owner, []string{"a", "b"}, nil)
	if len(args) != 2 || strings.Contains(query, "category =") {
		t.Errorf("unfiltered query = %s, args = %v", query, args)
	}

	query, args = buildMetadataQuery(owner, []string{"a"}, &domain.MetadataFilter{
		Category:  domain.CategoryTrade,
		Direction: domain.DirectionOutbound,
		DateFrom:  &from,
	})
	for _, want := range []string{"category = $3", "direction = $4", ">= $5"} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q: %s", want, query)
		}
	}
	if len(args) != 5 || args[2] != "TRADE" || args[3] != "outbound" {
		t.Errorf("args = %v", args)
	}
}

func TestExcludeIDs(t *testing.T) {
	got := excludeIDs([]string{"a", "b", "c", "d"}, []string{"d", "b"})
	if !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("excludeIDs = %v", got)
	}
}

func TestMetadataRowToEntity(t *testing.T) {
	row := metadataRow{
		MessageID: "m1",
		Subject:   "Wire",
		Date:      sql.NullTime{Time: time.Unix(1700000000, 0), Valid: true},
		Category:  "SETTLEMENT",
		Direction: "inbound",
		Topics:    pq.StringArray{"wire"},
		Entities:  []byte(`{"people":["Ann"],"tickers":["SPY"]}`),
	}
	meta := row.toEntity(logger.Nop())
	if meta.Category != domain.CategorySettlement || meta.Direction != domain.DirectionInbound {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Entities.People) != 1 || meta.Entities.Tickers[0] != "SPY" {
		t.Errorf("entities = %+v", meta.Entities)
	}
	if meta.Date.Unix() != 1700000000 {
		t.Errorf("date = %v", meta.Date)
	}

	empty := (&metadataRow{MessageID: "m2"}).toEntity(logger.Nop())
	if empty.Topics == nil {
		t.Error("topics must be non-nil")
	}
}

func TestMetadataRowToEntity_BadEntitiesLogged(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: logger.LevelInfo, Output: &buf})

	row := metadataRow{
		MessageID: "m3",
		Subject:   "Recap",
		Topics:    pq.StringArray{"recap"},
		Entities:  []byte(`{"people":["Ann"`),
	}
	meta := row.toEntity(log)

	if meta.MessageID != "m3" || meta.Subject != "Recap" || len(meta.Topics) != 1 {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Entities.People) != 0 {
		t.Errorf("entities = %+v, want empty", meta.Entities)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"message_id":"m3"`) {
		t.Errorf("log output = %s", out)
	}
}

func TestUpsertArgs(t *testing.T) {
	owner := uuid.New()
	rec := &domain.AnalysisRecord{
		MessageID: "m1",
		Category:  domain.CategoryTrade,
		Entities:  domain.Entities{Tickers: []string{"QQQ"}},
		Source:    domain.SourceFallback,
	}
	args, err := upsertArgs(owner, rec)
	if err != nil {
		t.Fatalf("upsertArgs: %v", err)
	}
	if len(args) != 24 {
		t.Fatalf("args = %d, want 24", len(args))
	}
	if args[0] != owner || args[1] != "m1" || args[7] != "TRADE" {
		t.Errorf("args = %v", args[:8])
	}
	if !strings.Contains(args[19].(string), `"QQQ"`) || args[20].(string) != "[]" {
		t.Errorf("json args = %v / %v", args[19], args[20])
	}
	if received := args[6].(sql.NullTime); received.Valid {
		t.Error("zero received time must be NULL")
	}
	if analyzed := args[23].(time.Time); analyzed.IsZero() {
		t.Error("analyzed_at must default to now")
	}
}

func TestTokenAdapter_DecryptsTokens(t *testing.T) {
	enc, err := crypto.NewEncryptor("test-key")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	sealed, _ := enc.Encrypt("access")
	a := NewTokenAdapter(nil, enc)

	token := a.toToken(&tokenRow{
		Email:        "me@example.com",
		AccessToken:  sealed,
		RefreshToken: "plain-refresh",
		ExpiresAt:    sql.NullTime{Time: time.Unix(1700000000, 0), Valid: true},
	})
	if token.AccessToken != "access" || token.RefreshToken != "plain-refresh" || token.ExpiresAt != 1700000000 {
		t.Errorf("token = %+v", token)
	}
}

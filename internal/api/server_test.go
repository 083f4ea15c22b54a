package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solboy/solalerts/internal/config"
	"github.com/solboy/solalerts/internal/domain"
)

type fakeSource struct {
	records []domain.AlertRecord
	mod     time.Time
	loads   int
}

func (s *fakeSource) Load() ([]domain.AlertRecord, error) {
	s.loads++
	return s.records, nil
}
func (s *fakeSource) ModTime() (time.Time, error) { return s.mod, nil }
func (s *fakeSource) Path() string                { return "/nonexistent/alerts.json" }

type fakeSubs struct{ users, groups int }

func (s *fakeSubs) Counts() (int, int) { return s.users, s.groups }

func rec(id, token string, tier int, at time.Time) domain.AlertRecord {
	return domain.AlertRecord{
		ID:        id,
		Token:     token,
		Tier:      tier,
		Level:     domain.LevelForTier(tier),
		Timestamp: at.UTC().Format(time.RFC3339),
		Contract:  "CONTRACT" + token + "11111111111111111111111111",
		Hotlist:   "No",
	}
}

func testServer(records []domain.AlertRecord) (*Server, *fakeSource) {
	source := &fakeSource{records: records, mod: time.Now()}
	cfg := config.APIConfig{Host: "127.0.0.1", Port: 5000, CacheTTL: 5 * time.Second}
	return NewServer(cfg, source, &fakeSubs{users: 4, groups: 2}, zerolog.Nop()), source
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func sampleRecords(now time.Time) []domain.AlertRecord {
	// Stored oldest first, as the journal writes them. ALPHA alerts twice.
	return []domain.AlertRecord{
		rec("A_1", "ALPHA", 3, now.Add(-3*time.Hour)),
		rec("B_1", "BETA", 2, now.Add(-2*time.Hour)),
		rec("A_2", "ALPHA", 1, now.Add(-time.Hour)),
		rec("C_1", "GAMMA", 1, now.Add(-time.Minute)),
	}
}

func TestRecentNewestFirst(t *testing.T) {
	now := time.Now()
	s, _ := testServer(sampleRecords(now))

	w, body := get(t, s, "/api/alerts/recent?dedupe=false")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), body["count"])
	assert.Equal(t, float64(4), body["total_in_storage"])
	assert.Contains(t, body, "timestamp")

	alerts := body["alerts"].([]interface{})
	first := alerts[0].(map[string]interface{})
	assert.Equal(t, "C_1", first["id"])
}

func TestRecentDefaultsDedupeByToken(t *testing.T) {
	now := time.Now()
	s, _ := testServer(sampleRecords(now))

	// No parameters: dedupe is on, so ALPHA appears once, via its most
	// recent record.
	_, body := get(t, s, "/api/alerts/recent")
	assert.Equal(t, float64(3), body["count"])
	assert.Equal(t, float64(4), body["total_in_storage"])

	alerts := body["alerts"].([]interface{})
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.(map[string]interface{})["id"].(string))
	}
	assert.Equal(t, []string{"C_1", "A_2", "B_1"}, ids)
}

func TestRecentDefaultLimitTwenty(t *testing.T) {
	now := time.Now()
	records := make([]domain.AlertRecord, 0, 25)
	for i := 0; i < 25; i++ {
		records = append(records, rec(
			fmt.Sprintf("R_%d", i), fmt.Sprintf("TOKEN%d", i), 2,
			now.Add(-time.Duration(25-i)*time.Minute)))
	}
	s, _ := testServer(records)

	_, body := get(t, s, "/api/alerts/recent")
	assert.Equal(t, float64(20), body["count"])
	assert.Equal(t, float64(25), body["total_in_storage"])
}

func TestRecentLimitAndTier(t *testing.T) {
	now := time.Now()
	s, _ := testServer(sampleRecords(now))

	_, body := get(t, s, "/api/alerts/recent?limit=2&dedupe=false")
	assert.Equal(t, float64(2), body["count"])

	_, body = get(t, s, "/api/alerts/recent?tier=1")
	assert.Equal(t, float64(2), body["count"])

	// The raw log, newest first.
	_, body = get(t, s, "/api/alerts/recent?limit=0&dedupe=false")
	assert.Equal(t, float64(4), body["count"])
}

func TestRecentBadParams(t *testing.T) {
	s, _ := testServer(nil)

	w, body := get(t, s, "/api/alerts/recent?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid limit", body["error"])
	assert.Equal(t, float64(400), body["status"])

	w, _ = get(t, s, "/api/alerts/recent?tier=9")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTiersTopThree(t *testing.T) {
	now := time.Now()
	records := sampleRecords(now)
	for i := 0; i < 5; i++ {
		records = append(records, rec("X", "XRAY", 1, now))
	}
	s, _ := testServer(records)

	_, body := get(t, s, "/api/alerts/tiers")
	tier1 := body["tier1"].([]interface{})
	assert.Len(t, tier1, 3)
	assert.Len(t, body["tier2"].([]interface{}), 1)
	assert.Len(t, body["tier3"].([]interface{}), 1)
}

func TestDailyZeroFilled(t *testing.T) {
	now := time.Now()
	s, _ := testServer(sampleRecords(now))

	_, body := get(t, s, "/api/alerts/stats/daily?days=3")
	days := body["days"].([]interface{})
	require.Len(t, days, 3)
	// Oldest bucket first; only today carries counts.
	first := days[0].(map[string]interface{})
	assert.Equal(t, float64(0), first["total"])
}

func TestStats(t *testing.T) {
	now := time.Now()
	records := sampleRecords(now)
	records = append(records, rec("OLD_1", "DELTA", 3, now.Add(-8*24*time.Hour)))
	s, _ := testServer(records)

	_, body := get(t, s, "/api/stats")
	assert.Equal(t, float64(5), body["totalAlerts"])
	byTier := body["byTier"].(map[string]interface{})
	assert.Equal(t, float64(2), byTier["1"])
	assert.Equal(t, float64(4), body["last24h"])
	// The 8-day-old record falls outside the 7d window.
	assert.Equal(t, float64(4), body["last7d"])

	subs := body["subscribers"].(map[string]interface{})
	assert.Equal(t, float64(4), subs["users"])
	assert.Equal(t, float64(2), subs["groups"])
	assert.Equal(t, float64(6), subs["total"])
}

func TestHealthDegradedWithoutLog(t *testing.T) {
	s, _ := testServer(nil)
	w, body := get(t, s, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["logPresent"])
	assert.Contains(t, body, "counters")
}

func TestCacheRefresh(t *testing.T) {
	now := time.Now()
	s, source := testServer(sampleRecords(now))

	get(t, s, "/api/alerts/recent")
	get(t, s, "/api/alerts/recent")
	loadsBefore := source.loads

	// GET is the documented form; POST stays accepted.
	w, _ := get(t, s, "/api/cache/refresh")
	assert.Equal(t, http.StatusOK, w.Code)

	get(t, s, "/api/alerts/recent")
	assert.Greater(t, source.loads, loadsBefore)

	req := httptest.NewRequest(http.MethodPost, "/api/cache/refresh", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)
	assert.Equal(t, http.StatusOK, rw.Code)
}

func TestCacheInvalidatesOnModTime(t *testing.T) {
	now := time.Now()
	s, source := testServer(sampleRecords(now))

	get(t, s, "/api/alerts/recent")
	loads := source.loads

	// Unchanged mtime inside the TTL: served from cache.
	get(t, s, "/api/alerts/recent")
	assert.Equal(t, loads, source.loads)

	// A new mtime forces a reload even inside the TTL.
	source.mod = source.mod.Add(time.Second)
	get(t, s, "/api/alerts/recent")
	assert.Greater(t, source.loads, loads)
}

func TestNotFoundShape(t *testing.T) {
	s, _ := testServer(nil)
	w, body := get(t, s, "/api/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", body["error"])
}

func TestCORSHeaders(t *testing.T) {
	s, _ := testServer(nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/alerts/recent", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

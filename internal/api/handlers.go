package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/metrics"
)

const defaultRecentLimit = 20

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Status: status})
}

// handleRecent serves /api/alerts/recent. limit=0 returns everything;
// dedupe keeps only the most recent record per token and is on unless
// dedupe=false is passed.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	records, err := s.cache.get(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "alert log unavailable")
		return
	}

	q := r.URL.Query()
	limit := defaultRecentLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	tier := 0
	if v := q.Get("tier"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 3 {
			writeError(w, http.StatusBadRequest, "invalid tier")
			return
		}
		tier = n
	}
	dedupe := true
	if v := q.Get("dedupe"); v != "" {
		dedupe = v == "true"
	}

	out := make([]domain.AlertRecord, 0, len(records))
	seen := map[string]bool{}
	for _, rec := range records {
		if tier != 0 && rec.Tier != tier {
			continue
		}
		if dedupe {
			key := domain.NormalizeSymbol(rec.Token)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts":           out,
		"count":            len(out),
		"total_in_storage": len(records),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStats serves /api/stats: totals, per-tier counts, 24h and 7d
// volume, and the subscriber counts from the external registry.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.cache.get(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "alert log unavailable")
		return
	}
	byTier := map[string]int{"1": 0, "2": 0, "3": 0}
	last24h, last7d := 0, 0
	cutoff24 := time.Now().Add(-24 * time.Hour)
	cutoff7d := time.Now().Add(-7 * 24 * time.Hour)
	var latest string
	for _, rec := range records {
		byTier[strconv.Itoa(rec.Tier)]++
		at := rec.Time()
		if at.After(cutoff24) {
			last24h++
		}
		if at.After(cutoff7d) {
			last7d++
		}
	}
	if len(records) > 0 {
		latest = records[0].Timestamp
	}
	users, groups := 0, 0
	if s.subs != nil {
		users, groups = s.subs.Counts()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalAlerts": len(records),
		"byTier":      byTier,
		"last24h":     last24h,
		"last7d":      last7d,
		"latest":      latest,
		"subscribers": map[string]int{
			"users":  users,
			"groups": groups,
			"total":  users + groups,
		},
	})
}

// handleTiers serves /api/alerts/tiers: the three most recent records of
// each tier.
func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	records, err := s.cache.get(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "alert log unavailable")
		return
	}
	out := map[string][]domain.AlertRecord{
		"tier1": {}, "tier2": {}, "tier3": {},
	}
	for _, rec := range records {
		key := "tier" + strconv.Itoa(rec.Tier)
		if bucket, ok := out[key]; ok && len(bucket) < 3 {
			out[key] = append(bucket, rec)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDaily serves /api/alerts/stats/daily: one bucket per calendar
// day, zero-filled so charting clients get a continuous series.
func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	records, err := s.cache.get(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "alert log unavailable")
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 90 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = n
	}

	type bucket struct {
		Date  string         `json:"date"`
		Total int            `json:"total"`
		Tiers map[string]int `json:"tiers"`
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	buckets := make([]bucket, days)
	index := make(map[string]*bucket, days)
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, -(days - 1 - i))
		buckets[i] = bucket{
			Date:  day.Format("2006-01-02"),
			Tiers: map[string]int{"1": 0, "2": 0, "3": 0},
		}
		index[buckets[i].Date] = &buckets[i]
	}
	for _, rec := range records {
		day := rec.Time().UTC().Format("2006-01-02")
		if b, ok := index[day]; ok {
			b.Total++
			b.Tiers[strconv.Itoa(rec.Tier)]++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": buckets})
}

// handleHealth serves /api/health: file presence plus the pipeline
// counter snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, statErr := os.Stat(s.cache.source.Path())
	logPresent := statErr == nil
	status := "ok"
	if !logPresent {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"logPresent": logPresent,
		"logPath":    s.cache.source.Path(),
		"uptimeSec":  int(time.Since(s.startedAt).Seconds()),
		"counters":   metrics.Gather(),
	})
}

// handleCacheRefresh serves /api/cache/refresh.
func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	s.cache.invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

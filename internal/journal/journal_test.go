package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solboy/solalerts/internal/config"
	"github.com/solboy/solalerts/internal/domain"
)

func testJournal(t *testing.T) (*Journal, config.JournalConfig) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.JournalConfig{
		Path:       filepath.Join(dir, "alerts.json"),
		BackupDir:  filepath.Join(dir, "backups"),
		MaxBackups: 2,
	}
	return New(cfg, zerolog.Nop()), cfg
}

func record(id string, ts time.Time) domain.AlertRecord {
	return domain.AlertRecord{
		ID:        id,
		Token:     "PEPE",
		Tier:      1,
		Level:     "HIGH",
		Timestamp: ts.UTC().Format(time.RFC3339),
		Contract:  "SO11111111111111111111111111111111111111112",
		Hotlist:   "Yes",
	}
}

func TestAppendLoadRoundtrip(t *testing.T) {
	j, _ := testJournal(t)
	now := time.Now()

	id, err := j.Append(record("SO111111_2026-08-24", now))
	require.NoError(t, err)
	assert.Equal(t, "SO111111_2026-08-24", id)

	records, err := j.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PEPE", records[0].Token)
	assert.Equal(t, "HIGH", records[0].Level)
}

func TestAppendIDCollision(t *testing.T) {
	j, _ := testJournal(t)
	now := time.Now()

	id1, err := j.Append(record("SO111111_2026-08-24", now))
	require.NoError(t, err)
	id2, err := j.Append(record("SO111111_2026-08-24", now.Add(time.Minute)))
	require.NoError(t, err)
	id3, err := j.Append(record("SO111111_2026-08-24", now.Add(2*time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, "SO111111_2026-08-24", id1)
	assert.Equal(t, "SO111111_2026-08-24_v2", id2)
	assert.Equal(t, "SO111111_2026-08-24_v3", id3)
}

func TestUpdateSocial(t *testing.T) {
	j, _ := testJournal(t)
	_, err := j.Append(record("A_2026-08-24", time.Now()))
	require.NoError(t, err)

	callers, subs := 34, 120000
	require.NoError(t, j.UpdateSocial("pepe", 0, &callers, &subs))

	records, err := j.Load()
	require.NoError(t, err)
	require.NotNil(t, records[0].Callers)
	assert.Equal(t, 34, *records[0].Callers)
	require.NotNil(t, records[0].Subs)
	assert.Equal(t, 120000, *records[0].Subs)

	// Unknown symbol is a no-op.
	require.NoError(t, j.UpdateSocial("NOPE", 0, &callers, nil))
}

func TestUpdateSocialMatchesEveryRecordForSymbol(t *testing.T) {
	j, _ := testJournal(t)
	now := time.Now()

	// Two same-day alerts for the token: the second is stored with a
	// collision-suffixed id. Plus an unrelated token.
	_, err := j.Append(record("A_2026-08-24", now))
	require.NoError(t, err)
	_, err = j.Append(record("A_2026-08-24", now.Add(10*time.Minute)))
	require.NoError(t, err)
	other := record("B_2026-08-24", now)
	other.Token = "DOGE"
	_, err = j.Append(other)
	require.NoError(t, err)

	callers, subs := 25, 150000
	require.NoError(t, j.UpdateSocial("$PEPE", 0, &callers, &subs))

	records, err := j.Load()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records {
		if rec.Token == "PEPE" {
			require.NotNil(t, rec.Callers, rec.ID)
			assert.Equal(t, 25, *rec.Callers, rec.ID)
		} else {
			assert.Nil(t, rec.Callers, rec.ID)
		}
	}
}

func TestUpdateSocialTierFilter(t *testing.T) {
	j, _ := testJournal(t)
	now := time.Now()

	tier1 := record("A_2026-08-24", now)
	tier2 := record("A2_2026-08-24", now.Add(time.Minute))
	tier2.Tier = 2
	_, err := j.Append(tier1)
	require.NoError(t, err)
	_, err = j.Append(tier2)
	require.NoError(t, err)

	callers := 40
	require.NoError(t, j.UpdateSocial("PEPE", 2, &callers, nil))

	records, err := j.Load()
	require.NoError(t, err)
	for _, rec := range records {
		if rec.Tier == 2 {
			require.NotNil(t, rec.Callers)
			assert.Equal(t, 40, *rec.Callers)
		} else {
			assert.Nil(t, rec.Callers)
		}
	}
}

func TestLogDocumentShape(t *testing.T) {
	j, cfg := testJournal(t)
	_, err := j.Append(record("A_2026-08-24", time.Now()))
	require.NoError(t, err)

	b, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)

	var doc struct {
		Alerts      []domain.AlertRecord `json:"alerts"`
		LastUpdated string               `json:"last_updated"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	require.Len(t, doc.Alerts, 1)
	assert.Equal(t, "A_2026-08-24", doc.Alerts[0].ID)
	_, err = time.Parse("2006-01-02T15:04:05-07:00", doc.LastUpdated)
	assert.NoError(t, err)
}

func TestLoadLegacyArrayLog(t *testing.T) {
	j, cfg := testJournal(t)
	legacy, err := json.Marshal([]domain.AlertRecord{record("A_2026-08-24", time.Now())})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.Path, legacy, 0o644))

	records, err := j.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A_2026-08-24", records[0].ID)
}

func TestMerge(t *testing.T) {
	j, _ := testJournal(t)
	now := time.Now()
	_, err := j.Append(record("A_2026-08-24", now))
	require.NoError(t, err)

	added, err := j.Merge([]domain.AlertRecord{
		record("A_2026-08-24", now),                         // duplicate, skipped
		record("B_2026-08-24", now.Add(-time.Hour)),         // new, sorts first
		record("C_2026-08-24", now.Add(time.Hour)),          // new
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	records, err := j.Load()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "B_2026-08-24", records[0].ID)
}

func TestEmergencyRecovery(t *testing.T) {
	j, cfg := testJournal(t)
	now := time.Now()
	_, err := j.Append(record("A_2026-08-24", now))
	require.NoError(t, err)

	// Simulate a crash that left records in the sidecar.
	sidecar := filepath.Join(filepath.Dir(cfg.Path), "alerts.jsonl.emergency")
	line1, _ := json.Marshal(record("B_2026-08-24", now.Add(time.Minute)))
	line2, _ := json.Marshal(record("A_2026-08-24", now)) // already in the log
	content := append(append(line1, '\n'), append(line2, '\n')...)
	require.NoError(t, os.WriteFile(sidecar, content, 0o644))

	merged, err := j.RecoverEmergency()
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	records, err := j.Load()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = os.Stat(sidecar)
	assert.True(t, os.IsNotExist(err))
}

func TestBackupRotation(t *testing.T) {
	j, cfg := testJournal(t)
	now := time.Now()
	for i, id := range []string{"A_2026-08-24", "B_2026-08-24", "C_2026-08-24", "D_2026-08-24"} {
		_, err := j.Append(record(id, now.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), cfg.MaxBackups)
	assert.NotEmpty(t, entries)
}

func TestLockExcludesSecondWriter(t *testing.T) {
	j, cfg := testJournal(t)
	require.NoError(t, j.Open())
	defer j.Close()

	second := New(cfg, zerolog.Nop())
	err := second.Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by running pid")
}

func TestStaleLockIsReplaced(t *testing.T) {
	j, cfg := testJournal(t)
	// A lock left by a PID that no longer exists.
	require.NoError(t, os.WriteFile(cfg.Path+".lock", []byte("999999999\n"), 0o644))

	require.NoError(t, j.Open())
	defer j.Close()

	b, err := os.ReadFile(cfg.Path + ".lock")
	require.NoError(t, err)
	assert.NotEqual(t, "999999999\n", string(b))
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	j, cfg := testJournal(t)
	_, err := j.Append(record("A_2026-08-24", time.Now()))
	require.NoError(t, err)

	matches, err := filepath.Glob(cfg.Path + ".tmp.*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

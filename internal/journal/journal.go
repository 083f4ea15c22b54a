// Package journal owns the durable alert log: a single JSON document
// rewritten atomically on every append, with rotating backups, an
// emergency JSONL sidecar for writes that exhaust their retries, and a
// PID lock file that keeps two writers off the same log.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/solboy/solalerts/internal/config"
	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/metrics"
)

const (
	writeRetries     = 5
	retryBackoffBase = 50 * time.Millisecond
	retryBackoffCap  = 800 * time.Millisecond

	// last_updated layout, ISO8601 with an explicit offset.
	isoLayout = "2006-01-02T15:04:05-07:00"
)

// logDocument is the persisted shape of the log file.
type logDocument struct {
	Alerts      []domain.AlertRecord `json:"alerts"`
	LastUpdated string               `json:"last_updated"`
}

// Journal serializes all mutations of the alert log behind one mutex.
// Readers go through Load, which re-reads the file so the API process
// can share the log with the pipeline process.
type Journal struct {
	mu     sync.Mutex
	cfg    config.JournalConfig
	log    zerolog.Logger
	tmpSeq atomic.Uint64
}

// New builds a journal over cfg. It does not touch the filesystem; call
// Open to acquire the lock and recover the sidecar.
func New(cfg config.JournalConfig, log zerolog.Logger) *Journal {
	return &Journal{cfg: cfg, log: log.With().Str("component", "journal").Logger()}
}

// Open acquires the lock file and merges any emergency records left by
// a previous crash into the primary log.
func (j *Journal) Open() error {
	if err := j.acquireLock(); err != nil {
		return err
	}
	recovered, err := j.RecoverEmergency()
	if err != nil {
		return err
	}
	if recovered > 0 {
		j.log.Info().Int("records", recovered).Msg("recovered emergency records")
	}
	return nil
}

// Close releases the lock file.
func (j *Journal) Close() {
	os.Remove(j.lockPath())
}

// Append adds a record to the log. The record id is made unique against
// the existing log before writing; the stored id is returned.
func (j *Journal) Append(rec domain.AlertRecord) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.load()
	if err != nil {
		// Unreadable primary: preserve the alert in the sidecar rather
		// than lose it.
		j.log.Error().Err(err).Msg("primary log unreadable, writing emergency record")
		return rec.ID, j.writeEmergency(rec)
	}

	rec.ID = uniqueID(rec.ID, records)
	records = append(records, rec)

	if err := j.writeWithRetry(records); err != nil {
		metrics.EmergencyWrites.Inc()
		j.log.Error().Err(err).Str("id", rec.ID).Msg("log write failed, writing emergency record")
		if eerr := j.writeEmergency(rec); eerr != nil {
			return rec.ID, fmt.Errorf("log write failed (%v) and emergency write failed: %w", err, eerr)
		}
		return rec.ID, nil
	}
	return rec.ID, nil
}

// UpdateSocial patches the caller and subscriber counts of every record
// whose token matches the given symbol, across all tiers when tier is 0.
// This is the only permitted mutation of a written record; a symbol with
// no matching records is a no-op.
func (j *Journal) UpdateSocial(token string, tier int, callers, subs *int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	want := domain.NormalizeSymbol(token)
	if want == "" {
		return nil
	}
	records, err := j.load()
	if err != nil {
		return err
	}
	changed := false
	for i := range records {
		if domain.NormalizeSymbol(records[i].Token) != want {
			continue
		}
		if tier != 0 && records[i].Tier != tier {
			continue
		}
		if callers != nil {
			records[i].Callers = callers
		}
		if subs != nil {
			records[i].Subs = subs
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return j.writeWithRetry(records)
}

// Merge inserts records whose ids are absent from the log, keeping
// their ids as-is, and reports how many were added. Used by the mirror
// reconciliation at startup.
func (j *Journal) Merge(recs []domain.AlertRecord) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.load()
	if err != nil {
		return 0, err
	}
	existing := make(map[string]bool, len(records))
	for _, r := range records {
		existing[r.ID] = true
	}
	added := 0
	for _, rec := range recs {
		if rec.ID == "" || existing[rec.ID] {
			continue
		}
		records = append(records, rec)
		existing[rec.ID] = true
		added++
	}
	if added == 0 {
		return 0, nil
	}
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].Time().Before(records[b].Time())
	})
	return added, j.writeWithRetry(records)
}

// Load returns every record in the log, oldest first. A missing file is
// an empty log.
func (j *Journal) Load() ([]domain.AlertRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load()
}

// ModTime reports the primary log's mtime for cache invalidation.
func (j *Journal) ModTime() (time.Time, error) {
	fi, err := os.Stat(j.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// Path exposes the primary log location.
func (j *Journal) Path() string { return j.cfg.Path }

func (j *Journal) load() ([]domain.AlertRecord, error) {
	b, err := os.ReadFile(j.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	var doc logDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		// Logs written before the document envelope are a bare array.
		var records []domain.AlertRecord
		if aerr := json.Unmarshal(b, &records); aerr == nil {
			return records, nil
		}
		return nil, fmt.Errorf("parse log: %w", err)
	}
	return doc.Alerts, nil
}

// writeWithRetry rewrites the log atomically, backing off between
// attempts, and rotates a backup after a successful write.
func (j *Journal) writeWithRetry(records []domain.AlertRecord) error {
	var lastErr error
	backoff := retryBackoffBase
	for attempt := 0; attempt < writeRetries; attempt++ {
		if attempt > 0 {
			metrics.JournalRetries.Inc()
			time.Sleep(backoff)
			backoff *= 2
			if backoff > retryBackoffCap {
				backoff = retryBackoffCap
			}
		}
		if lastErr = j.writeAtomic(records); lastErr == nil {
			j.rotateBackup()
			return nil
		}
	}
	return lastErr
}

// writeAtomic writes the full document to a temp file, fsyncs it and
// renames it over the primary. Readers only ever see a complete file.
func (j *Journal) writeAtomic(records []domain.AlertRecord) error {
	if dir := filepath.Dir(j.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	doc := logDocument{
		Alerts:      records,
		LastUpdated: time.Now().UTC().Format(isoLayout),
	}
	if doc.Alerts == nil {
		doc.Alerts = []domain.AlertRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := fmt.Sprintf("%s.tmp.%d.%d", j.cfg.Path, os.Getpid(), j.tmpSeq.Add(1))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, j.cfg.Path)
}

// rotateBackup snapshots the freshly written log into the backup dir and
// prunes to MaxBackups. Backup failures are logged, never propagated.
func (j *Journal) rotateBackup() {
	if j.cfg.BackupDir == "" || j.cfg.MaxBackups <= 0 {
		return
	}
	if err := os.MkdirAll(j.cfg.BackupDir, 0o755); err != nil {
		j.log.Warn().Err(err).Msg("backup dir unavailable")
		return
	}
	data, err := os.ReadFile(j.cfg.Path)
	if err != nil {
		j.log.Warn().Err(err).Msg("backup read failed")
		return
	}
	name := fmt.Sprintf("%s.%s.bak", filepath.Base(j.cfg.Path), time.Now().UTC().Format("20060102T150405"))
	if err := os.WriteFile(filepath.Join(j.cfg.BackupDir, name), data, 0o644); err != nil {
		j.log.Warn().Err(err).Msg("backup write failed")
		return
	}
	j.pruneBackups()
}

func (j *Journal) pruneBackups() {
	entries, err := os.ReadDir(j.cfg.BackupDir)
	if err != nil {
		return
	}
	base := filepath.Base(j.cfg.Path) + "."
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), base) && strings.HasSuffix(e.Name(), ".bak") {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups) // timestamped names sort chronologically
	for len(backups) > j.cfg.MaxBackups {
		os.Remove(filepath.Join(j.cfg.BackupDir, backups[0]))
		backups = backups[1:]
	}
}

func (j *Journal) emergencyPath() string {
	return strings.TrimSuffix(j.cfg.Path, filepath.Ext(j.cfg.Path)) + ".jsonl.emergency"
}

// writeEmergency appends one record to the JSONL sidecar. The sidecar is
// append-only and line-oriented so a torn write loses one line at most.
func (j *Journal) writeEmergency(rec domain.AlertRecord) error {
	f, err := os.OpenFile(j.emergencyPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open emergency log: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("emergency append: %w", err)
	}
	return f.Sync()
}

// RecoverEmergency merges sidecar records into the primary log and
// truncates the sidecar. Records whose id already exists are skipped.
func (j *Journal) RecoverEmergency() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.emergencyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	records, err := j.load()
	if err != nil {
		return 0, err
	}
	existing := make(map[string]bool, len(records))
	for _, r := range records {
		existing[r.ID] = true
	}

	merged := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec domain.AlertRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			j.log.Warn().Err(err).Msg("skipping corrupt emergency line")
			continue
		}
		if existing[rec.ID] {
			continue
		}
		records = append(records, rec)
		existing[rec.ID] = true
		merged++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if merged == 0 {
		os.Remove(j.emergencyPath())
		return 0, nil
	}

	sort.SliceStable(records, func(a, b int) bool {
		return records[a].Time().Before(records[b].Time())
	})
	if err := j.writeWithRetry(records); err != nil {
		return 0, fmt.Errorf("merge emergency records: %w", err)
	}
	os.Remove(j.emergencyPath())
	return merged, nil
}

func (j *Journal) lockPath() string { return j.cfg.Path + ".lock" }

// acquireLock creates the PID lock file. A lock held by a live process
// is fatal; a stale lock from a dead PID is replaced.
func (j *Journal) acquireLock() error {
	path := j.lockPath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock: %w", err)
		}
		pid, perr := readLockPID(path)
		if perr == nil && pidAlive(pid) {
			return fmt.Errorf("log %s locked by running pid %d", j.cfg.Path, pid)
		}
		j.log.Warn().Int("pid", pid).Msg("removing stale lock file")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
	}
}

func readLockPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(b)), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}

// uniqueID suffixes the base id with _v2, _v3, ... until it collides
// with nothing in the log.
func uniqueID(base string, records []domain.AlertRecord) string {
	taken := make(map[string]bool, len(records))
	for _, r := range records {
		taken[r.ID] = true
	}
	if !taken[base] {
		return base
	}
	for v := 2; ; v++ {
		id := fmt.Sprintf("%s_v%d", base, v)
		if !taken[id] {
			return id
		}
	}
}

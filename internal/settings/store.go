package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Storage areas model the host's two preference stores: local is
// profile-scoped, sync is mirrored across devices. Synced settings take
// precedence on a fresh install.
const (
	areaLocal = "local"
	areaSync  = "sync"

	keySettings = "settings"
	keyRecovery = "playbackRecovery"
	keyDraft    = "panelDraft"
)

// RecoveryRecord is the minimal playback-state mirror written on every
// state transition so a restarted controller re-enters idle cleanly.
type RecoveryRecord struct {
	State       string `json:"state"`
	UtteranceID uint64 `json:"utterance_id"`
	StartedAtMS int64  `json:"started_at_ms"`
}

// Store persists settings, the playback recovery mirror and the panel
// draft in a small SQLite key-value table split by area.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store at path, creating parent directories and
// the schema as needed.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "settings-store")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS kv (
    area TEXT NOT NULL,
    key TEXT NOT NULL,
    value BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY(area, key)
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) get(ctx context.Context, area, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE area = ? AND key = ?`, area, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) put(ctx context.Context, area, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(area, key, value, updated_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(area, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		area, key, value, s.clock().UTC())
	return err
}

// LoadSettings reads the persisted record. The local area wins; a
// missing local record falls back to the sync area and is copied
// forward. Corruption or store faults reset to defaults and log.
func (s *Store) LoadSettings(ctx context.Context) Record {
	rec, ok := s.loadArea(ctx, areaLocal)
	if !ok {
		if synced, okSync := s.loadArea(ctx, areaSync); okSync {
			rec = synced
			if err := s.writeArea(ctx, areaLocal, rec); err != nil {
				s.log.Warn("failed to adopt synced settings", slog.String("error", err.Error()))
			}
		} else {
			rec = Defaults()
		}
	}
	rec.Normalize(nil)
	return rec
}

func (s *Store) loadArea(ctx context.Context, area string) (Record, bool) {
	data, found, err := s.get(ctx, area, keySettings)
	if err != nil {
		s.log.Warn("settings read failed, using defaults", slog.String("area", area), slog.String("error", err.Error()))
		return Record{}, false
	}
	if !found {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("settings corrupt, resetting to defaults", slog.String("area", area), slog.String("error", err.Error()))
		return Record{}, false
	}
	return rec, true
}

// SaveSettings persists the record to both areas. The record must
// already be normalized; writes are field-atomic because the whole
// record is one row.
func (s *Store) SaveSettings(ctx context.Context, rec Record) error {
	if err := s.writeArea(ctx, areaLocal, rec); err != nil {
		return err
	}
	if err := s.writeArea(ctx, areaSync, rec); err != nil {
		s.log.Warn("sync-area settings write failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Store) writeArea(ctx context.Context, area string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.put(ctx, area, keySettings, data)
}

// LoadRecovery reads the playback recovery mirror; missing or corrupt
// records read as idle.
func (s *Store) LoadRecovery(ctx context.Context) RecoveryRecord {
	data, found, err := s.get(ctx, areaLocal, keyRecovery)
	if err != nil || !found {
		if err != nil {
			s.log.Warn("recovery read failed", slog.String("error", err.Error()))
		}
		return RecoveryRecord{State: "idle"}
	}
	var rec RecoveryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("recovery record corrupt", slog.String("error", err.Error()))
		return RecoveryRecord{State: "idle"}
	}
	return rec
}

// SaveRecovery mirrors the playback state. Write faults are swallowed;
// playback continues in memory.
func (s *Store) SaveRecovery(ctx context.Context, rec RecoveryRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.put(ctx, areaLocal, keyRecovery, data); err != nil {
		s.log.Warn("recovery write failed", slog.String("error", err.Error()))
	}
}

// SaveDraft autosaves the panel's text input. Failures are logged and
// ignored.
func (s *Store) SaveDraft(text string) error {
	err := s.put(context.Background(), areaLocal, keyDraft, []byte(text))
	if err != nil {
		s.log.Warn("draft autosave failed", slog.String("error", err.Error()))
	}
	return err
}

// LoadDraft restores the last autosaved panel text.
func (s *Store) LoadDraft() (string, bool) {
	data, found, err := s.get(context.Background(), areaLocal, keyDraft)
	if err != nil || !found {
		return "", false
	}
	return string(data), true
}

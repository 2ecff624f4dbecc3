package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/state"
	apperrors "vega-agent/backend/pkg/errors"
	"vega-agent/backend/pkg/logger"
)

// SQLiteStore is the default Memory Store, backed by a single SQLite file
type SQLiteStore struct {
	db       *sql.DB
	path     string
	embedder embedding.Embedder
	opts     options
	mu       sync.RWMutex
	logger   *zap.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	response TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);

CREATE TABLE IF NOT EXISTS memory_entries (
	id TEXT PRIMARY KEY,
	turn_id TEXT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_session ON memory_entries(session_id, created_at);

CREATE TABLE IF NOT EXISTS command_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	command TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_session ON command_history(session_id, id);
`

// NewSQLiteStore opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway store.
// Fails with ErrDimensionMismatch when stored vectors disagree with the embedder.
func NewSQLiteStore(path string, embedder embedding.Embedder, opts ...Option) (*SQLiteStore, error) {
	log := logger.Get()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, apperrors.NewStorageFailed("create directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStorageFailed("open database", err)
	}
	// one connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("Failed to set sqlite busy_timeout", zap.Error(err))
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			log.Debug("Failed to set sqlite journal_mode=WAL", zap.Error(err))
		}
	}

	s := &SQLiteStore{
		db:       db,
		path:     path,
		embedder: embedder,
		opts:     buildOptions(opts),
		logger:   log,
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, apperrors.NewStorageFailed("initialize schema", err)
	}
	if err := s.checkDimensions(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("Memory store opened",
		zap.String("backend", "sqlite"),
		zap.String("path", path),
		zap.String("embedder", embedder.Name()),
		zap.Int("dimension", embedder.Dimensions()),
	)
	return s, nil
}

// checkDimensions rejects databases written with a different embedder
func (s *SQLiteStore) checkDimensions() error {
	rows, err := s.db.Query(`SELECT DISTINCT dimension FROM memory_entries`)
	if err != nil {
		return apperrors.NewStorageFailed("read dimensions", err)
	}
	defer rows.Close()

	want := s.embedder.Dimensions()
	for rows.Next() {
		var dim int
		if err := rows.Scan(&dim); err != nil {
			return apperrors.NewStorageFailed("read dimensions", err)
		}
		if dim != want {
			return apperrors.NewDimensionMismatch(want, dim)
		}
	}
	return rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record embeds content and appends it to the session
func (s *SQLiteStore) Record(ctx context.Context, sessionID string, role state.Role, content string) (*Entry, error) {
	if err := validateRecord(sessionID, role); err != nil {
		return nil, err
	}
	vec, err := embed(ctx, s.embedder, content)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := insertEntry(ctx, s.db, "", entry); err != nil {
		return nil, apperrors.NewStorageFailed("record entry", err)
	}
	return entry, nil
}

// RecordTurn writes the turn row and its user and agent entries in one transaction
func (s *SQLiteStore) RecordTurn(ctx context.Context, turn *state.Turn, promptEmbedding []float32) error {
	if err := validateTurn(turn); err != nil {
		return err
	}

	var err error
	if promptEmbedding == nil {
		if promptEmbedding, err = embed(ctx, s.embedder, turn.Prompt); err != nil {
			return err
		}
	} else if err := checkQuery(s.embedder.Dimensions(), promptEmbedding); err != nil {
		return err
	}
	responseEmbedding, err := embed(ctx, s.embedder, turn.Response)
	if err != nil {
		return err
	}

	user, agent := turnEntries(turn, promptEmbedding, responseEmbedding)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageFailed("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, prompt, response, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Prompt, turn.Response, turn.CreatedAt.UnixNano(),
	); err != nil {
		return apperrors.NewStorageFailed("record turn", err)
	}
	if err := insertEntry(ctx, tx, turn.ID, user); err != nil {
		return apperrors.NewStorageFailed("record user entry", err)
	}
	if err := insertEntry(ctx, tx, turn.ID, agent); err != nil {
		return apperrors.NewStorageFailed("record agent entry", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageFailed("commit turn", err)
	}

	s.logger.Debug("Turn recorded",
		zap.String(logger.SessionField, turn.SessionID),
		zap.String("turn_id", turn.ID),
	)
	return nil
}

// turnEntries builds the two entries of a completed turn.
// The agent entry is stamped after the user entry so ties never reorder them.
func turnEntries(turn *state.Turn, promptVec, responseVec []float32) (*Entry, *Entry) {
	created := turn.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	answered := time.Now().UTC()
	if !answered.After(created) {
		answered = created.Add(time.Microsecond)
	}

	user := &Entry{
		ID:        uuid.New().String(),
		SessionID: turn.SessionID,
		Role:      state.RoleUser,
		Content:   turn.Prompt,
		Embedding: promptVec,
		CreatedAt: created,
	}
	agent := &Entry{
		ID:        uuid.New().String(),
		SessionID: turn.SessionID,
		Role:      state.RoleAgent,
		Content:   turn.Response,
		Embedding: responseVec,
		CreatedAt: answered,
	}
	return user, agent
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, turnID string, e *Entry) error {
	var turn interface{}
	if turnID != "" {
		turn = turnID
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, turn_id, session_id, role, content, embedding, dimension, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, turn, e.SessionID, string(e.Role), e.Content, encodeVector(e.Embedding), len(e.Embedding), e.CreatedAt.UnixNano(),
	)
	return err
}

// Retrieve scans the session's entries and ranks them against query
func (s *SQLiteStore) Retrieve(ctx context.Context, sessionID string, query []float32, k int) ([]Entry, error) {
	if err := checkQuery(s.embedder.Dimensions(), query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Entry{}, nil
	}

	entries, err := s.queryEntries(ctx,
		`SELECT id, session_id, role, content, embedding, created_at FROM memory_entries WHERE session_id = ?`,
		sessionID)
	if err != nil {
		return nil, apperrors.NewStorageFailed("retrieve", err)
	}
	return Rank(entries, query, k), nil
}

// History returns the newest limit entries in chronological order
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	query := `SELECT id, session_id, role, content, embedding, created_at FROM memory_entries
		WHERE session_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageFailed("history", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			role    string
			blob    []byte
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &role, &e.Content, &blob, &created); err != nil {
			return nil, err
		}
		e.Role = state.Role(role)
		e.CreatedAt = time.Unix(0, created).UTC()
		if e.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListSessions returns every session ordered by last activity, newest first
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM memory_entries
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, apperrors.NewStorageFailed("list sessions", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var (
			info        SessionInfo
			first, last int64
		)
		if err := rows.Scan(&info.SessionID, &info.Entries, &first, &last); err != nil {
			return nil, apperrors.NewStorageFailed("list sessions", err)
		}
		info.FirstSeen = time.Unix(0, first).UTC()
		info.LastSeen = time.Unix(0, last).UTC()
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageFailed("list sessions", err)
	}
	return sessions, nil
}

// SessionExists reports whether the session has any entries
func (s *SQLiteStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_entries WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return false, apperrors.NewStorageFailed("session exists", err)
	}
	return n > 0, nil
}

// Stats returns store-wide counters
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		Dimension: s.embedder.Dimensions(),
		Embedder:  s.embedder.Name(),
		Backend:   "sqlite",
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT session_id) FROM memory_entries`).Scan(&stats.Entries, &stats.Sessions)
	if err != nil {
		return nil, apperrors.NewStorageFailed("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&stats.Turns); err != nil {
		return nil, apperrors.NewStorageFailed("stats", err)
	}
	return stats, nil
}

// RecordCommand appends line unless it repeats the previous command,
// then trims the session's history to the configured length
func (s *SQLiteStore) RecordCommand(ctx context.Context, sessionID, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var last string
	err := s.db.QueryRowContext(ctx,
		`SELECT command FROM command_history WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return apperrors.NewStorageFailed("record command", err)
	}
	if last == line {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO command_history (session_id, command, created_at) VALUES (?, ?, ?)`,
		sessionID, line, time.Now().UTC().UnixNano()); err != nil {
		return apperrors.NewStorageFailed("record command", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM command_history WHERE session_id = ? AND id NOT IN (
			SELECT id FROM command_history WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`, sessionID, sessionID, s.opts.commandHistoryLength); err != nil {
		return apperrors.NewStorageFailed("trim command history", err)
	}
	return nil
}

// CommandHistory returns up to limit commands, newest first
func (s *SQLiteStore) CommandHistory(ctx context.Context, sessionID string, limit int) ([]string, error) {
	if limit <= 0 || limit > s.opts.commandHistoryLength {
		limit = s.opts.commandHistoryLength
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT command FROM command_history WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, apperrors.NewStorageFailed("command history", err)
	}
	defer rows.Close()

	commands := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, apperrors.NewStorageFailed("command history", err)
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

// =============================================================================
// VECTOR ENCODING
// =============================================================================

// encodeVector packs v as little-endian float32
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

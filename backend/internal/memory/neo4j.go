package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/state"
	apperrors "vega-agent/backend/pkg/errors"
	"vega-agent/backend/pkg/logger"
)

// Neo4jStore keeps memory in a graph:
// (:Session)-[:HAS_ENTRY]->(:MemoryEntry), (:Session)-[:HAS_TURN]->(:Turn)-[:PRODUCED]->(:MemoryEntry)
// and (:Session)-[:RAN]->(:Command). Ranking happens in Go.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	embedder embedding.Embedder
	opts     options
	logger   *zap.Logger
}

// NewNeo4jStore connects to Neo4j, ensures constraints and checks stored dimensions
func NewNeo4jStore(ctx context.Context, uri, user, password string, embedder embedding.Embedder, opts ...Option) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewStorageFailed("create neo4j driver", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, apperrors.NewStorageFailed("connect to neo4j", err)
	}

	s := NewNeo4jStoreWithDriver(driver, embedder, opts...)
	if err := s.initialize(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}

	s.logger.Info("Memory store opened",
		zap.String("backend", "neo4j"),
		zap.String("uri", uri),
		zap.String("embedder", embedder.Name()),
		zap.Int("dimension", embedder.Dimensions()),
	)
	return s, nil
}

// NewNeo4jStoreWithDriver wraps an existing driver without touching the schema
func NewNeo4jStoreWithDriver(driver neo4j.DriverWithContext, embedder embedding.Embedder, opts ...Option) *Neo4jStore {
	return &Neo4jStore{
		driver:   driver,
		embedder: embedder,
		opts:     buildOptions(opts),
		logger:   logger.Get(),
	}
}

func (s *Neo4jStore) initialize(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT session_id IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT memory_entry_id IF NOT EXISTS FOR (e:MemoryEntry) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT turn_id IF NOT EXISTS FOR (t:Turn) REQUIRE t.id IS UNIQUE`,
		`CREATE INDEX memory_entry_session IF NOT EXISTS FOR (e:MemoryEntry) ON (e.session_id)`,
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return apperrors.NewStorageFailed("initialize schema", err)
		}
	}

	result, err := session.Run(ctx, `MATCH (e:MemoryEntry) RETURN DISTINCT e.dimension AS dimension`, nil)
	if err != nil {
		return apperrors.NewStorageFailed("read dimensions", err)
	}
	want := s.embedder.Dimensions()
	for result.Next(ctx) {
		if dim := getIntFromRecord(result.Record(), "dimension"); dim != want {
			return apperrors.NewDimensionMismatch(want, dim)
		}
	}
	if err := result.Err(); err != nil {
		return apperrors.NewStorageFailed("read dimensions", err)
	}
	return nil
}

// Close closes the Neo4j driver connection
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

const createEntryQuery = `
	MERGE (s:Session {id: $sessionID})
	ON CREATE SET s.created_at = $createdAt
	SET s.last_active = $createdAt
	CREATE (s)-[:HAS_ENTRY]->(e:MemoryEntry {
		id: $id,
		session_id: $sessionID,
		role: $role,
		content: $content,
		embedding: $embedding,
		dimension: $dimension,
		created_at: $createdAt
	})
	RETURN e.id AS id
`

func entryParams(e *Entry) map[string]interface{} {
	return map[string]interface{}{
		"id":        e.ID,
		"sessionID": e.SessionID,
		"role":      string(e.Role),
		"content":   e.Content,
		"embedding": toFloat64s(e.Embedding),
		"dimension": len(e.Embedding),
		"createdAt": e.CreatedAt,
	}
}

// Record embeds content and appends it to the session
func (s *Neo4jStore) Record(ctx context.Context, sessionID string, role state.Role, content string) (*Entry, error) {
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

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, createEntryQuery, entryParams(entry)); err != nil {
		return nil, apperrors.NewStorageFailed("record entry", err)
	}
	return entry, nil
}

// RecordTurn writes the turn node and both entries in one write transaction
func (s *Neo4jStore) RecordTurn(ctx context.Context, turn *state.Turn, promptEmbedding []float32) error {
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

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		for _, e := range []*Entry{user, agent} {
			if _, err := tx.Run(ctx, createEntryQuery, entryParams(e)); err != nil {
				return nil, err
			}
		}
		_, err := tx.Run(ctx, `
			MATCH (s:Session {id: $sessionID})
			CREATE (s)-[:HAS_TURN]->(t:Turn {
				id: $id, prompt: $prompt, response: $response, created_at: $createdAt
			})
			WITH t
			MATCH (e:MemoryEntry) WHERE e.id IN $entryIDs
			CREATE (t)-[:PRODUCED]->(e)
		`, map[string]interface{}{
			"sessionID": turn.SessionID,
			"id":        turn.ID,
			"prompt":    turn.Prompt,
			"response":  turn.Response,
			"createdAt": user.CreatedAt,
			"entryIDs":  []string{user.ID, agent.ID},
		})
		return nil, err
	})
	if err != nil {
		return apperrors.NewStorageFailed("record turn", err)
	}
	return nil
}

// Retrieve loads the session's entries and ranks them against query
func (s *Neo4jStore) Retrieve(ctx context.Context, sessionID string, query []float32, k int) ([]Entry, error) {
	if err := checkQuery(s.embedder.Dimensions(), query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Entry{}, nil
	}

	entries, err := s.queryEntries(ctx, `
		MATCH (:Session {id: $sessionID})-[:HAS_ENTRY]->(e:MemoryEntry)
		RETURN e.id AS id, e.session_id AS session_id, e.role AS role, e.content AS content,
		       e.embedding AS embedding, e.created_at AS created_at
	`, map[string]interface{}{"sessionID": sessionID})
	if err != nil {
		return nil, apperrors.NewStorageFailed("retrieve", err)
	}
	return Rank(entries, query, k), nil
}

// History returns the newest limit entries in chronological order
func (s *Neo4jStore) History(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	query := `
		MATCH (:Session {id: $sessionID})-[:HAS_ENTRY]->(e:MemoryEntry)
		RETURN e.id AS id, e.session_id AS session_id, e.role AS role, e.content AS content,
		       e.embedding AS embedding, e.created_at AS created_at
		ORDER BY e.created_at DESC, e.id DESC
	`
	params := map[string]interface{}{"sessionID": sessionID}
	if limit > 0 {
		query += ` LIMIT $limit`
		params["limit"] = limit
	}

	entries, err := s.queryEntries(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewStorageFailed("history", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *Neo4jStore) queryEntries(ctx context.Context, query string, params map[string]interface{}) ([]Entry, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	entries := []Entry{}
	for result.Next(ctx) {
		record := result.Record()
		entries = append(entries, Entry{
			ID:        getStringFromRecord(record, "id"),
			SessionID: getStringFromRecord(record, "session_id"),
			Role:      state.Role(getStringFromRecord(record, "role")),
			Content:   getStringFromRecord(record, "content"),
			Embedding: getFloat32SliceFromRecord(record, "embedding"),
			CreatedAt: getTimeFromRecord(record, "created_at"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	return entries, nil
}

// ListSessions returns every session ordered by last activity, newest first
func (s *Neo4jStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Session)-[:HAS_ENTRY]->(e:MemoryEntry)
		WITH s, count(e) AS entries, min(e.created_at) AS first_seen, max(e.created_at) AS last_seen
		RETURN s.id AS session_id, entries, first_seen, last_seen
		ORDER BY last_seen DESC
	`, nil)
	if err != nil {
		return nil, apperrors.NewStorageFailed("list sessions", err)
	}

	sessions := []SessionInfo{}
	for result.Next(ctx) {
		record := result.Record()
		sessions = append(sessions, SessionInfo{
			SessionID: getStringFromRecord(record, "session_id"),
			Entries:   getIntFromRecord(record, "entries"),
			FirstSeen: getTimeFromRecord(record, "first_seen"),
			LastSeen:  getTimeFromRecord(record, "last_seen"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewStorageFailed("list sessions", err)
	}
	return sessions, nil
}

// SessionExists reports whether the session has any entries
func (s *Neo4jStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.count(ctx, `MATCH (:Session {id: $sessionID})-[:HAS_ENTRY]->(e:MemoryEntry) RETURN count(e) AS n`,
		map[string]interface{}{"sessionID": sessionID})
	if err != nil {
		return false, apperrors.NewStorageFailed("session exists", err)
	}
	return n > 0, nil
}

// Stats returns store-wide counters
func (s *Neo4jStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Dimension: s.embedder.Dimensions(),
		Embedder:  s.embedder.Name(),
		Backend:   "neo4j",
	}

	var err error
	if stats.Entries, err = s.count(ctx, `MATCH (e:MemoryEntry) RETURN count(e) AS n`, nil); err != nil {
		return nil, apperrors.NewStorageFailed("stats", err)
	}
	if stats.Sessions, err = s.count(ctx, `MATCH (s:Session)-[:HAS_ENTRY]->() RETURN count(DISTINCT s) AS n`, nil); err != nil {
		return nil, apperrors.NewStorageFailed("stats", err)
	}
	if stats.Turns, err = s.count(ctx, `MATCH (t:Turn) RETURN count(t) AS n`, nil); err != nil {
		return nil, apperrors.NewStorageFailed("stats", err)
	}
	return stats, nil
}

func (s *Neo4jStore) count(ctx context.Context, query string, params map[string]interface{}) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	return getIntFromRecord(record, "n"), nil
}

// RecordCommand appends line unless it repeats the previous command,
// then trims the session's history to the configured length
func (s *Neo4jStore) RecordCommand(ctx context.Context, sessionID, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		params := map[string]interface{}{
			"sessionID": sessionID,
			"command":   line,
			"createdAt": time.Now().UTC(),
			"keep":      s.opts.commandHistoryLength,
		}

		last, err := tx.Run(ctx, `
			MATCH (:Session {id: $sessionID})-[:RAN]->(c:Command)
			RETURN c.command AS command ORDER BY c.created_at DESC LIMIT 1
		`, params)
		if err != nil {
			return nil, err
		}
		if last.Next(ctx) && getStringFromRecord(last.Record(), "command") == line {
			return nil, nil
		}

		if _, err := tx.Run(ctx, `
			MERGE (s:Session {id: $sessionID})
			ON CREATE SET s.created_at = $createdAt
			CREATE (s)-[:RAN]->(:Command {command: $command, created_at: $createdAt})
		`, params); err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx, `
			MATCH (:Session {id: $sessionID})-[:RAN]->(c:Command)
			WITH c ORDER BY c.created_at DESC
			SKIP $keep
			DETACH DELETE c
		`, params)
		return nil, err
	})
	if err != nil {
		return apperrors.NewStorageFailed("record command", err)
	}
	return nil
}

// CommandHistory returns up to limit commands, newest first
func (s *Neo4jStore) CommandHistory(ctx context.Context, sessionID string, limit int) ([]string, error) {
	if limit <= 0 || limit > s.opts.commandHistoryLength {
		limit = s.opts.commandHistoryLength
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (:Session {id: $sessionID})-[:RAN]->(c:Command)
		RETURN c.command AS command
		ORDER BY c.created_at DESC
		LIMIT $limit
	`, map[string]interface{}{"sessionID": sessionID, "limit": limit})
	if err != nil {
		return nil, apperrors.NewStorageFailed("command history", err)
	}

	commands := []string{}
	for result.Next(ctx) {
		commands = append(commands, getStringFromRecord(result.Record(), "command"))
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewStorageFailed("command history", err)
	}
	return commands, nil
}

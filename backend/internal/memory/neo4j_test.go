package memory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/state"
)

// TestNeo4jStore requires a running Neo4j instance.
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD environment variables.
func TestNeo4jStore_RecordRetrieve(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	emb, _ := embedding.NewHashEmbedder(64)
	store, err := NewNeo4jStore(ctx, envOr("NEO4J_URI", "bolt://localhost:7687"), envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASSWORD", "password"), emb)
	if err != nil {
		t.Skipf("neo4j not reachable: %v", err)
	}
	defer store.Close()

	sessionID := "test-session-" + time.Now().Format("20060102150405.000")
	defer cleanupSession(t, store.driver, sessionID)

	turn := state.NewTurn(sessionID, "how do I rotate logs")
	turn.Response = "use logrotate with a daily rule"
	require.NoError(t, store.RecordTurn(ctx, turn, nil))

	query, _ := emb.Embed(ctx, "use logrotate with a daily rule")
	got, err := store.Retrieve(ctx, sessionID, query, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, state.RoleAgent, got[0].Role)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)

	exists, err := store.SessionExists(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.RecordCommand(ctx, sessionID, "hello"))
	commands, err := store.CommandHistory(ctx, sessionID, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, commands)
}

func cleanupSession(t *testing.T, driver neo4j.DriverWithContext, sessionID string) {
	ctx := context.Background()
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, err := session.Run(ctx, `
		MATCH (s:Session {id: $id})
		OPTIONAL MATCH (s)-[*1..2]->(n)
		DETACH DELETE s, n
	`, map[string]interface{}{"id": sessionID})
	if err != nil {
		t.Logf("cleanup failed: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/state"
	apperrors "vega-agent/backend/pkg/errors"
)

func newTestStore(t *testing.T, opts ...Option) (*SQLiteStore, *embedding.HashEmbedder) {
	t.Helper()
	emb, err := embedding.NewHashEmbedder(128)
	require.NoError(t, err)
	store, err := NewSQLiteStore(":memory:", emb, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, emb
}

func TestSQLiteStore_RecordAndRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, emb := newTestStore(t)

	_, err := store.Record(ctx, "s1", state.RoleUser, "the build fails on linux")
	require.NoError(t, err)
	target, err := store.Record(ctx, "s1", state.RoleAgent, "try clearing the module cache")
	require.NoError(t, err)
	_, err = store.Record(ctx, "s1", state.RoleUser, "what time is it")
	require.NoError(t, err)

	query, err := emb.Embed(ctx, "try clearing the module cache")
	require.NoError(t, err)

	got, err := store.Retrieve(ctx, "s1", query, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, target.ID, got[0].ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)
	assert.Equal(t, state.RoleAgent, got[0].Role)
}

func TestSQLiteStore_RetrieveIsSessionScoped(t *testing.T) {
	ctx := context.Background()
	store, emb := newTestStore(t)

	_, err := store.Record(ctx, "alpha", state.RoleUser, "deploy the service")
	require.NoError(t, err)
	_, err = store.Record(ctx, "beta", state.RoleUser, "deploy the service")
	require.NoError(t, err)

	query, _ := emb.Embed(ctx, "deploy the service")
	got, err := store.Retrieve(ctx, "alpha", query, 10)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].SessionID)
}

func TestSQLiteStore_RetrieveEmptySession(t *testing.T) {
	store, emb := newTestStore(t)
	query := make([]float32, emb.Dimensions())

	got, err := store.Retrieve(context.Background(), "nobody", query, 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSQLiteStore_RetrieveRejectsWrongQueryDimension(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Retrieve(context.Background(), "s", []float32{1, 2}, 5)
	var mismatch *apperrors.ErrDimensionMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestSQLiteStore_RecordValidates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Record(ctx, "", state.RoleUser, "x")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeInput))

	_, err = store.Record(ctx, "s", state.Role("system"), "x")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeInput))
}

func TestSQLiteStore_RecordTurn(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	turn := state.NewTurn("s1", "list files")
	turn.Response = "main.go and go.mod"
	require.NoError(t, store.RecordTurn(ctx, turn, nil))

	history, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, state.RoleUser, history[0].Role)
	assert.Equal(t, "list files", history[0].Content)
	assert.Equal(t, state.RoleAgent, history[1].Role)
	assert.True(t, history[1].CreatedAt.After(history[0].CreatedAt))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.Turns)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 128, stats.Dimension)
	assert.Equal(t, "sqlite", stats.Backend)
}

func TestSQLiteStore_RecordTurnRejectsInvalidTurn(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.RecordTurn(context.Background(), &state.Turn{SessionID: "s"}, nil)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeInput))
}

func TestSQLiteStore_HistoryLimitKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := store.Record(ctx, "s", state.RoleUser, msg)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	history, err := store.History(ctx, "s", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].Content)
	assert.Equal(t, "three", history[1].Content)
}

func TestSQLiteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	exists, err := store.SessionExists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Record(ctx, "old", state.RoleUser, "first")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = store.Record(ctx, "new", state.RoleUser, "second")
	require.NoError(t, err)

	exists, err = store.SessionExists(ctx, "old")
	require.NoError(t, err)
	assert.True(t, exists)

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].SessionID)
	assert.Equal(t, 1, sessions[0].Entries)
}

func TestSQLiteStore_CommandHistory(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, WithCommandHistoryLength(3))

	for _, cmd := range []string{"a", "b", "b", "c", "d", "  "} {
		require.NoError(t, store.RecordCommand(ctx, "s", cmd))
	}
	require.NoError(t, store.RecordCommand(ctx, "other", "z"))

	got, err := store.CommandHistory(ctx, "s", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, got)

	got, err = store.CommandHistory(ctx, "s", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, got)
}

func TestSQLiteStore_DimensionCheckAtOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ctx.db")

	small, _ := embedding.NewHashEmbedder(8)
	store, err := NewSQLiteStore(path, small)
	require.NoError(t, err)
	_, err = store.Record(ctx, "s", state.RoleUser, "hello")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	large, _ := embedding.NewHashEmbedder(16)
	_, err = NewSQLiteStore(path, large)
	var mismatch *apperrors.ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 16, mismatch.Expected)
	assert.Equal(t, 8, mismatch.Got)

	reopened, err := NewSQLiteStore(path, small)
	require.NoError(t, err)
	defer reopened.Close()
	history, err := reopened.History(ctx, "s", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.4e38}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

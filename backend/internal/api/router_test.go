package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vega-agent/backend/internal/adapter"
	"vega-agent/backend/internal/agent"
	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/memory"
	"vega-agent/backend/internal/state"
	"vega-agent/backend/internal/tools"
	apperrors "vega-agent/backend/pkg/errors"
)

type stubBackend struct {
	calls   atomic.Int32
	respond func(call int) (*adapter.Response, error)
}

func (b *stubBackend) Complete(ctx context.Context, history []adapter.Message, defs []adapter.Tool) (*adapter.Response, error) {
	n := int(b.calls.Add(1))
	return b.respond(n)
}

func textReply(s string) func(int) (*adapter.Response, error) {
	return func(int) (*adapter.Response, error) {
		return &adapter.Response{Content: s}, nil
	}
}

type testEnv struct {
	router *gin.Engine
	store  memory.Store
}

func newTestEnv(t *testing.T, respond func(int) (*adapter.Response, error)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	emb, err := embedding.NewHashEmbedder(32)
	require.NoError(t, err)
	store, err := memory.NewSQLiteStore(":memory:", emb)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := tools.NewDefaultRegistry(tools.Environment{Workspace: t.TempDir()})
	require.NoError(t, err)
	gateway := tools.NewGateway(registry, tools.DenyConfirmer{}, tools.WithLogger(zap.NewNop()))

	controller := agent.NewController(&stubBackend{respond: respond}, gateway, store, emb,
		agent.WithLogger(zap.NewNop()),
		agent.WithRetryPolicy(agent.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}),
		agent.WithModelName("stub"),
	)
	srv := NewServer(store, emb, agent.NewPool(controller, 2), registry, zap.NewNop())
	return &testEnv{router: srv.Router(false), store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, textReply("hi"))

	w := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, textReply("hi"))

	w := env.do(t, http.MethodOptions, "/api/sessions", "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestChat_TextResponse(t *testing.T) {
	env := newTestEnv(t, textReply("The answer is 42."))

	w := env.do(t, http.MethodPost, "/api/sessions/s1/chat", `{"message":"what is the answer?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TurnID)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "The answer is 42.", resp.Response)
	assert.Equal(t, []string{"Preparing", "Embedding", "ContextRetrieval", "Thinking", "Finalizing"}, resp.Phases)

	entries, err := env.store.History(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, state.RoleUser, entries[0].Role)
	assert.Equal(t, state.RoleAgent, entries[1].Role)
}

func TestChat_ToolRoundReportsToolPhase(t *testing.T) {
	env := newTestEnv(t, func(call int) (*adapter.Response, error) {
		if call == 1 {
			return &adapter.Response{ToolCalls: []adapter.ToolCall{
				{ID: "c1", Name: tools.ToolListFiles, Arguments: map[string]interface{}{}},
			}}, nil
		}
		return &adapter.Response{Content: "The directory is empty."}, nil
	})

	w := env.do(t, http.MethodPost, "/api/sessions/s1/chat", `{"message":"list files"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Phases, "ToolExecution")
	assert.Equal(t, "Finalizing", resp.Phases[len(resp.Phases)-1])
}

func TestChat_MissingMessage(t *testing.T) {
	env := newTestEnv(t, textReply("hi"))

	w := env.do(t, http.MethodPost, "/api/sessions/s1/chat", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_BlankMessageIsInvalidInput(t *testing.T) {
	env := newTestEnv(t, textReply("hi"))

	w := env.do(t, http.MethodPost, "/api/sessions/s1/chat", `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_BackendUnavailable(t *testing.T) {
	env := newTestEnv(t, func(int) (*adapter.Response, error) {
		return nil, &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable, Message: "overloaded"}
	})

	w := env.do(t, http.MethodPost, "/api/sessions/s1/chat", `{"message":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	exists, err := env.store.SessionExists(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, exists, "failed turns are not persisted")
}

func TestBatch_RunsTurnsAcrossSessions(t *testing.T) {
	env := newTestEnv(t, textReply("done"))

	w := env.do(t, http.MethodPost, "/api/batch", `{"requests":[
		{"session_id":"a","message":"first"},
		{"session_id":"b","message":"second"},
		{"session_id":"a","message":"third"},
		{"session_id":"c","message":"   "}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []batchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 4)

	for i, sid := range []string{"a", "b", "a"} {
		assert.Equal(t, sid, resp.Results[i].SessionID)
		assert.Equal(t, http.StatusOK, resp.Results[i].Status)
		assert.Equal(t, "done", resp.Results[i].Response)
		assert.NotEmpty(t, resp.Results[i].TurnID)
	}
	assert.Equal(t, http.StatusBadRequest, resp.Results[3].Status)
	assert.NotEmpty(t, resp.Results[3].Error)

	entries, err := env.store.History(context.Background(), "a", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	exists, err := env.store.SessionExists(context.Background(), "c")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBatch_InvalidRequests(t *testing.T) {
	env := newTestEnv(t, textReply("done"))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/batch", `{"requests":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/batch", `{"requests":[{"session_id":"a"}]}`).Code)

	items := make([]string, maxBatchSize+1)
	for i := range items {
		items[i] = `{"session_id":"s","message":"m"}`
	}
	w := env.do(t, http.MethodPost, "/api/batch", `{"requests":[`+strings.Join(items, ",")+`]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessions_ListAndHistory(t *testing.T) {
	env := newTestEnv(t, textReply("noted"))

	for _, msg := range []string{"first", "second"} {
		w := env.do(t, http.MethodPost, "/api/sessions/s1/chat", `{"message":"`+msg+`"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []memory.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "s1", list.Sessions[0].SessionID)
	assert.Equal(t, 4, list.Sessions[0].Entries)

	w = env.do(t, http.MethodGet, "/api/sessions/s1?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Entries []memory.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Entries, 2)
	assert.Equal(t, "second", history.Entries[0].Content)
	assert.Equal(t, "noted", history.Entries[1].Content)
}

func TestSessions_Unknown(t *testing.T) {
	env := newTestEnv(t, textReply("hi"))

	w := env.do(t, http.MethodGet, "/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_BadLimit(t *testing.T) {
	env := newTestEnv(t, textReply("hi"))

	w := env.do(t, http.MethodGet, "/api/sessions/s1?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContextPreview(t *testing.T) {
	env := newTestEnv(t, textReply("ok"))
	ctx := context.Background()
	_, err := env.store.Record(ctx, "s1", state.RoleUser, "the deployment uses kubernetes")
	require.NoError(t, err)
	_, err = env.store.Record(ctx, "s2", state.RoleUser, "the deployment uses kubernetes too")
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/context?session_id=s1&q=kubernetes+deployment", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []memory.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "s1", resp.Entries[0].SessionID)
	assert.Greater(t, resp.Entries[0].Similarity, 0.0)
}

func TestContextPreview_RequiresParams(t *testing.T) {
	env := newTestEnv(t, textReply("ok"))

	w := env.do(t, http.MethodGet, "/api/context?session_id=s1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsAndTools(t *testing.T) {
	env := newTestEnv(t, textReply("ok"))

	w := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.EqualValues(t, 32, stats["dimension"])
	assert.Equal(t, "sqlite", stats["backend"])

	w = env.do(t, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tools []toolInfo `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Tools)
	for _, ti := range resp.Tools {
		if ti.Name == tools.ToolBash {
			assert.True(t, ti.RequiresConfirmation)
		}
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperrors.NewInvalidInput("prompt", "empty")))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(apperrors.NewToolLoopExceeded(8)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(apperrors.NewBackendUnavailable("m", 3, nil)))
	assert.Equal(t, http.StatusRequestTimeout, statusFor(apperrors.NewCancelled("thinking", context.Canceled)))
	assert.Equal(t, http.StatusRequestTimeout, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperrors.NewStorageFailed("insert", nil)))
}

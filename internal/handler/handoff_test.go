package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatdesk/handoff-console/internal/auth"
	"github.com/chatdesk/handoff-console/internal/controller"
	"github.com/chatdesk/handoff-console/internal/middleware"
	"github.com/chatdesk/handoff-console/internal/model"
	"github.com/chatdesk/handoff-console/internal/upstream"
	"github.com/chatdesk/handoff-console/pkg/logger"
)

const testSecret = "test-secret"

// consoleFixture wires a controller against a stub upstream and mounts the
// handlers the way cmd/console does.
type consoleFixture struct {
	router       *chi.Mux
	ctrl         *controller.Controller
	messageCalls atomic.Int32
	acceptCalls  atomic.Int32
}

func newConsoleFixture(t *testing.T) *consoleFixture {
	t.Helper()
	f := &consoleFixture{}

	up := chi.NewRouter()
	up.Get("/handoff/pending", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		json.NewEncoder(w).Encode(map[string]any{"data": []model.ConversationSession{{
			SessionID:          7,
			Status:             model.StatusHumanPending,
			VisitorID:          "v-7",
			HandoffRequestedAt: &now,
		}}})
	})
	up.Get("/handoff/active", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]model.ConversationSession{})
	})
	up.Post("/handoff/{id}/accept", func(w http.ResponseWriter, r *http.Request) {
		f.acceptCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	up.Post("/handoff/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		f.messageCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	up.Get("/chat/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []model.Message{}})
	})
	upstreamSrv := httptest.NewServer(up)
	t.Cleanup(upstreamSrv.Close)

	store := auth.NewMemoryStore(auth.Credentials{
		AccessToken: "tok",
		Admin:       &auth.AdminIdentity{ID: 3},
	})
	client := upstream.New(upstream.Config{BaseURL: upstreamSrv.URL}, store, logger.NewNop(), nil)
	f.ctrl = controller.New(client, 3, controller.Intervals{
		Pending:  time.Hour,
		Active:   time.Hour,
		Messages: time.Hour,
	}, 100, nil, logger.NewNop())
	f.ctrl.Start(context.Background())
	t.Cleanup(f.ctrl.Stop)

	h := NewHandoffHandler(f.ctrl, logger.NewNop())
	r := chi.NewRouter()
	r.Route("/api/v1/handoff", func(r chi.Router) {
		r.Use(middleware.Auth(testSecret))
		r.Get("/pending", h.Pending)
		r.Get("/active", h.Active)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Post("/accept", h.Accept)
			r.Post("/open", h.Open)
			r.Post("/reply", h.Reply)
			r.Post("/close", h.Close)
			r.Get("/messages", h.Messages)
		})
	})
	f.router = r
	return f
}

func agentToken(t *testing.T) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "3",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		AdminID: 3,
		Name:    "Agent",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (f *consoleFixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestPendingRequiresAuth(t *testing.T) {
	f := newConsoleFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/handoff/pending", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/handoff/pending", "", agentToken(t))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp model.ListSessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, len(resp.Sessions), resp.Total)
}

func TestAcceptEndpoint(t *testing.T) {
	f := newConsoleFixture(t)
	token := agentToken(t)

	require.Eventually(t, func() bool {
		return len(f.ctrl.Pending()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := f.do(t, http.MethodPost, "/api/v1/handoff/7/accept", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int32(1), f.acceptCalls.Load())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(model.StatusHumanActive), resp["status"])
}

func TestReplyRejectsEmptyMessageWithoutUpstreamCall(t *testing.T) {
	f := newConsoleFixture(t)
	token := agentToken(t)

	require.NoError(t, f.ctrl.Open(7))

	rec := f.do(t, http.MethodPost, "/api/v1/handoff/7/reply", `{"message":"   "}`, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.messageCalls.Load())
}

func TestReplyRequiresOpenConversation(t *testing.T) {
	f := newConsoleFixture(t)
	token := agentToken(t)

	rec := f.do(t, http.MethodPost, "/api/v1/handoff/7/reply", `{"message":"hello"}`, token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, f.messageCalls.Load())
}

func TestReplySendsToOpenConversation(t *testing.T) {
	f := newConsoleFixture(t)
	token := agentToken(t)

	require.NoError(t, f.ctrl.Open(7))

	rec := f.do(t, http.MethodPost, "/api/v1/handoff/7/reply", `{"message":"hello"}`, token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int32(1), f.messageCalls.Load())
}

func TestReplyToUnselectedSessionRejected(t *testing.T) {
	f := newConsoleFixture(t)
	token := agentToken(t)

	// Another conversation was opened after the agent loaded session 7's
	// view; the reply must not follow the selection.
	require.NoError(t, f.ctrl.Open(9))

	rec := f.do(t, http.MethodPost, "/api/v1/handoff/7/reply", `{"message":"hello"}`, token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, f.messageCalls.Load())

	rec = f.do(t, http.MethodPost, "/api/v1/handoff/7/close", "", token)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInvalidSessionIDRejected(t *testing.T) {
	f := newConsoleFixture(t)
	token := agentToken(t)

	rec := f.do(t, http.MethodPost, "/api/v1/handoff/abc/accept", "", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/handoff/-1/accept", "", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

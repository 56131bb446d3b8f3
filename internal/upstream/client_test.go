package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatdesk/handoff-console/internal/auth"
	"github.com/chatdesk/handoff-console/internal/model"
	"github.com/chatdesk/handoff-console/pkg/logger"
)

func seededStore() *auth.MemoryStore {
	return auth.NewMemoryStore(auth.Credentials{
		AccessToken:  "tok",
		RefreshToken: "ref",
		User:         json.RawMessage(`{"id":1}`),
		Admin:        &auth.AdminIdentity{ID: 3},
	})
}

func newTestClient(t *testing.T, h http.HandlerFunc, store auth.Store, onExpired func()) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}, store, logger.NewNop(), onExpired)
}

func TestDecodeListShapes(t *testing.T) {
	bare := []byte(`[{"session_id":7,"status":"human_pending"}]`)
	data := []byte(`{"data":[{"session_id":7,"status":"human_pending"}]}`)
	items := []byte(`{"items":[{"session_id":7,"status":"human_pending"}]}`)

	for name, body := range map[string][]byte{"bare": bare, "data": data, "items": items} {
		sessions, err := decodeList[model.ConversationSession](body)
		require.NoError(t, err, name)
		require.Len(t, sessions, 1, name)
		assert.Equal(t, int64(7), sessions[0].SessionID, name)
		assert.Equal(t, model.StatusHumanPending, sessions[0].Status, name)
	}
}

func TestDecodeListEmptyAndNull(t *testing.T) {
	for name, body := range map[string][]byte{
		"empty body":  []byte(""),
		"null data":   []byte(`{"data":null}`),
		"no list key": []byte(`{"total":0}`),
	} {
		sessions, err := decodeList[model.ConversationSession](body)
		require.NoError(t, err, name)
		assert.Empty(t, sessions, name)
	}
}

func TestPendingSessionsSendsBearerToken(t *testing.T) {
	var gotAuth, gotCorrelation string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		w.Write([]byte(`{"data":[]}`))
	}, seededStore(), nil)

	_, err := client.PendingSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.NotEmpty(t, gotCorrelation)
}

func TestUnauthorizedClearsCredentialsAndFiresHookOnce(t *testing.T) {
	store := seededStore()
	var fired atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, store, func() { fired.Add(1) })

	_, err := client.PendingSessions(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)

	creds, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Empty(t, creds.AccessToken)
	assert.Empty(t, creds.RefreshToken)
	assert.Empty(t, creds.User)
	assert.Nil(t, creds.Admin)

	// Credentials are now empty, so the second call short-circuits; the
	// hook must still have fired exactly once overall.
	_, err = client.PendingSessions(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), fired.Load())
}

func TestEmptyCredentialsShortCircuit(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, auth.NewMemoryStore(auth.Credentials{}), nil)

	err := client.SendMessage(context.Background(), 7, 3, "hello")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, calls.Load())
}

func TestListEndpointsDegradeOnServerFailure(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}, seededStore(), nil)

		sessions, err := client.PendingSessions(context.Background())
		assert.Empty(t, sessions)
		assert.ErrorIs(t, err, ErrDegraded, "status %d", status)

		messages, err := client.History(context.Background(), 7, 100)
		assert.Empty(t, messages)
		assert.ErrorIs(t, err, ErrDegraded, "status %d", status)
	}
}

func TestForbiddenIsNotDegraded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, seededStore(), nil)

	_, err := client.PendingSessions(context.Background())
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrDegraded)
}

func TestAcceptPostsAdminID(t *testing.T) {
	var gotPath string
	var gotBody map[string]int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		w.WriteHeader(http.StatusOK)
	}, seededStore(), nil)

	require.NoError(t, client.Accept(context.Background(), 7, 3))
	assert.Equal(t, "/handoff/7/accept", gotPath)
	assert.Equal(t, int64(3), gotBody["admin_id"])
}

func TestAcceptConflictWhenClaimLost(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}, seededStore(), nil)

	err := client.Accept(context.Background(), 7, 3)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestActiveSessionsQueriesAdminID(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}, seededStore(), nil)

	_, err := client.ActiveSessions(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "admin_id=3", gotQuery)
}

func TestEndpointLabelCollapsesIDs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/handoff/12345/accept", nil)
	assert.Equal(t, "/handoff/{id}/accept", endpointLabel(req.URL))

	req = httptest.NewRequest(http.MethodGet, "/handoff/pending", nil)
	assert.Equal(t, "/handoff/pending", endpointLabel(req.URL))
}

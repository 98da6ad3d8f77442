package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-therapist/backend/internal/session"
)

type peer string

func (p peer) ID() string               { return string(p) }
func (p peer) Send(session.Event) bool { return true }

func TestSessionRoutes(t *testing.T) {
	registry := session.NewRegistry(nil)
	_, err := registry.Join(peer("a"), "room")
	require.NoError(t, err)
	_, err = registry.Join(peer("b"), "room")
	require.NoError(t, err)
	_, err = registry.Join(peer("c"), "")
	require.NoError(t, err)

	r := chi.NewRouter()
	New(registry).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[string]session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)
	assert.Equal(t, 2, all["room"].ActiveClients)
	assert.Equal(t, []string{"c"}, all[session.DefaultSessionID].Clients)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/room", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "room", info.SessionID)
	assert.Len(t, info.Participants, 2)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

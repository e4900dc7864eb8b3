package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/server/auth"
)

var testSecret = []byte("test-secret")

func bearerToken(t *testing.T, actorID, actorRole string) string {
	t.Helper()
	tok, err := auth.GenerateToken(actorID, actorRole, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func echoActor(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		require.True(t, ok, "actor must be in context past the middleware")
		w.Header().Set("X-Actor", actor.ID+"/"+actor.Role)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	handler := RequireAuth(testSecret)(echoActor(t))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantActor  string
	}{
		{name: "valid token", header: bearerToken(t, "patient-001", event.RolePatient), wantStatus: http.StatusOK, wantActor: "patient-001/patient"},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not.a.jwt", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantActor != "" {
				assert.Equal(t, tt.wantActor, rec.Header().Get("X-Actor"))
			}
		})
	}
}

func TestRequireAuth_RejectsWrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := auth.GenerateToken("patient-001", event.RolePatient, []byte("other-secret"), time.Hour)
	require.NoError(t, err)

	handler := RequireAuth(testSecret)(echoActor(t))
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAuth(testSecret)(RequireRole(event.RoleInvestigator)(next))

	req := httptest.NewRequest(http.MethodGet, "/api/aggregates/rec-1/export", nil)
	req.Header.Set("Authorization", bearerToken(t, "inv-1", event.RoleInvestigator))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/aggregates/rec-1/export", nil)
	req.Header.Set("Authorization", bearerToken(t, "patient-001", event.RolePatient))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRole_WithoutIdentity(t *testing.T) {
	t.Parallel()

	handler := RequireRole(event.RoleInvestigator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/aggregates/rec-1/export", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAllowedWriter(t *testing.T) {
	t.Parallel()

	actor := Actor{ID: "patient-001", Role: event.RolePatient}

	assert.True(t, allowedWriter(actor, &event.Event{ActorID: "patient-001", ActorRole: event.RolePatient}))
	assert.False(t, allowedWriter(actor, &event.Event{ActorID: "patient-002", ActorRole: event.RolePatient}))
	assert.False(t, allowedWriter(actor, &event.Event{ActorID: "patient-001", ActorRole: event.RoleInvestigator}))
}

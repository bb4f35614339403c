package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbus-tracker/internal/apiclient"
	"schoolbus-tracker/internal/route"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }
func (s staticTokens) ClearToken(context.Context) error      { return nil }

// fakeUpstream mimics the REST API for users and students.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu       sync.Mutex
		students []apiclient.Student
	)
	mux := chi.NewRouter()
	mux.Get("/api/users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"_id":"u1","username":"Sami","role":"parent","cinNumber":"111"},{"_id":"u2","username":"Root","role":"admin","cinNumber":"999"}]`)
	})
	mux.Get("/api/students", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewEncoder(w).Encode(students)
	})
	mux.Post("/api/students", func(w http.ResponseWriter, r *http.Request) {
		var s apiclient.Student
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&s)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		s.ID = "s" + s.BadgeID
		students = append(students, s)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(s)
	})
	mux.Delete("/api/students/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAdminStudentRoutes(t *testing.T) {
	upstream := fakeUpstream(t)
	c, err := apiclient.NewClient(upstream.URL, nil, nil, nil)
	require.NoError(t, err)
	c.SetTokenSource(staticTokens("tok"))

	s := NewServer(Deps{
		Routes: route.Builtin(),
		Buses:  &fakeBuses{},
		Admin:  NewAdminPanels(c),
	}, Options{})
	t.Cleanup(s.Close)

	rec := do(t, s, http.MethodPost, "/api/admin/students", `{"username":"Amine","badgeId":"B1","cinParent":"999","phoneParent":"222","level":"3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "admin CIN is not a parent")

	rec = do(t, s, http.MethodPost, "/api/admin/students", `{"username":"Amine","level":"3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "badgeId")

	rec = do(t, s, http.MethodPost, "/api/admin/students", `{"username":"Amine","badgeId":"B1","cinParent":"111","phoneParent":"222","level":"3"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "sB1", decode[apiclient.Student](t, rec).ID)

	rec = do(t, s, http.MethodGet, "/api/admin/students", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]apiclient.Student](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/api/admin/students/count?cin=111", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[struct {
		Students int `json:"students"`
	}](t, rec).Students)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/admin/students/sB1", "").Code)

	rec = do(t, s, http.MethodGet, "/api/admin/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]apiclient.User](t, rec), 2)
}

func TestAdminStudentCountBeforeList(t *testing.T) {
	upstream := fakeUpstream(t)
	resp, err := http.Post(upstream.URL+"/api/students", "application/json",
		strings.NewReader(`{"username":"Amine","badgeId":"B1","cinParent":"111","phoneParent":"222","level":"3"}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	c, err := apiclient.NewClient(upstream.URL, nil, nil, nil)
	require.NoError(t, err)
	c.SetTokenSource(staticTokens("tok"))
	s := NewServer(Deps{Routes: route.Builtin(), Buses: &fakeBuses{}, Admin: NewAdminPanels(c)}, Options{})
	t.Cleanup(s.Close)

	rec := do(t, s, http.MethodGet, "/api/admin/students/count?cin=111", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[struct {
		Students int `json:"students"`
	}](t, rec).Students)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/admin/students/count", "").Code)
}

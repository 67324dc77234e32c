package capability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prorab-app/prorab/internal/shared"
)

func TestHTTPSourceForSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/capabilities", r.URL.Path)
		require.Equal(t, "material-requests", r.URL.Query().Get("surface"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"key":"view_details","label":"View details"},{"key":"approve","label":"Approve"}]`))
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL, "secret", time.Second)
	caps, err := source.ForSurface(context.Background(), 1, SurfaceMaterialRequests)
	require.NoError(t, err)
	require.Len(t, caps, 2)
	require.Equal(t, KeyView, caps[0].Key)
}

func TestHTTPSourceAllSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/capabilities/all", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"material-requests":[{"key":"create","label":"Create"}],"projects":[]}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL, "", time.Second)
	all, err := source.AllSurfaces(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, all[SurfaceMaterialRequests], 1)
	require.Empty(t, all[SurfaceProjects])
}

func TestHTTPSourceUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL, "expired", time.Second)
	_, err := source.ForSurface(context.Background(), 1, SurfaceProjects)
	require.True(t, errors.Is(err, shared.ErrUnauthenticated))
}

func TestHTTPSourceServerErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL, "", time.Second)
	_, err := source.AllSurfaces(context.Background(), 1)
	require.True(t, errors.Is(err, shared.ErrNetwork))
}

func TestHTTPSourceConnectionRefusedIsNetwork(t *testing.T) {
	source := NewHTTPSource("http://127.0.0.1:1", "", 200*time.Millisecond)
	_, err := source.ForSurface(context.Background(), 1, SurfaceProjects)
	require.True(t, errors.Is(err, shared.ErrNetwork))
}

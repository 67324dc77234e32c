package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/prorab-app/prorab/internal/shared"
)

func newSessionManager(t *testing.T) *shared.SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return shared.NewSessionManager(client, "test_session", time.Hour, false)
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.False(t, sess.Authenticated())

	sess.SetActor(42)
	sess.Set("theme", "dark")

	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))

	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "test_session", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, next)
	require.NoError(t, err)
	require.True(t, loaded.Authenticated())
	require.EqualValues(t, 42, loaded.Actor())
	require.Equal(t, "dark", loaded.Get("theme"))
}

func TestSessionDestroyClearsCookieAndStore(t *testing.T) {
	sm := newSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetActor(7)
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))
	cookie := res.Result().Cookies()[0]

	sm.Destroy(sess)
	res = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))
	cleared := res.Result().Cookies()[0]
	require.Equal(t, -1, cleared.MaxAge)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookie)
	loaded, err := sm.Load(ctx, next)
	require.NoError(t, err)
	require.False(t, loaded.Authenticated())
}

func TestUnknownCookieYieldsFreshSession(t *testing.T) {
	sm := newSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "test_session", Value: "stale-id"})
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	require.False(t, sess.Authenticated())
}

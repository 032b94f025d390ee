package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"hiblogs-account/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProviderServer 同时模拟 QQ 互联和新浪微博
func fakeProviderServer(t *testing.T) *httptest.Server {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2.0/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "qq-code" || r.Form.Get("client_id") != "qq-app" || r.Form.Get("client_secret") != "qq-key" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, map[string]interface{}{"access_token": "qq-at", "expires_in": 7776000})
	})
	mux.HandleFunc("/oauth2.0/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "qq-at", r.URL.Query().Get("access_token"))
		writeJSON(w, map[string]string{"client_id": "qq-app", "openid": "QQ-OPENID"})
	})
	mux.HandleFunc("/user/get_user_info", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "QQ-OPENID", q.Get("openid"))
		assert.Equal(t, "qq-app", q.Get("oauth_consumer_key"))
		writeJSON(w, map[string]interface{}{"ret": 0, "nickname": "小明", "figureurl_qq_2": "http://avatar.example.com/qq.png"})
	})
	mux.HandleFunc("/oauth2/access_token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "sina-code" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, map[string]interface{}{"access_token": "sina-at", "expires_in": 3600, "uid": "12345"})
	})
	mux.HandleFunc("/2/users/show.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12345", r.URL.Query().Get("uid"))
		writeJSON(w, map[string]interface{}{"idstr": "12345", "screen_name": "微博小明", "avatar_large": ""})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type recordingMirror struct {
	mu    sync.Mutex
	calls map[int64]string
}

func (m *recordingMirror) MirrorAsync(userID int64, sourceURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[int64]string)
	}
	m.calls[userID] = sourceURL
}

type oauthFixture struct {
	mr       *miniredis.Miniredis
	identity *identityFixture
	mirror   *recordingMirror
	service  *OAuthService
}

func newOAuthFixture(t *testing.T) *oauthFixture {
	t.Helper()

	srv := fakeProviderServer(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ep := ProviderEndpoints{AuthURL: srv.URL + "/authorize", APIBase: srv.URL}
	qqEP, sinaEP := ep, ep
	qqEP.TokenURL = srv.URL + "/oauth2.0/token"
	sinaEP.TokenURL = srv.URL + "/oauth2/access_token"

	f := &oauthFixture{mr: mr, identity: newIdentityFixture(t), mirror: &recordingMirror{}}
	f.service = NewOAuthService(
		cache.NewOAuthStateStore(rdb, OAuthStateTTL),
		f.identity.service,
		f.mirror,
		NewQQProvider("qq-app", "qq-key", "https://blog.example.com/cb?type=qq", qqEP),
		NewSinaProvider("sina-app", "sina-secret", "https://blog.example.com/cb?type=sina", sinaEP),
	)
	return f
}

// stateFrom 从授权地址中取出 state
func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestOAuthAuthURL(t *testing.T) {
	f := newOAuthFixture(t)

	authURL, err := f.service.AuthURL(context.Background(), ProviderQQ)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "qq-app", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://blog.example.com/cb?type=qq", q.Get("redirect_uri"))

	state := q.Get("state")
	assert.True(t, f.mr.Exists("hiblogs:oauth:state:"+state))
	assert.Equal(t, OAuthStateTTL, f.mr.TTL("hiblogs:oauth:state:"+state))

	_, err = f.service.AuthURL(context.Background(), "github")
	assert.ErrorIs(t, err, ErrOAuthUnknownProvider)
}

func TestOAuthQQCallbackCreatesOnce(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	authURL, err := f.service.AuthURL(ctx, ProviderQQ)
	require.NoError(t, err)

	first, err := f.service.Callback(ctx, ProviderQQ, "qq-code", stateFrom(t, authURL))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.True(t, first.Ticket.Persistent)
	assert.Equal(t, "小明", first.User.Nickname)
	assert.Contains(t, first.User.Email, "@temp.com")
	assert.Equal(t, "QQ-OPENID", first.User.OpenID.String)
	assert.Equal(t, "http://avatar.example.com/qq.png", f.mirror.calls[first.User.ID])

	authURL, err = f.service.AuthURL(ctx, ProviderQQ)
	require.NoError(t, err)
	second, err := f.service.Callback(ctx, ProviderQQ, "qq-code", stateFrom(t, authURL))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, 1, f.identity.users.count())
}

func TestOAuthSinaCallback(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	authURL, err := f.service.AuthURL(ctx, ProviderSina)
	require.NoError(t, err)

	res, err := f.service.Callback(ctx, ProviderSina, "sina-code", stateFrom(t, authURL))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "微博小明", res.User.Nickname)
	assert.Equal(t, "12345", res.User.OpenID.String)
	assert.Equal(t, ProviderSina, res.User.OAuthProvider.String)
	// 平台未返回头像时不转存
	assert.Empty(t, f.mirror.calls)
}

func TestOAuthCallbackStateChecks(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Callback(ctx, ProviderQQ, "qq-code", "never-issued")
	assert.ErrorIs(t, err, ErrOAuthStateInvalid)

	_, err = f.service.Callback(ctx, ProviderQQ, "", "x")
	assert.ErrorIs(t, err, ErrOAuthStateInvalid)

	// state 单次使用
	authURL, err := f.service.AuthURL(ctx, ProviderQQ)
	require.NoError(t, err)
	state := stateFrom(t, authURL)
	_, err = f.service.Callback(ctx, ProviderQQ, "qq-code", state)
	require.NoError(t, err)
	_, err = f.service.Callback(ctx, ProviderQQ, "qq-code", state)
	assert.ErrorIs(t, err, ErrOAuthStateInvalid)

	// QQ 发出的 state 不能用于微博回调
	authURL, err = f.service.AuthURL(ctx, ProviderQQ)
	require.NoError(t, err)
	_, err = f.service.Callback(ctx, ProviderSina, "sina-code", stateFrom(t, authURL))
	assert.ErrorIs(t, err, ErrOAuthStateInvalid)

	// 过期
	authURL, err = f.service.AuthURL(ctx, ProviderQQ)
	require.NoError(t, err)
	f.mr.FastForward(OAuthStateTTL + time.Second)
	_, err = f.service.Callback(ctx, ProviderQQ, "qq-code", stateFrom(t, authURL))
	assert.ErrorIs(t, err, ErrOAuthStateInvalid)
}

func TestOAuthCallbackExchangeFailure(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	authURL, err := f.service.AuthURL(ctx, ProviderQQ)
	require.NoError(t, err)

	_, err = f.service.Callback(ctx, ProviderQQ, "wrong-code", stateFrom(t, authURL))
	assert.ErrorIs(t, err, ErrOAuthTokenExchange)
	assert.Equal(t, 0, f.identity.users.count())
}

func TestOAuthConfigured(t *testing.T) {
	f := newOAuthFixture(t)
	assert.True(t, f.service.Configured(ProviderQQ))
	assert.True(t, f.service.Configured(ProviderSina))
	assert.False(t, f.service.Configured("github"))
}

/**
 * internal/services/oauth.go
 * 第三方登录服务（QQ / 新浪微博）
 *
 * 功能：
 * - 生成授权地址（state 存入 Redis，10 分钟有效，单次使用）
 * - 回调处理：校验 state → code 换取 Token → 获取用户资料
 * - 按 平台 + OpenID 查找或创建用户并登录
 * - 新用户头像异步转存
 *
 * 依赖：
 * - golang.org/x/oauth2: 授权地址与 Token 交换
 * - github.com/google/uuid: state
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hiblogs-account/internal/cache"
	"hiblogs-account/internal/config"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ====================  错误定义 ====================

var (
	// ErrOAuthUnknownProvider 未知或未配置的平台
	ErrOAuthUnknownProvider = errors.New("OAUTH_UNKNOWN_PROVIDER")
	// ErrOAuthStateInvalid state 不存在、已使用或与平台不符
	ErrOAuthStateInvalid = errors.New("OAUTH_STATE_INVALID")
	// ErrOAuthTokenExchange code 换取 Token 失败
	ErrOAuthTokenExchange = errors.New("OAUTH_TOKEN_EXCHANGE_FAILED")
	// ErrOAuthUserInfo 获取用户资料失败
	ErrOAuthUserInfo = errors.New("OAUTH_USER_INFO_FAILED")
)

// ====================  常量定义 ====================

const (
	// ProviderQQ QQ 互联
	ProviderQQ = "qq"
	// ProviderSina 新浪微博
	ProviderSina = "sina"

	// OAuthStateTTL state 有效期
	OAuthStateTTL = 10 * time.Minute

	oauthHTTPTimeout = 10 * time.Second
	oauthMaxBodySize = 1 << 20
	tempEmailDomain  = "@temp.com"
)

// ====================  接口定义 ====================

// OAuthProvider 第三方平台
type OAuthProvider interface {
	Name() string
	AuthCodeURL(state string) string
	FetchProfile(ctx context.Context, code string) (*OAuthProfile, error)
}

// stateStore state 存储，由 *cache.OAuthStateStore 实现
type stateStore interface {
	Save(ctx context.Context, state, provider string) error
	Consume(ctx context.Context, state string) (string, error)
}

// AvatarMirror 头像转存，由 *AvatarService 实现
type AvatarMirror interface {
	MirrorAsync(userID int64, sourceURL string)
}

// ====================  数据结构 ====================

// OAuthProfile 第三方用户资料
type OAuthProfile struct {
	Provider  string
	OpenID    string
	Nickname  string
	AvatarURL string
}

// ProviderEndpoints 平台地址，测试时可替换为本地服务
type ProviderEndpoints struct {
	AuthURL  string
	TokenURL string
	APIBase  string
}

var (
	// QQEndpoints QQ 互联正式地址
	QQEndpoints = ProviderEndpoints{
		AuthURL:  "https://graph.qq.com/oauth2.0/authorize",
		TokenURL: "https://graph.qq.com/oauth2.0/token",
		APIBase:  "https://graph.qq.com",
	}
	// SinaEndpoints 新浪微博正式地址
	SinaEndpoints = ProviderEndpoints{
		AuthURL:  "https://api.weibo.com/oauth2/authorize",
		TokenURL: "https://api.weibo.com/oauth2/access_token",
		APIBase:  "https://api.weibo.com",
	}
)

// OAuthService 第三方登录服务
type OAuthService struct {
	providers map[string]OAuthProvider
	states    stateStore
	identity  Identity
	avatars   AvatarMirror
}

// ====================  构造函数 ====================

// NewOAuthService 创建第三方登录服务
// avatars 为 nil 时不转存头像，直接使用平台地址
func NewOAuthService(states stateStore, identity Identity, avatars AvatarMirror, providers ...OAuthProvider) *OAuthService {
	s := &OAuthService{
		providers: make(map[string]OAuthProvider, len(providers)),
		states:    states,
		identity:  identity,
		avatars:   avatars,
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// ProvidersFromConfig 按配置创建已启用的平台
func ProvidersFromConfig(cfg *config.Config) []OAuthProvider {
	var providers []OAuthProvider
	if cfg.IsQQConfigured() {
		providers = append(providers, NewQQProvider(cfg.QQAppID, cfg.QQAppKey, cfg.QQRedirectURI, QQEndpoints))
	} else {
		utils.LogPrintf("[OAUTH] WARN: QQ OAuth not configured")
	}
	if cfg.IsSinaConfigured() {
		providers = append(providers, NewSinaProvider(cfg.SinaAppKey, cfg.SinaAppSecret, cfg.SinaRedirectURI, SinaEndpoints))
	} else {
		utils.LogPrintf("[OAUTH] WARN: Sina OAuth not configured")
	}
	return providers
}

var _ stateStore = (*cache.OAuthStateStore)(nil)

// ====================  公开方法 ====================

// AuthURL 生成平台授权地址
func (s *OAuthService) AuthURL(ctx context.Context, provider string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrOAuthUnknownProvider
	}

	state := uuid.NewString()
	if err := s.states.Save(ctx, state, provider); err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

// Callback 处理平台回调并登录
//
// 参数：
//   - ctx: 请求上下文
//   - provider: 平台（qq / sina）
//   - code: 授权码
//   - state: AuthURL 生成的 state
//
// 返回：
//   - *SignInResult: 登录结果（持久会话）
//   - error: ErrOAuthUnknownProvider / ErrOAuthStateInvalid / ErrOAuthTokenExchange / ErrOAuthUserInfo 或身份服务错误
func (s *OAuthService) Callback(ctx context.Context, provider, code, state string) (*SignInResult, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, ErrOAuthUnknownProvider
	}
	if code == "" || state == "" {
		return nil, ErrOAuthStateInvalid
	}

	owner, err := s.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, cache.ErrStateNotFound) {
			return nil, ErrOAuthStateInvalid
		}
		return nil, err
	}
	if owner != provider {
		utils.LogPrintf("[OAUTH] WARN: State provider mismatch: state=%s, callback=%s", owner, provider)
		return nil, ErrOAuthStateInvalid
	}

	profile, err := p.FetchProfile(ctx, code)
	if err != nil {
		utils.LogPrintf("[OAUTH] ERROR: Fetch profile failed: provider=%s, error=%v", provider, err)
		return nil, err
	}

	// 平台资料只在首次登录时用于创建账户
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	nickname := profile.Nickname
	if nickname == "" {
		nickname = stamp
	}

	result, err := s.identity.UpsertAndSignIn(ctx, ProviderKey(provider, profile.OpenID), Profile{
		UserName:  stamp,
		Email:     stamp + tempEmailDomain,
		Nickname:  nickname,
		AvatarURL: profile.AvatarURL,
	}, true)
	if err != nil {
		return nil, err
	}

	if result.Created && profile.AvatarURL != "" && s.avatars != nil {
		s.avatars.MirrorAsync(result.User.ID, profile.AvatarURL)
	}

	utils.LogPrintf("[OAUTH] OAuth login: provider=%s, userID=%d, created=%v", provider, result.User.ID, result.Created)
	return result, nil
}

// Configured 平台是否已启用
func (s *OAuthService) Configured(provider string) bool {
	_, ok := s.providers[provider]
	return ok
}

// ====================  QQ ====================

// QQProvider QQ 互联
type QQProvider struct {
	conf    *oauth2.Config
	apiBase string
	client  *http.Client
}

// NewQQProvider 创建 QQ 互联平台
func NewQQProvider(appID, appKey, redirectURI string, ep ProviderEndpoints) *QQProvider {
	return &QQProvider{
		conf: &oauth2.Config{
			ClientID:     appID,
			ClientSecret: appKey,
			RedirectURL:  redirectURI,
			Scopes:       []string{"get_user_info"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.AuthURL,
				TokenURL:  ep.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: ep.APIBase,
		client:  &http.Client{Timeout: oauthHTTPTimeout},
	}
}

// Name 平台标识
func (p *QQProvider) Name() string { return ProviderQQ }

// AuthCodeURL 授权地址
func (p *QQProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

type qqMe struct {
	ClientID         string `json:"client_id"`
	OpenID           string `json:"openid"`
	Error            int    `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type qqUserInfo struct {
	Ret          int    `json:"ret"`
	Msg          string `json:"msg"`
	Nickname     string `json:"nickname"`
	FigureURLQQ2 string `json:"figureurl_qq_2"`
	FigureURLQQ1 string `json:"figureurl_qq_1"`
}

// FetchProfile code 换取 Token，再依次获取 OpenID 和用户资料
func (p *QQProvider) FetchProfile(ctx context.Context, code string) (*OAuthProfile, error) {
	tok, err := p.conf.Exchange(withHTTPClient(ctx, p.client), code, oauth2.SetAuthURLParam("fmt", "json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOAuthTokenExchange, err)
	}

	var me qqMe
	meURL := p.apiBase + "/oauth2.0/me?" + url.Values{
		"access_token": {tok.AccessToken},
		"fmt":          {"json"},
	}.Encode()
	if err := getJSON(ctx, p.client, meURL, &me); err != nil {
		return nil, err
	}
	if me.Error != 0 || me.OpenID == "" {
		return nil, fmt.Errorf("%w: me error=%d %s", ErrOAuthUserInfo, me.Error, me.ErrorDescription)
	}

	var info qqUserInfo
	infoURL := p.apiBase + "/user/get_user_info?" + url.Values{
		"access_token":       {tok.AccessToken},
		"oauth_consumer_key": {p.conf.ClientID},
		"openid":             {me.OpenID},
	}.Encode()
	if err := getJSON(ctx, p.client, infoURL, &info); err != nil {
		return nil, err
	}
	if info.Ret != 0 {
		return nil, fmt.Errorf("%w: ret=%d %s", ErrOAuthUserInfo, info.Ret, info.Msg)
	}

	avatar := info.FigureURLQQ2
	if avatar == "" {
		avatar = info.FigureURLQQ1
	}
	return &OAuthProfile{Provider: ProviderQQ, OpenID: me.OpenID, Nickname: info.Nickname, AvatarURL: avatar}, nil
}

// ====================  新浪微博 ====================

// SinaProvider 新浪微博
type SinaProvider struct {
	conf    *oauth2.Config
	apiBase string
	client  *http.Client
}

// NewSinaProvider 创建新浪微博平台
func NewSinaProvider(appKey, appSecret, redirectURI string, ep ProviderEndpoints) *SinaProvider {
	return &SinaProvider{
		conf: &oauth2.Config{
			ClientID:     appKey,
			ClientSecret: appSecret,
			RedirectURL:  redirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.AuthURL,
				TokenURL:  ep.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: ep.APIBase,
		client:  &http.Client{Timeout: oauthHTTPTimeout},
	}
}

// Name 平台标识
func (p *SinaProvider) Name() string { return ProviderSina }

// AuthCodeURL 授权地址
func (p *SinaProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

type sinaUser struct {
	IDStr       string `json:"idstr"`
	ScreenName  string `json:"screen_name"`
	AvatarLarge string `json:"avatar_large"`
	Error       string `json:"error"`
	ErrorCode   int    `json:"error_code"`
}

// FetchProfile code 换取 Token（响应中带 uid），再获取用户资料
func (p *SinaProvider) FetchProfile(ctx context.Context, code string) (*OAuthProfile, error) {
	tok, err := p.conf.Exchange(withHTTPClient(ctx, p.client), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOAuthTokenExchange, err)
	}

	uid := extraString(tok, "uid")
	if uid == "" {
		return nil, fmt.Errorf("%w: token response without uid", ErrOAuthTokenExchange)
	}

	var user sinaUser
	showURL := p.apiBase + "/2/users/show.json?" + url.Values{
		"access_token": {tok.AccessToken},
		"uid":          {uid},
	}.Encode()
	if err := getJSON(ctx, p.client, showURL, &user); err != nil {
		return nil, err
	}
	if user.ErrorCode != 0 {
		return nil, fmt.Errorf("%w: error_code=%d %s", ErrOAuthUserInfo, user.ErrorCode, user.Error)
	}

	return &OAuthProfile{Provider: ProviderSina, OpenID: uid, Nickname: user.ScreenName, AvatarURL: user.AvatarLarge}, nil
}

// ====================  辅助函数 ====================

// withHTTPClient 让 oauth2 使用带超时的客户端
func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// extraString 读取 Token 响应中的附加字段（数字或字符串）
func extraString(tok *oauth2.Token, key string) string {
	switch v := tok.Extra(key).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

// getJSON 发送 GET 请求并解析 JSON 响应
func getJSON(ctx context.Context, client *http.Client, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrOAuthUserInfo, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", ErrOAuthUserInfo, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, oauthMaxBodySize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrOAuthUserInfo, err)
	}

	if resp.StatusCode != http.StatusOK {
		utils.LogPrintf("[OAUTH] ERROR: Request failed with status %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("%w: status %d", ErrOAuthUserInfo, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %v", ErrOAuthUserInfo, err)
	}
	return nil
}

package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"hiblogs-account/internal/cache"
	"hiblogs-account/internal/models"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

// memoryUsers 内存用户仓库，唯一约束行为与 users 表一致
type memoryUsers struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]*models.User
	roles   map[int64]string
	touched map[int64]int
	failErr error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		users:   make(map[int64]*models.User),
		roles:   make(map[int64]string),
		touched: make(map[int64]int),
	}
}

func (m *memoryUsers) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (m *memoryUsers) FindByID(_ context.Context, id int64) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *memoryUsers) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Username == username })
}

func (m *memoryUsers) FindByOpenID(_ context.Context, provider, openID string) (*models.User, error) {
	return m.find(func(u *models.User) bool {
		return u.OAuthProvider.String == provider && u.OpenID.Valid && u.OpenID.String == openID
	})
}

func (m *memoryUsers) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := m.FindByUsername(ctx, username)
	if err == models.ErrUserNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *memoryUsers) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	return int64(len(m.users)), nil
}

func (m *memoryUsers) CreateWithRole(_ context.Context, user *models.User, roleName string) error {
	if err := user.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, u := range m.users {
		switch {
		case u.Username == user.Username:
			return models.ErrUsernameExists
		case u.Email == user.Email:
			return models.ErrEmailExists
		case user.OpenID.Valid && u.OpenID.Valid &&
			u.OpenID.String == user.OpenID.String && u.OAuthProvider.String == user.OAuthProvider.String:
			return models.ErrOpenIDExists
		}
	}

	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	m.users[user.ID] = &cp
	m.roles[user.ID] = roleName
	return nil
}

func (m *memoryUsers) TouchLogin(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id]++
	return nil
}

func (m *memoryUsers) UpdateSecurityStamp(_ context.Context, id int64, stamp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	u.SecurityStamp = stamp
	return nil
}

func (m *memoryUsers) roleOf(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[id]
}

func (m *memoryUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// memoryRoles 内存角色仓库
type memoryRoles struct {
	mu    sync.Mutex
	names []string
}

func (r *memoryRoles) EnsureRoles(_ context.Context, names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		found := false
		for _, existing := range r.names {
			if existing == n {
				found = true
				break
			}
		}
		if !found {
			r.names = append(r.names, n)
		}
	}
	return nil
}

// memoryLogs 内存账户日志
type memoryLogs struct {
	mu      sync.Mutex
	actions []string
}

func (l *memoryLogs) Record(_ context.Context, _ int64, action string, _ interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = append(l.actions, action)
	return nil
}

func (l *memoryLogs) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.actions...)
}

// recordingNotifier 记录发送的激活邮件
type recordingNotifier struct {
	mu    sync.Mutex
	sent  []ActivationMail
	err   error
	panic bool
}

func (n *recordingNotifier) SendActivation(_ context.Context, m ActivationMail) error {
	if n.panic {
		panic("smtp exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return n.err
}

func (n *recordingNotifier) mails() []ActivationMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ActivationMail(nil), n.sent...)
}

// tokenFromLink 从激活链接中取出激活串（链接中仍为 URL 编码形式）
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	i := strings.Index(link, ActivationParam+"=")
	require.GreaterOrEqual(t, i, 0, "link without token: %s", link)
	return link[i+len(ActivationParam)+1:]
}

type identityFixture struct {
	users    *memoryUsers
	roles    *memoryRoles
	logs     *memoryLogs
	sessions *SessionService
	cache    *cache.UserCache
	service  *IdentityService
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()

	sessions, err := NewSessionService(testSecret, 24*time.Hour, time.Hour)
	require.NoError(t, err)
	userCache, err := cache.NewUserCache(16, time.Minute)
	require.NoError(t, err)

	f := &identityFixture{
		users:    newMemoryUsers(),
		roles:    &memoryRoles{},
		logs:     &memoryLogs{},
		sessions: sessions,
		cache:    userCache,
	}
	f.service = NewIdentityService(f.users, f.roles, f.logs, f.sessions, f.cache)
	return f
}

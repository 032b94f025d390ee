package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"hiblogs-account/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndSignInCreatesByEmail(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	res, err := f.service.UpsertAndSignIn(ctx, EmailKey("new@example.com"), Profile{
		UserName: "newbie",
		Email:    "new@example.com",
		Password: "secret123",
		Nickname: "newbie",
	}, true)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Ticket.Persistent)
	assert.NotEmpty(t, res.User.SecurityStamp)
	assert.Equal(t, models.RoleAverage, f.users.roleOf(res.User.ID))
	assert.Equal(t, []string{models.AccountActionActivate}, f.logs.list())

	claims, err := f.sessions.VerifyToken(res.Ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)

	// 密码以哈希形式存储，可以正常认证
	user, err := f.service.Authenticate(ctx, "newbie", "secret123")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, user.ID)
	assert.NotEqual(t, "secret123", user.Password)
}

func TestUpsertAndSignInReusesExisting(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	key := ProviderKey("qq", "OPENID-1")
	profile := Profile{UserName: "1700000000", Email: "1700000000@temp.com", Nickname: "QQ用户"}

	first, err := f.service.UpsertAndSignIn(ctx, key, profile, true)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "qq", first.User.OAuthProvider.String)

	profile.UserName, profile.Email = "1700000001", "1700000001@temp.com"
	second, err := f.service.UpsertAndSignIn(ctx, key, profile, true)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, 1, f.users.count())
	assert.Equal(t, []string{models.AccountActionOAuthLogin, models.AccountActionOAuthLogin}, f.logs.list())
}

func TestUpsertAndSignInConcurrentProvider(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	key := ProviderKey("sina", "uid-42")

	var wg sync.WaitGroup
	ids := make([]int64, 3)
	errs := make([]error, 3)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "u" + string(rune('a'+i))
			res, err := f.service.UpsertAndSignIn(ctx, key, Profile{
				UserName: name, Email: name + "@temp.com", Nickname: "微博用户",
			}, true)
			errs[i] = err
			if err == nil {
				ids[i] = res.User.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.users.count())
}

func TestUpsertAndSignInMapsConflicts(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	_, err := f.service.UpsertAndSignIn(ctx, EmailKey("a@example.com"), Profile{
		UserName: "taken", Email: "a@example.com", Password: "secret123",
	}, true)
	require.NoError(t, err)

	_, err = f.service.UpsertAndSignIn(ctx, EmailKey("b@example.com"), Profile{
		UserName: "taken", Email: "b@example.com", Password: "secret123",
	}, true)
	assert.ErrorIs(t, err, models.ErrUsernameExists)

	_, err = f.service.UpsertAndSignIn(ctx, IdentityKey{}, Profile{}, true)
	assert.ErrorIs(t, err, ErrInvalidIdentityKey)
}

func TestAuthenticate(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	_, err := f.service.UpsertAndSignIn(ctx, EmailKey("c@example.com"), Profile{
		UserName: "Carol", Email: "c@example.com", Password: "correct-horse",
	}, false)
	require.NoError(t, err)

	_, err = f.service.Authenticate(ctx, "nobody", "whatever")
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	_, err = f.service.Authenticate(ctx, "Carol", "wrong-horse")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	// 用户名区分大小写
	_, err = f.service.Authenticate(ctx, "carol", "correct-horse")
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	user, err := f.service.Authenticate(ctx, "Carol", "correct-horse")
	require.NoError(t, err)

	ticket, err := f.service.SignIn(ctx, user, false)
	require.NoError(t, err)
	assert.False(t, ticket.Persistent)
	assert.Equal(t, 2, f.users.touched[user.ID])
}

func TestResolveSession(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	res, err := f.service.UpsertAndSignIn(ctx, EmailKey("d@example.com"), Profile{
		UserName: "dave", Email: "d@example.com", Password: "secret123",
	}, true)
	require.NoError(t, err)

	claims, err := f.sessions.VerifyToken(res.Ticket.Token)
	require.NoError(t, err)

	user, err := f.service.ResolveSession(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, "dave", user.Username)

	claims.Stamp = "stale"
	_, err = f.service.ResolveSession(ctx, claims)
	assert.ErrorIs(t, err, ErrStampMismatch)

	_, err = f.service.ResolveSession(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSeed(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()
	in := SeedInput{
		UserName: "Administrator",
		Email:    "Administrator@haojima.net",
		Nickname: "Administrator",
		Password: "123qwe",
	}

	seeded, err := f.service.Seed(ctx, in)
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.ElementsMatch(t, models.BuiltinRoles, f.roles.names)

	admin, err := f.service.Authenticate(ctx, "Administrator", "123qwe")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdministrator, f.users.roleOf(admin.ID))

	again, err := f.service.Seed(ctx, in)
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, 1, f.users.count())
}

func TestSeedPropagatesStoreError(t *testing.T) {
	f := newIdentityFixture(t)
	f.users.failErr = errors.New("connection refused")

	_, err := f.service.Seed(context.Background(), SeedInput{UserName: "a", Email: "a@b.c", Password: "x"})
	assert.Error(t, err)
}

func TestSignOutRevokesSessions(t *testing.T) {
	f := newIdentityFixture(t)
	ctx := context.Background()

	res, err := f.service.UpsertAndSignIn(ctx, EmailKey("e@example.com"), Profile{
		UserName: "erin", Email: "e@example.com", Password: "secret123",
	}, false)
	require.NoError(t, err)

	claims, err := f.sessions.VerifyToken(res.Ticket.Token)
	require.NoError(t, err)
	_, err = f.service.ResolveSession(ctx, claims)
	require.NoError(t, err)

	f.service.SignOut(ctx, res.User.ID)

	// 旧会话的安全戳已失效
	_, err = f.service.ResolveSession(ctx, claims)
	assert.ErrorIs(t, err, ErrStampMismatch)
	assert.Contains(t, f.logs.list(), models.AccountActionLogoff)
}

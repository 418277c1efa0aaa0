package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/usersvc/internal/common"
	"github.com/dmitrijs2005/usersvc/internal/server/auth"
	"github.com/dmitrijs2005/usersvc/internal/server/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var testHasherParams = auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

type testEnv struct {
	svc      *AuthService
	store    *memStore
	issuer   *auth.TokenIssuer
	refresh  *RefreshTokenManager
	delivery *recordingDelivery
	registry *prometheus.Registry
}

func openTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, openTxDB(t))
}

func newTestEnvWithDB(t *testing.T, db *sql.DB) *testEnv {
	t.Helper()

	store := newMemStore()
	manager := &fakeManager{store: store}

	issuer, err := auth.NewTokenIssuer(auth.IssuerConfig{
		Secret:   []byte("test-secret-test-secret-test-secret"),
		Issuer:   "usersvc-test",
		Audience: "usersvc-clients",
		TTL:      24 * time.Hour,
	})
	require.NoError(t, err)

	refresh := NewRefreshTokenManager(manager, RefreshTokenPolicy{
		LoginValidity:   2 * time.Hour,
		RotatedValidity: 7 * 24 * time.Hour,
	})

	reg := prometheus.NewRegistry()
	m, err := metrics.NewAuth(reg)
	require.NoError(t, err)

	d := &recordingDelivery{}
	svc, err := NewAuthService(db, manager, AuthDeps{
		Hasher:   auth.NewArgon2idHasher(testHasherParams),
		Issuer:   issuer,
		Refresh:  refresh,
		Delivery: d,
		Metrics:  m,
	})
	require.NoError(t, err)

	return &testEnv{svc: svc, store: store, issuer: issuer, refresh: refresh, delivery: d, registry: reg}
}

func (e *testEnv) register(t *testing.T, userName, password, email string) string {
	t.Helper()
	res := e.svc.Register(context.Background(), RegisterRequest{UserName: userName, Password: password, Email: email})
	require.Equal(t, StatusCreated, res.Status, res.Message)
	return res.Data.ID
}

func (e *testEnv) login(t *testing.T, userName, password string) *LoginResponse {
	t.Helper()
	res := e.svc.Login(context.Background(), userName, password)
	require.Equal(t, StatusOK, res.Status, res.Message)
	return res.Data
}

func TestNewAuthService_RequiresCollaborators(t *testing.T) {
	db := openTxDB(t)
	m := &fakeManager{store: newMemStore()}

	_, err := NewAuthService(nil, m, AuthDeps{})
	assert.Error(t, err)

	_, err = NewAuthService(db, m, AuthDeps{Hasher: auth.NewArgon2idHasher(testHasherParams)})
	assert.Error(t, err)
}

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.svc.Register(ctx, RegisterRequest{UserName: "alice", Password: "s3cret!", Email: "alice@example.com", Name: "Alice"})
	require.Equal(t, StatusCreated, res.Status)
	assert.True(t, res.Succeeded())
	assert.NotEmpty(t, res.Data.ID)
	assert.NotEqual(t, "s3cret!", res.Data.PasswordHash)

	login := env.svc.Login(ctx, "alice", "s3cret!")
	require.Equal(t, StatusOK, login.Status)
	assert.Equal(t, MsgLoginSuccessful, login.Message)
	assert.Equal(t, res.Data.ID, login.Data.UserID)
	assert.NotEmpty(t, login.Data.RefreshToken)

	claims, err := env.issuer.Validate(login.Data.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Data.ID, claims.UserID)
	assert.Equal(t, "alice", claims.UserName)

	// username lookup is case-insensitive
	assert.Equal(t, StatusOK, env.svc.Login(ctx, "ALICE", "s3cret!").Status)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	for _, req := range []RegisterRequest{
		{UserName: "", Password: "pw"},
		{UserName: "bob", Password: ""},
		{UserName: "   ", Password: "pw"},
	} {
		res := env.svc.Register(context.Background(), req)
		assert.Equal(t, StatusBadRequest, res.Status)
		assert.Equal(t, MsgCredentialsRequired, res.Message)
	}
	assert.Empty(t, env.store.users)
}

func TestRegister_Conflicts(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "pw1", "alice@example.com")

	res := env.svc.Register(context.Background(), RegisterRequest{UserName: "Alice", Password: "pw2"})
	assert.Equal(t, StatusConflict, res.Status)
	assert.Equal(t, MsgUsernameExists, res.Message)

	res = env.svc.Register(context.Background(), RegisterRequest{UserName: "bob", Password: "pw2", Email: "ALICE@example.com"})
	assert.Equal(t, StatusConflict, res.Status)
	assert.Equal(t, MsgEmailExists, res.Message)

	assert.Len(t, env.store.users, 1)

	// the original credentials still work
	env.login(t, "alice", "pw1")
	assert.Equal(t, StatusUnauthorized, env.svc.Login(context.Background(), "alice", "pw2").Status)
}

func TestRegister_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.failWith = errors.New("db down")

	res := env.svc.Register(context.Background(), RegisterRequest{UserName: "alice", Password: "pw"})
	assert.Equal(t, StatusInternalServerError, res.Status)
	assert.Equal(t, MsgRegisterDBError, res.Message)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "right", "")

	unknown := env.svc.Login(context.Background(), "nobody", "right")
	wrong := env.svc.Login(context.Background(), "alice", "wrong")

	assert.Equal(t, StatusUnauthorized, unknown.Status)
	assert.Equal(t, unknown.Status, wrong.Status)
	assert.Equal(t, MsgInvalidCredentials, unknown.Message)
	assert.Equal(t, unknown.Message, wrong.Message)
	assert.Nil(t, unknown.Data)
	assert.Nil(t, wrong.Data)
	assert.Empty(t, env.store.tokens)
}

func TestLogin_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.failWith = errors.New("db down")

	res := env.svc.Login(context.Background(), "alice", "pw")
	assert.Equal(t, StatusInternalServerError, res.Status)
}

func TestLogin_EachLoginIsASession(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "pw", "")

	a := env.login(t, "alice", "pw")
	b := env.login(t, "alice", "pw")

	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)
	assert.Len(t, env.store.tokens, 2)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "pw", "")
	session := env.login(t, "alice", "pw")

	res := env.svc.Logout(ctx, session.RefreshToken)
	require.Equal(t, StatusOK, res.Status)

	again := env.svc.Logout(ctx, session.RefreshToken)
	assert.Equal(t, StatusBadRequest, again.Status)
	assert.Equal(t, MsgInvalidRefreshToken, again.Message)

	refreshed := env.svc.RefreshTokens(ctx, session.RefreshToken)
	assert.Equal(t, StatusBadRequest, refreshed.Status)

	// access tokens are self-contained and outlive logout
	_, err := env.issuer.Validate(session.AccessToken)
	assert.NoError(t, err)
}

func TestLogout_BlankToken(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, StatusBadRequest, env.svc.Logout(context.Background(), "").Status)
}

func TestRefreshTokens_Rotates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.register(t, "alice", "pw", "")
	session := env.login(t, "alice", "pw")

	res := env.svc.RefreshTokens(ctx, session.RefreshToken)
	require.Equal(t, StatusOK, res.Status)
	assert.NotEqual(t, session.RefreshToken, res.Data.RefreshToken)

	claims, err := env.issuer.Validate(res.Data.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.UserName)

	old := env.svc.RefreshTokens(ctx, session.RefreshToken)
	assert.Equal(t, StatusBadRequest, old.Status)
	assert.Equal(t, MsgInvalidRefreshToken, old.Message)

	next := env.svc.RefreshTokens(ctx, res.Data.RefreshToken)
	assert.Equal(t, StatusOK, next.Status)

	// rotation is in place
	assert.Len(t, env.store.tokens, 1)
}

func TestRefreshTokens_RotatedTokenGetsLongerLifetime(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	env.refresh.now = func() time.Time { return base }

	env.register(t, "alice", "pw", "")
	session := env.login(t, "alice", "pw")
	for _, tok := range env.store.tokens {
		assert.Equal(t, base.Add(2*time.Hour), tok.ExpiresAt)
	}

	env.refresh.now = func() time.Time { return base.Add(time.Hour) }
	require.Equal(t, StatusOK, env.svc.RefreshTokens(context.Background(), session.RefreshToken).Status)
	for _, tok := range env.store.tokens {
		assert.Equal(t, base.Add(time.Hour+7*24*time.Hour), tok.ExpiresAt)
	}
}

func TestRefreshTokens_Expired(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now()
	env.refresh.now = func() time.Time { return base }

	env.register(t, "alice", "pw", "")
	session := env.login(t, "alice", "pw")

	env.refresh.now = func() time.Time { return base.Add(2*time.Hour + time.Second) }
	res := env.svc.RefreshTokens(context.Background(), session.RefreshToken)
	assert.Equal(t, StatusBadRequest, res.Status)
	assert.Equal(t, MsgInvalidRefreshToken, res.Message)
}

func TestRefreshTokens_Unknown(t *testing.T) {
	env := newTestEnv(t)
	for _, tok := range []string{"", "not-a-token"} {
		res := env.svc.RefreshTokens(context.Background(), tok)
		assert.Equal(t, StatusBadRequest, res.Status)
	}
}

func TestRefreshTokens_ConcurrentRotationHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "pw", "")
	session := env.login(t, "alice", "pw")

	const workers = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]Result[*TokenResponse], workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = env.svc.RefreshTokens(context.Background(), session.RefreshToken)
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, r := range results {
		switch r.Status {
		case StatusOK:
			winners++
		case StatusBadRequest:
		default:
			t.Fatalf("unexpected status %s: %s", r.Status, r.Message)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, env.store.tokens, 1)
}

func TestRefreshTokens_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.failWith = errors.New("db down")

	res := env.svc.RefreshTokens(context.Background(), "some-token")
	assert.Equal(t, StatusInternalServerError, res.Status)
}

func TestRefreshTokens_TransactionBoundaries(t *testing.T) {
	t.Run("commit on success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		env := newTestEnvWithDB(t, db)
		env.register(t, "alice", "pw", "")
		session := env.login(t, "alice", "pw")

		mock.ExpectBegin()
		mock.ExpectCommit()

		assert.Equal(t, StatusOK, env.svc.RefreshTokens(context.Background(), session.RefreshToken).Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on unknown token", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		env := newTestEnvWithDB(t, db)

		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Equal(t, StatusBadRequest, env.svc.RefreshTokens(context.Background(), "missing").Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		env := newTestEnvWithDB(t, db)
		mock.ExpectBegin().WillReturnError(errors.New("no conn"))

		assert.Equal(t, StatusInternalServerError, env.svc.RefreshTokens(context.Background(), "tok").Status)
	})
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.register(t, "alice", "old-pw", "alice@example.com")

	res := env.svc.ResetPassword(ctx, "Alice@Example.com")
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, MsgPasswordReset, res.Message)
	require.Len(t, res.Data, GeneratedPasswordLength)
	for _, r := range res.Data {
		assert.True(t, strings.ContainsRune(common.AlphaNumeric, r), "unexpected rune %q", r)
	}

	assert.Equal(t, res.Data, env.delivery.passwords[userID])

	env.login(t, "alice", res.Data)
	assert.Equal(t, StatusUnauthorized, env.svc.Login(ctx, "alice", "old-pw").Status)
}

func TestResetPassword_Failures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "pw", "alice@example.com")

	res := env.svc.ResetPassword(context.Background(), "nobody@example.com")
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Equal(t, MsgEmailNotFound, res.Message)
	assert.Empty(t, res.Data)

	res = env.svc.ResetPassword(context.Background(), "  ")
	assert.Equal(t, StatusBadRequest, res.Status)
	assert.Equal(t, MsgEmailRequired, res.Message)

	env.store.failWith = errors.New("db down")
	res = env.svc.ResetPassword(context.Background(), "alice@example.com")
	assert.Equal(t, StatusInternalServerError, res.Status)
	assert.Equal(t, MsgResetPasswordFailure, res.Message)
}

func TestResetPassword_DeliveryFailureDoesNotFailReset(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "pw", "alice@example.com")
	env.delivery.err = errors.New("redis down")

	res := env.svc.ResetPassword(context.Background(), "alice@example.com")
	require.Equal(t, StatusOK, res.Status)
	env.login(t, "alice", res.Data)
}

func TestPurgeExpiredRefreshTokens(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now()
	env.refresh.now = func() time.Time { return base }

	env.register(t, "alice", "pw", "")
	env.login(t, "alice", "pw")
	env.login(t, "alice", "pw")

	n, err := env.svc.PurgeExpiredRefreshTokens(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	env.refresh.now = func() time.Time { return base.Add(3 * time.Hour) }
	n, err = env.svc.PurgeExpiredRefreshTokens(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Empty(t, env.store.tokens)
}

func TestOperationsAreCounted(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "pw", "")
	env.svc.Login(context.Background(), "alice", "bad")

	n, err := testutil.GatherAndCount(env.registry, "usersvc_auth_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(env.registry, "usersvc_password_hash_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

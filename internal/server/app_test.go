package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/usersvc/internal/logging"
	"github.com/dmitrijs2005/usersvc/internal/server/config"
	"github.com/dmitrijs2005/usersvc/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPinger struct {
	failures int32
	calls    atomic.Int32
}

func (p *flakyPinger) PingContext(context.Context) error {
	if p.calls.Add(1) <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestConnectDB_RetriesUntilPingSucceeds(t *testing.T) {
	p := &flakyPinger{failures: 2}

	require.NoError(t, connectDB(context.Background(), p, logging.Nop{}))
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestConnectDB_GivesUp(t *testing.T) {
	p := &flakyPinger{failures: 1 << 30}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.Error(t, connectDB(ctx, p, logging.Nop{}))
}

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.SecretKey = "app-test-secret"
	return c
}

func TestWire(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	app := &App{config: testConfig(), logger: logging.Nop{}, db: db}
	require.NoError(t, app.wire(repomanager.NewPostgresRepositoryManager()))

	assert.NotNil(t, app.auth)
	assert.NotNil(t, app.issuer)
	assert.Nil(t, app.redis)

	mfs, err := app.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	assert.NoError(t, app.close())
}

func TestWire_WithRedisOutbox(t *testing.T) {
	mr := miniredis.RunT(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	c := testConfig()
	c.RedisAddr = mr.Addr()

	app := &App{config: c, logger: logging.Nop{}, db: db}
	require.NoError(t, app.wire(repomanager.NewPostgresRepositoryManager()))
	assert.NotNil(t, app.redis)
	assert.NoError(t, app.close())
}

func TestWire_RejectsBadIssuerConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := testConfig()
	c.SecretKey = ""

	app := &App{config: c, logger: logging.Nop{}, db: db}
	assert.Error(t, app.wire(repomanager.NewPostgresRepositoryManager()))
}

func TestRunPurgeLoop(t *testing.T) {
	var calls atomic.Int32
	purge := func(context.Context) (int64, error) {
		if calls.Add(1)%2 == 0 {
			return 0, errors.New("db down")
		}
		return 3, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runPurgeLoop(ctx, 5*time.Millisecond, logging.Nop{}, purge)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purge loop did not stop")
	}
}

package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_ObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewAuth(reg)
	require.NoError(t, err)

	m.ObserveOperation("login", "OK")
	m.ObserveOperation("login", "OK")
	m.ObserveOperation("login", "Unauthorized")

	expected := `
# HELP usersvc_auth_operations_total Auth operations by operation name and result status.
# TYPE usersvc_auth_operations_total counter
usersvc_auth_operations_total{operation="login",status="OK"} 2
usersvc_auth_operations_total{operation="login",status="Unauthorized"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "usersvc_auth_operations_total"))
}

func TestAuth_ObserveHashing(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewAuth(reg)
	require.NoError(t, err)

	m.ObserveHashing(20 * time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "usersvc_password_hash_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAuth_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewAuth(reg)
	require.NoError(t, err)

	_, err = NewAuth(reg)
	require.Error(t, err)
}

func TestAuth_NilIsNoop(t *testing.T) {
	var m *Auth
	m.ObserveOperation("login", "OK")
	m.ObserveHashing(time.Second)
}

package alertsession

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/buyvia/internal/api"
	"github.com/and161185/buyvia/internal/apitest"
	"github.com/and161185/buyvia/internal/errs"
	"github.com/and161185/buyvia/internal/model"
	"github.com/and161185/buyvia/internal/refresh"
)

func connect(t *testing.T) (*apitest.Backend, *api.Client, int64) {
	t.Helper()
	be := apitest.New(t)
	be.AddProduct(apitest.Product(42, "Blender 600W", "200", 5))
	uid := be.AddUser("alice", "secret")
	c, err := api.Connect(be.URL(), api.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	return be, c, uid
}

func lastBody(be *apitest.Backend, method, path string) string {
	calls := be.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method && calls[i].Path == path {
			return calls[i].Body
		}
	}
	return ""
}

func TestAgainstBackend_CreateAlertFlow(t *testing.T) {
	t.Parallel()
	be, c, uid := connect(t)
	sig := refresh.New()
	var reruns atomic.Int32
	sig.Subscribe(func(int64) { reruns.Add(1) })
	s := New(42, decimal.RequireFromString("200"), c, c.Session(), sig,
		WithLogger(zaptest.NewLogger(t)), WithSettleDelay(100*time.Millisecond))
	t.Cleanup(s.Close)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.Equal(t, PromptCreate, s.State())

	require.NoError(t, s.Submit(ctx, decimal.RequireFromString("180")))
	assert.Equal(t, 1, be.Count(http.MethodPost, "/alerts/"))
	assert.EqualValues(t, 1, sig.Version())
	assert.EqualValues(t, 1, reruns.Load())
	assert.JSONEq(t, `{"product_id":42,"threshold_price":180}`, lastBody(be, http.MethodPost, "/alerts/"))

	stored := be.Alerts(uid)
	require.Len(t, stored, 1)
	assert.EqualValues(t, 42, stored[0].ProductID)
	assert.True(t, stored[0].ThresholdPrice.Equal(decimal.NewFromInt(180)))

	require.Eventually(t, func() bool { return s.State() == Idle }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.Queue().Len())

	// next open finds the new alert
	require.NoError(t, s.Open(ctx))
	assert.Equal(t, PromptRemove, s.State())
}

func TestAgainstBackend_RemoveAlertFlow(t *testing.T) {
	t.Parallel()
	be, c, uid := connect(t)
	be.AddAlert(uid, 42, decimal.NewFromInt(150), model.AlertActive)
	sig := refresh.New()
	s := New(42, decimal.RequireFromString("200"), c, c.Session(), sig, WithSettleDelay(time.Hour))
	t.Cleanup(s.Close)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.Equal(t, PromptRemove, s.State())
	require.NoError(t, s.Confirm(ctx))
	assert.Empty(t, be.Alerts(uid))
	assert.EqualValues(t, 1, sig.Version())
}

func TestAgainstBackend_ExpiredTokenLogsOut(t *testing.T) {
	t.Parallel()
	be, c, _ := connect(t)
	s := New(42, decimal.RequireFromString("200"), c, c.Session(), refresh.New())
	t.Cleanup(s.Close)

	be.Fail(http.MethodGet, "/auth/me", http.StatusUnauthorized, "Could not validate credentials")
	require.ErrorIs(t, s.Open(context.Background()), errs.ErrUnauthorized)
	assert.Equal(t, Unauthenticated, s.State())
	assert.False(t, c.Session().IsLoggedIn())

	// still logged out: no request is made on the next open
	calls := len(be.Calls())
	require.ErrorIs(t, s.Open(context.Background()), errs.ErrUnauthorized)
	assert.Len(t, be.Calls(), calls)
}

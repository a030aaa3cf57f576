package alerts

import (
	"context"
	"net/http"
	"testing"

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

func setup(t *testing.T) (*apitest.Backend, *Manager, *refresh.Signal, int64) {
	t.Helper()
	be := apitest.New(t)
	uid := be.AddUser("alice", "secret")
	c, err := api.Connect(be.URL(), api.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	sig := refresh.New()
	return be, NewManager(c, sig, zaptest.NewLogger(t)), sig, uid
}

func TestList_AttachesProductsAndToleratesMissingOnes(t *testing.T) {
	t.Parallel()
	be, m, _, uid := setup(t)
	be.AddProduct(apitest.Product(42, "Blender 600W", "200", 5))
	be.AddAlert(uid, 42, decimal.NewFromInt(180), model.AlertActive)
	be.AddAlert(uid, 404, decimal.NewFromInt(10), model.AlertActive)

	got, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	byProduct := GroupByProduct(got)
	require.Len(t, byProduct[42], 1)
	require.NotNil(t, byProduct[42][0].Product)
	assert.Equal(t, "Blender 600W", byProduct[42][0].ProductName)
	require.Len(t, byProduct[404], 1)
	assert.Nil(t, byProduct[404][0].Product)
}

func TestUpdate_ValidatesAndBumpsSignal(t *testing.T) {
	t.Parallel()
	be, m, sig, uid := setup(t)
	be.AddProduct(apitest.Product(42, "Blender", "200", 5))
	id := be.AddAlert(uid, 42, decimal.NewFromInt(180), model.AlertActive)
	ctx := context.Background()

	calls := len(be.Calls())
	_, err := m.Update(ctx, id, decimal.Zero)
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Len(t, be.Calls(), calls)
	assert.Zero(t, sig.Version())

	// above the current price is fine for an edit
	a, err := m.Update(ctx, id, decimal.NewFromInt(250))
	require.NoError(t, err)
	assert.True(t, a.ThresholdPrice.Equal(decimal.NewFromInt(250)))
	assert.EqualValues(t, 1, sig.Version())
}

func TestDelete_BumpsSignalOnlyOnSuccess(t *testing.T) {
	t.Parallel()
	be, m, sig, uid := setup(t)
	id := be.AddAlert(uid, 42, decimal.NewFromInt(180), model.AlertActive)
	ctx := context.Background()

	require.NoError(t, m.Delete(ctx, id))
	assert.EqualValues(t, 1, sig.Version())

	require.ErrorIs(t, m.Delete(ctx, id), errs.ErrNotFound)
	assert.EqualValues(t, 1, sig.Version())
	assert.Empty(t, be.Alerts(uid))
}

func TestTriggered_ShortensNames(t *testing.T) {
	t.Parallel()
	be, m, _, uid := setup(t)
	be.AddProduct(apitest.Product(1, "Samsung Galaxy S24 Ultra 512GB Black", "4999", 2))
	be.AddAlert(uid, 1, decimal.NewFromInt(5000), model.AlertTriggered)
	be.AddAlert(uid, 2, decimal.NewFromInt(5), model.AlertTriggered)
	be.AddAlert(uid, 1, decimal.NewFromInt(1), model.AlertActive)

	got, err := m.Triggered(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	names := map[int64]string{}
	for _, v := range got {
		names[v.ProductID] = v.ProductName
	}
	assert.Equal(t, "Samsung Galaxy S24 Ultra...", names[1])
	assert.Equal(t, "Unknown Product...", names[2])
}

func TestList_RejectedTokenSurfaces(t *testing.T) {
	t.Parallel()
	be, m, _, _ := setup(t)
	be.Fail(http.MethodGet, "/auth/me", http.StatusUnauthorized, "Could not validate credentials")

	_, err := m.List(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestShortName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"One Two Three Four Five", "One Two Three Four..."},
		{"Short", "Short..."},
		{"  spaced   out  words ", "spaced out words..."},
		{"", "..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShortName(tt.in), tt.in)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	p := apitest.Product(42, "Blender", "199.5", 5)
	v := model.AlertView{
		Alert:       model.Alert{AlertID: 3, ProductID: 42, ThresholdPrice: decimal.NewFromInt(180), Status: model.AlertActive},
		Product:     &p,
		ProductName: "Blender",
	}
	assert.Equal(t, "#3 Blender: threshold 180.00, now 199.50 [active]", Describe(v))

	v.Product, v.ProductName = nil, ""
	assert.Equal(t, "#3 product 42: threshold 180.00, now n/a [active]", Describe(v))
}

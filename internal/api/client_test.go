package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/buyvia/internal/apitest"
	"github.com/and161185/buyvia/internal/auth"
	"github.com/and161185/buyvia/internal/errs"
	"github.com/and161185/buyvia/internal/model"
)

func setup(t *testing.T) (*apitest.Backend, *Client) {
	t.Helper()
	be := apitest.New(t)
	c, err := Connect(be.URL(), Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return be, c
}

func login(t *testing.T, be *apitest.Backend, c *Client) int64 {
	t.Helper()
	id := be.AddUser("alice", "secret")
	_, err := c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	return id
}

func TestSearch_DecodesPage(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	be.AddProduct(apitest.Product(1, "Samsung TV 55", "1999.99", 3))
	be.AddProduct(apitest.Product(2, "LG TV 65", "2999", 3))
	be.AddProduct(apitest.Product(3, "iPhone", "4999", 4))

	page, err := c.Search(context.Background(), model.SearchQuery{Query: "tv", PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	require.Len(t, page.Products, 1)
	assert.EqualValues(t, 1, page.Products[0].ProductID)
	assert.True(t, page.Products[0].Price.Decimal.Equal(decimal.RequireFromString("1999.99")))

	calls := be.Calls()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls[len(calls)-1].Query, "page_size=1")
}

func TestSearch_NoMatchIsEmpty(t *testing.T) {
	t.Parallel()
	_, c := setup(t)

	page, err := c.Search(context.Background(), model.SearchQuery{Query: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, page.Products)
	assert.Zero(t, page.TotalCount)
}

func TestSearch_EmptyQueryRejectedLocally(t *testing.T) {
	t.Parallel()
	be, c := setup(t)

	_, err := c.Search(context.Background(), model.SearchQuery{})
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Empty(t, be.Calls())
}

func TestSearch_ConcurrentCallersAreSerialized(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	be.SetSearchDelay(5 * time.Millisecond)
	be.AddProduct(apitest.Product(1, "kettle", "99", 2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Search(context.Background(), model.SearchQuery{Query: "kettle"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, be.SearchPeak())
	assert.Equal(t, 8, be.Count(http.MethodGet, "/search"))
}

func TestProduct_AndNotFound(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	be.AddProduct(apitest.Product(42, "Blender", "200", 5))

	p, err := c.Product(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Blender", p.Title)
	assert.True(t, p.Available())

	_, err = c.Product(context.Background(), 7)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCategoryProducts_SortAndDefaults(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	be.AddProduct(apitest.Product(1, "a", "300", 9))
	be.AddProduct(apitest.Product(2, "b", "100", 9))
	be.AddProduct(apitest.Product(3, "c", "200", 9))
	be.AddProduct(apitest.Product(4, "other", "1", 8))

	page, err := c.CategoryProducts(context.Background(), model.SearchQuery{CategoryID: 9, SortBy: model.SortPriceLow})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	ids := []int64{page.Products[0].ProductID, page.Products[1].ProductID, page.Products[2].ProductID}
	assert.Equal(t, []int64{2, 3, 1}, ids)

	_, err = c.CategoryProducts(context.Background(), model.SearchQuery{})
	assert.ErrorIs(t, err, errs.ErrValidation)

	calls := be.Calls()
	assert.Contains(t, calls[len(calls)-1].Query, "sort_by=price-low")
	assert.Contains(t, calls[len(calls)-1].Query, "page_size="+strconv.Itoa(model.DefaultCategoryPageSize))
}

func TestRelatedProducts_ExcludesCurrent(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	be.AddProduct(apitest.Product(1, "a", "10", 9))
	be.AddProduct(apitest.Product(2, "b", "20", 9))
	be.AddProduct(apitest.Product(3, "c", "30", 9))

	ps, err := c.RelatedProducts(context.Background(), 9, 10, 2)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	for _, p := range ps {
		assert.NotEqualValues(t, 2, p.ProductID)
	}
}

func TestLogin_InstallsToken(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	be.AddUser("alice", "secret")

	_, err := c.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.False(t, c.Session().IsLoggedIn())

	tok, err := c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
	assert.True(t, tok.ExpiresAt.After(time.Now()))
	assert.True(t, c.Session().IsLoggedIn())

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)

	c.Logout()
	_, err = c.Me(context.Background())
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestRegister(t *testing.T) {
	t.Parallel()
	_, c := setup(t)
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, "bob", "bob@example.com", "pw"))
	err := c.Register(ctx, "bob", "bob@example.com", "pw")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	assert.True(t, strings.Contains(errs.Detail(err), "already exists"))

	assert.ErrorIs(t, c.Register(ctx, "", "", ""), errs.ErrValidation)

	_, err = c.Login(ctx, "bob", "pw")
	require.NoError(t, err)
}

func TestAlertsCRUD(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	be.AddProduct(apitest.Product(42, "Blender", "200", 5))
	uid := login(t, be, c)
	ctx := context.Background()

	created, err := c.CreateAlert(ctx, 42, decimal.RequireFromString("180"))
	require.NoError(t, err)
	assert.EqualValues(t, 42, created.ProductID)
	assert.Equal(t, model.AlertActive, created.Status)
	assert.JSONEq(t, `{"product_id":42,"threshold_price":180}`, be.Calls()[len(be.Calls())-1].Body)

	_, err = c.CreateAlert(ctx, 42, decimal.RequireFromString("170"))
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	list, err := c.ListAlerts(ctx, uid)
	require.NoError(t, err)
	require.Len(t, list, 1)

	updated, err := c.UpdateAlert(ctx, created.AlertID, decimal.RequireFromString("150.5"))
	require.NoError(t, err)
	assert.True(t, updated.ThresholdPrice.Equal(decimal.RequireFromString("150.5")))

	require.NoError(t, c.DeleteAlert(ctx, created.AlertID))
	err = c.DeleteAlert(ctx, created.AlertID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	list, err = c.ListAlerts(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateAlert_422CarriesDetail(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	be.AddProduct(apitest.Product(42, "Blender", "200", 5))
	login(t, be, c)

	_, err := c.CreateAlert(context.Background(), 42, decimal.Zero)
	require.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Equal(t, "Input should be greater than 0", errs.Detail(err))
}

func TestTriggeredAlerts(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	uid := login(t, be, c)
	be.AddAlert(uid, 1, decimal.NewFromInt(10), model.AlertActive)
	be.AddAlert(uid, 2, decimal.NewFromInt(10), model.AlertTriggered)

	got, err := c.TriggeredAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 2, got[0].ProductID)
}

func TestAny401LogsOut(t *testing.T) {
	t.Parallel()
	be, c := setup(t)
	login(t, be, c)
	require.True(t, c.Session().IsLoggedIn())

	be.Fail(http.MethodGet, "/search/recommendations", http.StatusUnauthorized, "Could not validate credentials")
	_, err := c.Recommendations(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.False(t, c.Session().IsLoggedIn())

	// a second 401 leaves the same end state
	_, err = c.Recommendations(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.False(t, c.Session().IsLoggedIn())
	assert.Equal(t, 1, be.Count(http.MethodGet, "/search/recommendations"), "no token means no request")
}

func TestConnect_PersistsTokenInStore(t *testing.T) {
	t.Parallel()
	be := apitest.New(t)
	be.AddUser("alice", "secret")
	store := auth.NewFileStore(t.TempDir())

	c, err := Connect(be.URL(), Options{Store: store})
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	again, err := Connect(be.URL(), Options{Store: store})
	require.NoError(t, err)
	assert.True(t, again.Session().IsLoggedIn(), "token restored on next start")

	_, err = Connect("not a url", Options{})
	assert.Error(t, err)
}

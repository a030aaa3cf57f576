// Package api is the typed client for the Buy Via backend. Catalog reads go
// through a fetchqueue so at most one of them is in flight; account and
// alert calls go straight to the transport.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/and161185/buyvia/internal/auth"
	"github.com/and161185/buyvia/internal/errs"
	"github.com/and161185/buyvia/internal/fetchqueue"
	"github.com/and161185/buyvia/internal/model"
	"github.com/and161185/buyvia/internal/transport"
)

// Client bundles transport, queue and auth session.
type Client struct {
	t    *transport.Client
	q    *fetchqueue.Queue
	sess *auth.Session
}

// New constructs a Client.
func New(t *transport.Client, q *fetchqueue.Queue, sess *auth.Session) *Client {
	return &Client{t: t, q: q, sess: sess}
}

// Session returns the auth session the client reads tokens from.
func (c *Client) Session() *auth.Session { return c.sess }

// ---- catalog (queued) ----

func (c *Client) queued(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.q.Fetch(ctx, c.t.URL(path, q))
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Search runs a product search. No matches is an empty page, not an error.
func (c *Client) Search(ctx context.Context, q model.SearchQuery) (model.SearchPage, error) {
	if q.Query == "" {
		return model.SearchPage{}, errs.Invalid("query", "search query is empty")
	}
	var page model.SearchPage
	err := c.queued(ctx, "/search", q.Values(), &page)
	if errors.Is(err, errs.ErrNotFound) {
		return model.SearchPage{Products: []model.Product{}}, nil
	}
	if err != nil {
		return model.SearchPage{}, fmt.Errorf("search: %w", err)
	}
	return page, nil
}

// Product loads a single product.
func (c *Client) Product(ctx context.Context, id int64) (model.Product, error) {
	var p model.Product
	if err := c.queued(ctx, "/search/"+strconv.FormatInt(id, 10), nil, &p); err != nil {
		return model.Product{}, fmt.Errorf("product %d: %w", id, err)
	}
	return p, nil
}

// CategoryProducts lists a category page. q.CategoryID is required.
func (c *Client) CategoryProducts(ctx context.Context, q model.SearchQuery) (model.CategoryPage, error) {
	if q.CategoryID == 0 {
		return model.CategoryPage{}, errs.Invalid("category_id", "category is required")
	}
	if q.SortBy == "" {
		q.SortBy = model.SortRelevance
	}
	if q.PageSize < 1 {
		q.PageSize = model.DefaultCategoryPageSize
	}
	var page model.CategoryPage
	err := c.queued(ctx, "/search/category-products", q.Values(), &page)
	if errors.Is(err, errs.ErrNotFound) {
		return model.CategoryPage{Products: []model.Product{}}, nil
	}
	if err != nil {
		return model.CategoryPage{}, fmt.Errorf("category %d: %w", q.CategoryID, err)
	}
	return page, nil
}

// RelatedProducts lists up to limit products of a category, leaving out exclude (0 keeps all).
func (c *Client) RelatedProducts(ctx context.Context, categoryID int64, limit int, exclude int64) ([]model.Product, error) {
	q := url.Values{"category_id": {strconv.FormatInt(categoryID, 10)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var ps []model.Product
	err := c.queued(ctx, "/search/related-products", q, &ps)
	if errors.Is(err, errs.ErrNotFound) {
		return []model.Product{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("related %d: %w", categoryID, err)
	}
	out := ps[:0]
	for _, p := range ps {
		if exclude == 0 || p.ProductID != exclude {
			out = append(out, p)
		}
	}
	return out, nil
}

// Recommendations returns products recommended for the logged-in user.
func (c *Client) Recommendations(ctx context.Context) ([]model.Product, error) {
	var ps []model.Product
	if err := c.t.GetJSON(ctx, "/search/recommendations", nil, true, &ps); err != nil {
		return nil, fmt.Errorf("recommendations: %w", err)
	}
	return ps, nil
}

// ---- account ----

// Login exchanges credentials for a token and installs it in the session.
func (c *Client) Login(ctx context.Context, username, password string) (model.Tokens, error) {
	if username == "" || password == "" {
		return model.Tokens{}, errs.Invalid("username", "username and password are required")
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	form := url.Values{"username": {username}, "password": {password}}
	if err := c.t.PostForm(ctx, "/auth/token", form, &out); err != nil {
		return model.Tokens{}, fmt.Errorf("login: %w", err)
	}
	if err := c.sess.SetToken(out.AccessToken); err != nil {
		return model.Tokens{}, fmt.Errorf("login: %w", err)
	}
	return model.Tokens{AccessToken: out.AccessToken, ExpiresAt: c.sess.Expiry()}, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	if username == "" || email == "" || password == "" {
		return errs.Invalid("username", "username, email and password are required")
	}
	in := map[string]string{"username": username, "email": email, "password": password}
	if err := c.t.PostJSON(ctx, "/auth/register", in, false, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Logout drops the local session. The backend keeps no session state.
func (c *Client) Logout() { c.sess.Logout() }

// Me returns the caller's identity.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var out struct {
		User model.User `json:"user"`
	}
	if err := c.t.GetJSON(ctx, "/auth/me", nil, true, &out); err != nil {
		return model.User{}, fmt.Errorf("me: %w", err)
	}
	return out.User, nil
}

// ---- alerts ----

// number renders d as a JSON number rather than decimal's default quoted string.
func number(d decimal.Decimal) json.Number { return json.Number(d.String()) }

// ListAlerts returns every alert of userID.
func (c *Client) ListAlerts(ctx context.Context, userID int64) ([]model.Alert, error) {
	q := url.Values{"user_id": {strconv.FormatInt(userID, 10)}}
	var out []model.Alert
	if err := c.t.GetJSON(ctx, "/alerts/", q, true, &out); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// TriggeredAlerts returns the caller's alerts whose threshold was reached.
func (c *Client) TriggeredAlerts(ctx context.Context) ([]model.Alert, error) {
	var out []model.Alert
	if err := c.t.GetJSON(ctx, "/alerts/triggered", nil, true, &out); err != nil {
		return nil, fmt.Errorf("triggered alerts: %w", err)
	}
	return out, nil
}

// CreateAlert creates an alert for productID.
func (c *Client) CreateAlert(ctx context.Context, productID int64, threshold decimal.Decimal) (model.Alert, error) {
	in := map[string]any{"product_id": productID, "threshold_price": number(threshold)}
	var out model.Alert
	if err := c.t.PostJSON(ctx, "/alerts/", in, true, &out); err != nil {
		return model.Alert{}, fmt.Errorf("create alert: %w", err)
	}
	return out, nil
}

// UpdateAlert changes the threshold of alertID.
func (c *Client) UpdateAlert(ctx context.Context, alertID int64, threshold decimal.Decimal) (model.Alert, error) {
	in := map[string]any{"threshold_price": number(threshold)}
	var out model.Alert
	if err := c.t.PutJSON(ctx, "/alerts/"+strconv.FormatInt(alertID, 10), in, true, &out); err != nil {
		return model.Alert{}, fmt.Errorf("update alert %d: %w", alertID, err)
	}
	return out, nil
}

// DeleteAlert removes alertID.
func (c *Client) DeleteAlert(ctx context.Context, alertID int64) error {
	if err := c.t.Delete(ctx, "/alerts/"+strconv.FormatInt(alertID, 10)); err != nil {
		return fmt.Errorf("delete alert %d: %w", alertID, err)
	}
	return nil
}

// Package apitest runs an in-process fake of the Buy Via REST backend for
// tests. It mirrors the endpoints, status codes and error payloads of the
// real service closely enough to drive the client end to end.
package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/and161185/buyvia/internal/auth"
	"github.com/and161185/buyvia/internal/model"
)

// Call is one request received by the backend.
type Call struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type user struct {
	id       int64
	username string
	email    string
	password string
}

type alertRow struct {
	model.Alert
	userID int64
}

type failure struct {
	status int
	detail string
}

// Backend is the fake server. Safe for concurrent use.
type Backend struct {
	srv *httptest.Server
	key []byte

	mu          sync.Mutex
	ttl         time.Duration
	searchDelay time.Duration
	products    map[int64]model.Product
	users       map[string]*user
	alerts      map[int64]*alertRow
	nextUser    int64
	nextAlert   int64
	calls       []Call
	failures    map[string][]failure

	searchInflight int32
	searchPeak     int32
}

type ctxKey struct{}

// New starts a backend that is closed when t finishes.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		key:       []byte("apitest-signing-key"),
		ttl:       30 * time.Minute,
		products:  map[int64]model.Product{},
		users:     map[string]*user{},
		alerts:    map[int64]*alertRow{},
		nextUser:  1,
		nextAlert: 1,
		failures:  map[string][]failure{},
	}
	b.srv = httptest.NewServer(b.routes())
	t.Cleanup(b.srv.Close)
	return b
}

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (b *Backend) SetTokenTTL(d time.Duration) {
	b.mu.Lock()
	b.ttl = d
	b.mu.Unlock()
}

// SetSearchDelay slows down every /search* reply by d.
func (b *Backend) SetSearchDelay(d time.Duration) {
	b.mu.Lock()
	b.searchDelay = d
	b.mu.Unlock()
}

// URL is the base URL of the backend.
func (b *Backend) URL() string { return b.srv.URL }

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.record, b.inject)

	r.Route("/search", func(r chi.Router) {
		r.Use(b.trackSearch)
		r.Get("/", b.search)
		r.Get("/category-products", b.categoryProducts)
		r.Get("/related-products", b.relatedProducts)
		r.With(b.requireAuth).Get("/recommendations", b.recommendations)
		r.Get("/{productID}", b.product)
	})
	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", b.token)
		r.Post("/register", b.register)
		r.With(b.requireAuth).Get("/me", b.me)
	})
	r.Route("/alerts", func(r chi.Router) {
		r.Use(b.requireAuth)
		r.Get("/", b.listAlerts)
		r.Get("/triggered", b.triggeredAlerts)
		r.Post("/", b.createAlert)
		r.Put("/{alertID}", b.updateAlert)
		r.Delete("/{alertID}", b.deleteAlert)
	})
	return r
}

// ---- fixtures ----

// AddProduct stores p, replacing any product with the same id.
func (b *Backend) AddProduct(p model.Product) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.products[p.ProductID] = p
}

// AddUser creates an account and returns its id.
func (b *Backend) AddUser(username, password string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUserLocked(username, username+"@example.com", password)
}

func (b *Backend) addUserLocked(username, email, password string) int64 {
	id := b.nextUser
	b.nextUser++
	b.users[username] = &user{id: id, username: username, email: email, password: password}
	return id
}

// AddAlert stores an alert owned by userID and returns its id.
func (b *Backend) AddAlert(userID, productID int64, threshold decimal.Decimal, status string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextAlert
	b.nextAlert++
	b.alerts[id] = &alertRow{
		Alert:  model.Alert{AlertID: id, ProductID: productID, ThresholdPrice: threshold, Status: status},
		userID: userID,
	}
	return id
}

// Alerts returns the alerts owned by userID.
func (b *Backend) Alerts(userID int64) []model.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alertsOfLocked(userID, "")
}

// Token issues a valid access token for userID.
func (b *Backend) Token(userID int64) string {
	b.mu.Lock()
	var name string
	for _, u := range b.users {
		if u.id == userID {
			name = u.username
		}
	}
	ttl := b.ttl
	b.mu.Unlock()
	return b.sign(name, userID, ttl)
}

func (b *Backend) sign(sub string, id int64, ttl time.Duration) string {
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		UserID: id,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.key)
	if err != nil {
		panic(err)
	}
	return s
}

// Fail makes the next request to method+path reply with status and detail.
// Repeated calls queue several failures.
func (b *Backend) Fail(method, path string, status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := method + " " + path
	b.failures[k] = append(b.failures[k], failure{status: status, detail: detail})
}

// Calls returns every request received so far.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Count returns how many requests matched method and path.
func (b *Backend) Count(method, path string) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// SearchPeak is the highest number of concurrent /search* requests observed.
func (b *Backend) SearchPeak() int { return int(atomic.LoadInt32(&b.searchPeak)) }

// ---- middleware ----

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(r)
		b.mu.Lock()
		b.calls = append(b.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Method + " " + r.URL.Path
		b.mu.Lock()
		q := b.failures[k]
		var f *failure
		if len(q) > 0 {
			f = &q[0]
			b.failures[k] = q[1:]
		}
		b.mu.Unlock()
		if f != nil {
			writeDetail(w, f.status, f.detail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) trackSearch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&b.searchInflight, 1)
		defer atomic.AddInt32(&b.searchInflight, -1)
		for {
			p := atomic.LoadInt32(&b.searchPeak)
			if n <= p || atomic.CompareAndSwapInt32(&b.searchPeak, p, n) {
				break
			}
		}
		b.mu.Lock()
		d := b.searchDelay
		b.mu.Unlock()
		if d > 0 {
			time.Sleep(d)
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		var c auth.Claims
		_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return b.key, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, c.UserID)))
	})
}

func userIDFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

// ---- search ----

func (b *Backend) sortedProducts(keep func(model.Product) bool) []model.Product {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Product, 0, len(b.products))
	for _, p := range b.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func page(items []model.Product, r *http.Request, defSize int) []model.Product {
	pg, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pg < 1 {
		pg = 1
	}
	if size < 1 {
		size = defSize
	}
	start := (pg - 1) * size
	if start >= len(items) {
		return []model.Product{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (b *Backend) search(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("query"))
	if q == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "query: String should have at least 1 character")
		return
	}
	all := b.sortedProducts(func(p model.Product) bool {
		return strings.Contains(strings.ToLower(p.Title), q) || strings.Contains(strings.ToLower(p.Info), q)
	})
	if len(all) == 0 {
		writeDetail(w, http.StatusNotFound, "No products found matching the query")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": wireProducts(page(all, r, 10)), "total_count": len(all)})
}

func (b *Backend) categoryProducts(w http.ResponseWriter, r *http.Request) {
	cat, _ := strconv.ParseInt(r.URL.Query().Get("category_id"), 10, 64)
	all := b.sortedProducts(func(p model.Product) bool { return p.CategoryID == cat })
	switch r.URL.Query().Get("sort_by") {
	case model.SortPriceLow:
		sort.SliceStable(all, func(i, j int) bool { return all[i].Price.Decimal.LessThan(all[j].Price.Decimal) })
	case model.SortPriceHigh:
		sort.SliceStable(all, func(i, j int) bool { return all[i].Price.Decimal.GreaterThan(all[j].Price.Decimal) })
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": wireProducts(page(all, r, 20)), "total": len(all)})
}

func (b *Backend) relatedProducts(w http.ResponseWriter, r *http.Request) {
	cat, _ := strconv.ParseInt(r.URL.Query().Get("category_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	all := b.sortedProducts(func(p model.Product) bool { return p.CategoryID == cat })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	writeJSON(w, http.StatusOK, wireProducts(all))
}

func (b *Backend) recommendations(w http.ResponseWriter, r *http.Request) {
	all := b.sortedProducts(func(p model.Product) bool { return p.Available() })
	if len(all) > 10 {
		all = all[:10]
	}
	writeJSON(w, http.StatusOK, wireProducts(all))
}

func (b *Backend) product(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "product_id: Input should be a valid integer")
		return
	}
	b.mu.Lock()
	p, ok := b.products[id]
	b.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, wireProductOf(p))
}

// ---- auth ----

func (b *Backend) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}
	b.mu.Lock()
	u, ok := b.users[r.PostForm.Get("username")]
	ttl := b.ttl
	b.mu.Unlock()
	if !ok || u.password != r.PostForm.Get("password") {
		writeDetail(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": b.sign(u.username, u.id, ttl), "token_type": "bearer"})
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Username == "" || in.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username, email and password are required")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.username == in.Username || u.email == in.Email {
			writeDetail(w, http.StatusBadRequest, "Username or Email already exists")
			return
		}
	}
	id := b.addUserLocked(in.Username, in.Email, in.Password)
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User created successfully", "user_id": id})
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request) {
	id := userIDFrom(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.id == id {
			writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": u.id, "username": u.username, "email": u.email}})
			return
		}
	}
	writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
}

// ---- alerts ----

type wireAlert struct {
	AlertID        int64   `json:"alert_id"`
	ProductID      int64   `json:"product_id"`
	ThresholdPrice float64 `json:"threshold_price"`
	AlertStatus    string  `json:"alert_status"`
}

func wireAlertOf(a model.Alert) wireAlert {
	return wireAlert{AlertID: a.AlertID, ProductID: a.ProductID, ThresholdPrice: a.ThresholdPrice.InexactFloat64(), AlertStatus: a.Status}
}

func (b *Backend) alertsOfLocked(userID int64, status string) []model.Alert {
	out := []model.Alert{}
	for _, a := range b.alerts {
		if a.userID == userID && (status == "" || a.Status == status) {
			out = append(out, a.Alert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AlertID < out[j].AlertID })
	return out
}

func writeAlerts(w http.ResponseWriter, alerts []model.Alert) {
	out := make([]wireAlert, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, wireAlertOf(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) listAlerts(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeValidation(w, "user_id", "Field required")
		return
	}
	b.mu.Lock()
	alerts := b.alertsOfLocked(uid, "")
	b.mu.Unlock()
	writeAlerts(w, alerts)
}

func (b *Backend) triggeredAlerts(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	alerts := b.alertsOfLocked(userIDFrom(r), model.AlertTriggered)
	b.mu.Unlock()
	writeAlerts(w, alerts)
}

func decodeThreshold(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeValidation(w, "body", "JSON decode error")
		return false
	}
	return true
}

func (b *Backend) createAlert(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProductID      int64           `json:"product_id"`
		ThresholdPrice decimal.Decimal `json:"threshold_price"`
	}
	if !decodeThreshold(w, r, &in) {
		return
	}
	if !in.ThresholdPrice.IsPositive() {
		writeValidation(w, "threshold_price", "Input should be greater than 0")
		return
	}
	uid := userIDFrom(r)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.products[in.ProductID]; !ok {
		writeDetail(w, http.StatusNotFound, "Product not found")
		return
	}
	for _, a := range b.alerts {
		if a.userID == uid && a.ProductID == in.ProductID {
			writeDetail(w, http.StatusBadRequest, "Alert for this product already exists")
			return
		}
	}
	id := b.nextAlert
	b.nextAlert++
	row := &alertRow{
		Alert:  model.Alert{AlertID: id, ProductID: in.ProductID, ThresholdPrice: in.ThresholdPrice, Status: model.AlertActive},
		userID: uid,
	}
	b.alerts[id] = row
	writeJSON(w, http.StatusCreated, wireAlertOf(row.Alert))
}

func (b *Backend) ownedAlertLocked(w http.ResponseWriter, r *http.Request) *alertRow {
	id, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil {
		writeValidation(w, "alert_id", "Input should be a valid integer")
		return nil
	}
	a, ok := b.alerts[id]
	if !ok || a.userID != userIDFrom(r) {
		writeDetail(w, http.StatusNotFound, "Alert not found")
		return nil
	}
	return a
}

func (b *Backend) updateAlert(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ThresholdPrice decimal.Decimal `json:"threshold_price"`
	}
	if !decodeThreshold(w, r, &in) {
		return
	}
	if !in.ThresholdPrice.IsPositive() {
		writeValidation(w, "threshold_price", "Input should be greater than 0")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.ownedAlertLocked(w, r)
	if a == nil {
		return
	}
	a.ThresholdPrice = in.ThresholdPrice
	writeJSON(w, http.StatusOK, wireAlertOf(a.Alert))
}

func (b *Backend) deleteAlert(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.ownedAlertLocked(w, r)
	if a == nil {
		return
	}
	delete(b.alerts, a.AlertID)
	w.WriteHeader(http.StatusNoContent)
}

// Product builds an in-stock product fixture with the given price.
func Product(id int64, title, price string, categoryID int64) model.Product {
	in := true
	return model.Product{
		ProductID:    id,
		Title:        title,
		ImageURL:     "https://img.example/" + strconv.FormatInt(id, 10) + ".jpg",
		Price:        decimal.NewNullDecimal(decimal.RequireFromString(price)),
		Availability: &in,
		StoreID:      1,
		CategoryID:   categoryID,
		Link:         "https://store.example/p/" + strconv.FormatInt(id, 10),
	}
}

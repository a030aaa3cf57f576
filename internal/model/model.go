// Package model defines wire and domain entities shared by the client packages.
package model

import (
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Tokens collects the issued access token and its decoded expiry.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // decoded from the JWT exp claim
}

// Product is a single store listing as returned by the search endpoints.
type Product struct {
	ProductID    int64               `json:"product_id"`
	Title        string              `json:"title"`
	ArabicTitle  string              `json:"arabic_title,omitempty"`
	ImageURL     string              `json:"image_url"`
	Price        decimal.NullDecimal `json:"price"`
	LastOldPrice decimal.NullDecimal `json:"last_old_price"`
	Availability *bool               `json:"availability,omitempty"`
	StoreID      int64               `json:"store_id"`
	CategoryID   int64               `json:"category_id,omitempty"`
	Info         string              `json:"info,omitempty"`
	Link         string              `json:"link"`
	LastUpdated  string              `json:"last_updated,omitempty"` // backend emits naive ISO timestamps
}

// Available reports whether the product is in stock and has a known price.
func (p Product) Available() bool {
	return p.Availability != nil && *p.Availability && p.Price.Valid
}

// SearchPage is the /search response.
type SearchPage struct {
	Products   []Product `json:"products"`
	TotalCount int       `json:"total_count"`
}

// CategoryPage is the /search/category-products response.
type CategoryPage struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
}

// Alert statuses stored by the backend.
const (
	AlertActive    = "active"
	AlertTriggered = "triggered"
	AlertExpired   = "expired"
)

// Alert is a user-configured price threshold for one product.
type Alert struct {
	AlertID        int64           `json:"alert_id"`
	ProductID      int64           `json:"product_id"`
	ThresholdPrice decimal.Decimal `json:"threshold_price"`
	Status         string          `json:"alert_status,omitempty"`
}

// AlertView is an alert enriched with the product it watches (nil when the lookup failed).
type AlertView struct {
	Alert
	Product     *Product `json:"product,omitempty"`
	ProductName string   `json:"product_name,omitempty"`
}

// User is the authenticated caller as reported by /auth/me.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// SortBy values accepted by the category listing.
const (
	SortRelevance = "relevance"
	SortPriceLow  = "price-low"
	SortPriceHigh = "price-high"
	SortNewest    = "newest"
)

// Page defaults. Search results show 50 per page, the category view 20.
const (
	DefaultPage             = 1
	DefaultPageSize         = 50
	DefaultCategoryPageSize = 20
)

// SearchQuery holds the filters shared by /search and /search/category-products.
// Zero values are omitted from the query string except page and page_size.
type SearchQuery struct {
	Query       string
	Page        int
	PageSize    int
	SortBy      string
	MinPrice    decimal.NullDecimal
	MaxPrice    decimal.NullDecimal
	StoreFilter string
	CategoryID  int64
	InStockOnly bool
}

// Values encodes the query in backend parameter names.
func (q SearchQuery) Values() url.Values {
	v := url.Values{}
	if q.Query != "" {
		v.Set("query", q.Query)
	}
	page, size := q.Page, q.PageSize
	if page < 1 {
		page = DefaultPage
	}
	if size < 1 {
		size = DefaultPageSize
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("page_size", strconv.Itoa(size))
	if q.SortBy != "" {
		v.Set("sort_by", q.SortBy)
	}
	if q.MinPrice.Valid {
		v.Set("min_price", q.MinPrice.Decimal.String())
	}
	if q.MaxPrice.Valid {
		v.Set("max_price", q.MaxPrice.Decimal.String())
	}
	if q.StoreFilter != "" {
		v.Set("store_filter", q.StoreFilter)
	}
	if q.CategoryID != 0 {
		v.Set("category_id", strconv.FormatInt(q.CategoryID, 10))
	}
	if q.InStockOnly {
		v.Set("in_stock_only", "true")
	}
	return v
}

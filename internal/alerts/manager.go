// Package alerts implements the alert management view and the triggered-alert feed.
package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/and161185/buyvia/internal/model"
	"github.com/and161185/buyvia/internal/pricing"
)

// UnknownProduct names a triggered alert whose product could not be loaded.
const UnknownProduct = "Unknown Product"

const nameWords = 4

// Backend is the subset of the API client used by Manager.
type Backend interface {
	Me(ctx context.Context) (model.User, error)
	ListAlerts(ctx context.Context, userID int64) ([]model.Alert, error)
	TriggeredAlerts(ctx context.Context) ([]model.Alert, error)
	UpdateAlert(ctx context.Context, alertID int64, threshold decimal.Decimal) (model.Alert, error)
	DeleteAlert(ctx context.Context, alertID int64) error
	Product(ctx context.Context, id int64) (model.Product, error)
}

// Signal is bumped after every mutation.
type Signal interface {
	Increment() int64
}

// Manager lists and edits the caller's alerts.
type Manager struct {
	api    Backend
	signal Signal
	log    *zap.Logger
}

// NewManager returns a Manager. A nil logger disables logging.
func NewManager(api Backend, signal Signal, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{api: api, signal: signal, log: log}
}

// List returns the caller's alerts, each with its product attached.
// A product that fails to load leaves Product nil.
func (m *Manager) List(ctx context.Context) ([]model.AlertView, error) {
	me, err := m.api.Me(ctx)
	if err != nil {
		return nil, err
	}
	list, err := m.api.ListAlerts(ctx, me.ID)
	if err != nil {
		return nil, err
	}
	out := make([]model.AlertView, 0, len(list))
	for _, a := range list {
		v := model.AlertView{Alert: a, Product: m.product(ctx, a.ProductID)}
		if v.Product != nil {
			v.ProductName = v.Product.Title
		}
		out = append(out, v)
	}
	return out, nil
}

// Triggered returns the caller's triggered alerts with shortened product names.
func (m *Manager) Triggered(ctx context.Context) ([]model.AlertView, error) {
	list, err := m.api.TriggeredAlerts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.AlertView, 0, len(list))
	for _, a := range list {
		v := model.AlertView{Alert: a, Product: m.product(ctx, a.ProductID)}
		title := UnknownProduct
		if v.Product != nil && v.Product.Title != "" {
			title = v.Product.Title
		}
		v.ProductName = ShortName(title)
		out = append(out, v)
	}
	return out, nil
}

func (m *Manager) product(ctx context.Context, id int64) *model.Product {
	p, err := m.api.Product(ctx, id)
	if err != nil {
		m.log.Warn("load alert product", zap.Int64("product_id", id), zap.Error(err))
		return nil
	}
	return &p
}

// Update changes the threshold of alertID. Non-positive thresholds are rejected locally.
func (m *Manager) Update(ctx context.Context, alertID int64, threshold decimal.Decimal) (model.Alert, error) {
	if err := pricing.ValidateUpdate(threshold); err != nil {
		return model.Alert{}, err
	}
	a, err := m.api.UpdateAlert(ctx, alertID, threshold)
	if err != nil {
		return model.Alert{}, err
	}
	m.signal.Increment()
	return a, nil
}

// Delete removes alertID.
func (m *Manager) Delete(ctx context.Context, alertID int64) error {
	if err := m.api.DeleteAlert(ctx, alertID); err != nil {
		return err
	}
	m.signal.Increment()
	return nil
}

// ShortName keeps the first four words of title and appends "...".
func ShortName(title string) string {
	words := strings.Fields(title)
	if len(words) > nameWords {
		words = words[:nameWords]
	}
	return strings.Join(words, " ") + "..."
}

// GroupByProduct indexes alerts by product id, preserving order within each product.
func GroupByProduct(alerts []model.AlertView) map[int64][]model.AlertView {
	out := make(map[int64][]model.AlertView)
	for _, a := range alerts {
		out[a.ProductID] = append(out[a.ProductID], a)
	}
	return out
}

// Describe renders v as one line for listings.
func Describe(v model.AlertView) string {
	name := v.ProductName
	if name == "" {
		name = fmt.Sprintf("product %d", v.ProductID)
	}
	price := "n/a"
	if v.Product != nil && v.Product.Price.Valid {
		price = v.Product.Price.Decimal.StringFixed(2)
	}
	return fmt.Sprintf("#%d %s: threshold %s, now %s [%s]", v.AlertID, name, v.ThresholdPrice.StringFixed(2), price, v.Status)
}

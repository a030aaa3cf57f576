package apitest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/and161185/buyvia/internal/model"
)

// wireProduct is a Product as the backend serializes it: prices as JSON numbers.
type wireProduct struct {
	ProductID    int64    `json:"product_id"`
	Title        string   `json:"title"`
	ArabicTitle  string   `json:"arabic_title,omitempty"`
	ImageURL     string   `json:"image_url"`
	Price        *float64 `json:"price"`
	LastOldPrice *float64 `json:"last_old_price"`
	Availability *bool    `json:"availability"`
	StoreID      int64    `json:"store_id"`
	CategoryID   int64    `json:"category_id"`
	Info         string   `json:"info,omitempty"`
	Link         string   `json:"link"`
	LastUpdated  string   `json:"last_updated,omitempty"`
}

func wireProductOf(p model.Product) wireProduct {
	w := wireProduct{
		ProductID:    p.ProductID,
		Title:        p.Title,
		ArabicTitle:  p.ArabicTitle,
		ImageURL:     p.ImageURL,
		Availability: p.Availability,
		StoreID:      p.StoreID,
		CategoryID:   p.CategoryID,
		Info:         p.Info,
		Link:         p.Link,
		LastUpdated:  p.LastUpdated,
	}
	if p.Price.Valid {
		f := p.Price.Decimal.InexactFloat64()
		w.Price = &f
	}
	if p.LastOldPrice.Valid {
		f := p.LastOldPrice.Decimal.InexactFloat64()
		w.LastOldPrice = &f
	}
	return w
}

func wireProducts(ps []model.Product) []wireProduct {
	out := make([]wireProduct, 0, len(ps))
	for _, p := range ps {
		out = append(out, wireProductOf(p))
	}
	return out
}

func readBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(b))
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail mirrors the backend's HTTPException payload.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeValidation mirrors the backend's request validation payload.
func writeValidation(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{"loc": []string{"body", field}, "msg": msg, "type": "value_error"}},
	})
}

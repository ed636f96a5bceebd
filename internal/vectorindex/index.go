// Package vectorindex provides approximate nearest-neighbour lookup over the
// precomputed menu item embeddings, with S3 Vectors, OpenSearch and in-memory
// backends behind one interface.
package vectorindex

import (
	"context"
	"errors"
	"strconv"

	"github.com/ca-srg/cravings/internal/menu"
)

// ErrUnavailable is returned when a backend cannot serve a request at all.
var ErrUnavailable = errors.New("vectorindex: index unavailable")

// Hit is one nearest-neighbour candidate. Score is a similarity where larger
// means closer.
type Hit struct {
	ID    string
	Score float64
	Item  menu.MenuItemView
}

// Record is one vector stored during precompute.
type Record struct {
	ID     string
	Vector []float32
	Item   menu.MenuItemView
}

// Index is the ANN index used by the search path and the precompute job.
type Index interface {
	Query(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	Upsert(ctx context.Context, records []Record) error
	// Existing reports which of ids are already stored.
	Existing(ctx context.Context, ids []string) (map[string]bool, error)
	Delete(ctx context.Context, ids []string) error
	ListIDs(ctx context.Context) ([]string, error)
}

// Metadata converts a view into the flat key/value form stored beside vectors.
func Metadata(v menu.MenuItemView) map[string]interface{} {
	tags := make([]interface{}, 0, len(v.Tags))
	for _, t := range v.Tags {
		tags = append(tags, t)
	}
	return map[string]interface{}{
		"id":            v.ID,
		"name":          v.Name,
		"description":   v.Description,
		"image_url":     v.ImageURL,
		"price":         v.Price,
		"is_veg":        v.IsVeg,
		"is_bestseller": v.IsBestseller,
		"is_available":  v.IsAvailable,
		"category_id":   v.CategoryID,
		"tags":          tags,
	}
}

// ViewFromMetadata rebuilds a view from stored metadata. Missing or mistyped
// fields are left at their zero value; the id falls back to key.
func ViewFromMetadata(key string, meta map[string]interface{}) menu.MenuItemView {
	v := menu.MenuItemView{
		Name:         asString(meta["name"]),
		Description:  asString(meta["description"]),
		ImageURL:     asString(meta["image_url"]),
		Price:        asFloat(meta["price"]),
		IsVeg:        asBool(meta["is_veg"]),
		IsBestseller: asBool(meta["is_bestseller"]),
		IsAvailable:  asBool(meta["is_available"]),
		CategoryID:   int(asFloat(meta["category_id"])),
		Tags:         asStrings(meta["tags"]),
	}
	if raw, ok := meta["id"]; ok && raw != nil {
		v.ID = int64(asFloat(raw))
	}
	if v.ID == 0 {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			v.ID = id
		}
	}
	return v
}

type float64er interface {
	Float64() (float64, error)
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case float64er:
		// json.Number and smithy document.Number
		f, _ := n.Float64()
		return f
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	}
	return false
}

func asStrings(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

package scheduler

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/lurk/internal/lurk"
)

// DefaultDedupeSize bounds the notify-once cache.
const DefaultDedupeSize = 1024

// Deduper remembers products already reported by searches in "once" mode.
// A product is forgotten as soon as it is seen out of stock, so a restock
// is reported again. State lives for the process only.
type Deduper struct {
	cache *lru.Cache[string, struct{}]
}

// NewDeduper creates a Deduper holding at most size products.
func NewDeduper(size int) (*Deduper, error) {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Deduper{cache: cache}, nil
}

// Seen reports whether p was already notified.
func (d *Deduper) Seen(p lurk.Product) bool {
	return d.cache.Contains(p.Key())
}

// Forget drops p so its next in-stock sighting is reported.
func (d *Deduper) Forget(p lurk.Product) {
	d.cache.Remove(p.Key())
}

// Remember marks products as notified.
func (d *Deduper) Remember(products []lurk.Product) {
	for _, p := range products {
		d.cache.Add(p.Key(), struct{}{})
	}
}

// Len reports the number of remembered products.
func (d *Deduper) Len() int {
	return d.cache.Len()
}

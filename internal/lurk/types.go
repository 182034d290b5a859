package lurk

import "time"

// NotifyMode controls how often an in-stock product is reported.
type NotifyMode string

// Notify modes accepted in search configuration.
const (
	NotifyAlways NotifyMode = "always"
	NotifyOnce   NotifyMode = "once"
)

// Valid reports whether the mode is empty (unset) or a known value.
func (m NotifyMode) Valid() bool {
	switch m {
	case "", NotifyAlways, NotifyOnce:
		return true
	default:
		return false
	}
}

// ProductFilter narrows a search. Every field is optional; a nil field means
// "no constraint" and is never replaced by a default.
type ProductFilter struct {
	MinPrice   *float64 `mapstructure:"min_price" json:"min_price,omitempty"`
	MaxPrice   *float64 `mapstructure:"max_price" json:"max_price,omitempty"`
	InStock    *bool    `mapstructure:"in_stock" json:"in_stock,omitempty"`
	Stores     []string `mapstructure:"stores" json:"stores,omitempty"`
	ZipCode    *string  `mapstructure:"zip_code" json:"zip_code,omitempty"`
	Region     *string  `mapstructure:"region" json:"region,omitempty"`
	Language   *string  `mapstructure:"language" json:"language,omitempty"`
	Categories []string `mapstructure:"categories" json:"categories,omitempty"`
}

// SearchSpec is one configured search, either global or a per-checker
// partial override of a global search with the same id.
type SearchSpec struct {
	Query   string         `mapstructure:"query" json:"query,omitempty"`
	Filters *ProductFilter `mapstructure:"filters" json:"filters,omitempty"`
	Enabled *bool          `mapstructure:"enabled" json:"enabled,omitempty"`
	Notify  NotifyMode     `mapstructure:"notify" json:"notify,omitempty"`
}

// IsEnabled returns the enabled flag, defaulting to true when unset.
func (s SearchSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// CheckerSpec holds the per-provider toggle and search overrides.
type CheckerSpec struct {
	Enabled *bool                 `mapstructure:"enabled" json:"enabled,omitempty"`
	Search  map[string]SearchSpec `mapstructure:"search" json:"search,omitempty"`
}

// IsEnabled returns the enabled flag, defaulting to true when unset.
func (c CheckerSpec) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MergedSearch is the resolved unit of work for one checker.
type MergedSearch struct {
	Checker  string        `json:"checker"`
	SearchID string        `json:"search_id"`
	Query    string        `json:"query"`
	Filter   ProductFilter `json:"filters"`
	Notify   NotifyMode    `json:"notify"`
}

// Product is the canonical product entity produced by a checker.
type Product struct {
	Provider    string  `json:"provider"`
	SKU         string  `json:"sku"`
	URL         string  `json:"url"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	InStock     bool    `json:"in_stock"`
}

// Key identifies a product across runs.
func (p Product) Key() string {
	return p.Provider + ":" + p.SKU
}

// RunStatus summarizes the outcome of a scheduler run.
type RunStatus string

// Run status values persisted in run history.
const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// RunReport captures counters and errors for one scheduler run.
type RunReport struct {
	ID             string    `json:"id"`
	Status         RunStatus `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Searches       int       `json:"searches"`
	FailedSearches int       `json:"failed_searches"`
	Products       int       `json:"products"`
	InStock        int       `json:"in_stock"`
	Notified       int       `json:"notified"`
	Errors         []string  `json:"errors,omitempty"`
}

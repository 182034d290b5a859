package scheduler

import (
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/lurk"
)

// Plan resolves the global searches and per-checker overrides into the list
// of searches to run. Every registered checker missing from checkers is
// treated as enabled with no overrides. The result is ordered by checker,
// then search id.
func Plan(
	global map[string]lurk.SearchSpec,
	checkers map[string]lurk.CheckerSpec,
	registered []string,
	logger *zap.Logger,
) ([]lurk.MergedSearch, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	specs := make(map[string]lurk.CheckerSpec, len(checkers)+len(registered))
	for name, spec := range checkers {
		specs[name] = spec
	}
	for _, name := range registered {
		if _, ok := specs[name]; !ok {
			specs[name] = lurk.CheckerSpec{}
		}
	}

	var out []lurk.MergedSearch
	for _, name := range sortedKeys(specs) {
		spec := specs[name]
		if !spec.IsEnabled() {
			logger.Info("skipping disabled checker", zap.String("checker", name))
			continue
		}
		if !slices.Contains(registered, name) {
			return nil, lurk.Configf("checker does not exist: %s", name)
		}
		for _, id := range searchIDs(global, spec.Search) {
			base, inGlobal := global[id]
			override, inChecker := spec.Search[id]

			var resolved lurk.SearchSpec
			switch {
			case inGlobal && inChecker:
				resolved = MergeSearch(base, override)
			case inGlobal:
				resolved = MergeSearch(base, lurk.SearchSpec{})
			default:
				resolved = MergeSearch(lurk.SearchSpec{}, override)
			}
			if !resolved.IsEnabled() {
				logger.Info("skipping disabled search", zap.String("checker", name), zap.String("search", id))
				continue
			}
			if resolved.Query == "" {
				if !inGlobal {
					return nil, lurk.Configf("checker %s: search %q has no global counterpart and must set a query", name, id)
				}
				return nil, lurk.Configf("checker %s: search %q has an empty query", name, id)
			}
			if !resolved.Notify.Valid() {
				return nil, lurk.Configf("checker %s: search %q: unknown notify mode %q", name, id, resolved.Notify)
			}
			notify := resolved.Notify
			if notify == "" {
				notify = lurk.NotifyAlways
			}
			out = append(out, lurk.MergedSearch{
				Checker:  name,
				SearchID: id,
				Query:    resolved.Query,
				Filter:   *resolved.Filters,
				Notify:   notify,
			})
		}
	}
	return out, nil
}

// MergeSearch overlays override on base. Scalars set on override win; the
// filters are merged field by field. The result always has non-nil Filters.
func MergeSearch(base, override lurk.SearchSpec) lurk.SearchSpec {
	out := base
	if override.Query != "" {
		out.Query = override.Query
	}
	if override.Notify != "" {
		out.Notify = override.Notify
	}
	if override.Enabled != nil {
		out.Enabled = override.Enabled
	}
	var baseFilter, overrideFilter lurk.ProductFilter
	if base.Filters != nil {
		baseFilter = *base.Filters
	}
	if override.Filters != nil {
		overrideFilter = *override.Filters
	}
	merged := MergeFilter(baseFilter, overrideFilter)
	out.Filters = &merged
	return out
}

// MergeFilter returns base with every field set on override replaced. Unset
// override fields never clear base values. The result shares no memory with
// either input.
func MergeFilter(base, override lurk.ProductFilter) lurk.ProductFilter {
	out := lurk.ProductFilter{
		MinPrice:   pick(base.MinPrice, override.MinPrice),
		MaxPrice:   pick(base.MaxPrice, override.MaxPrice),
		InStock:    pick(base.InStock, override.InStock),
		ZipCode:    pick(base.ZipCode, override.ZipCode),
		Region:     pick(base.Region, override.Region),
		Language:   pick(base.Language, override.Language),
		Stores:     slices.Clone(base.Stores),
		Categories: slices.Clone(base.Categories),
	}
	if override.Stores != nil {
		out.Stores = slices.Clone(override.Stores)
	}
	if override.Categories != nil {
		out.Categories = slices.Clone(override.Categories)
	}
	return out
}

func pick[T any](base, override *T) *T {
	src := base
	if override != nil {
		src = override
	}
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func searchIDs(global, local map[string]lurk.SearchSpec) []string {
	seen := make(map[string]struct{}, len(global)+len(local))
	for id := range global {
		seen[id] = struct{}{}
	}
	for id := range local {
		seen[id] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

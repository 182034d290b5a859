package checkers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/client"
	"github.com/JakeFAU/lurk/internal/lurk"
)

// MemoryExpressName is the registry key for Memory Express.
const MemoryExpressName = "memory-express"

const memoryExpressBaseURL = "https://www.memoryexpress.com"

const (
	meItemSelector      = "div.c-shca-icon-item"
	meNameSelector      = ".c-shca-icon-item__body-name"
	meLinkSelector      = ".c-shca-icon-item__body-image a"
	meSKUSelector       = ".c-shca-icon-item__body-ref span"
	mePriceSelector     = ".c-shca-icon-item__summary-list span"
	meInventorySelector = ".c-shca-icon-item__body-inventory"
)

// MemoryExpress scrapes the Memory Express category listing pages.
type MemoryExpress struct {
	client *client.Client
	logger *zap.Logger
}

// NewMemoryExpress binds c to the Memory Express origin.
func NewMemoryExpress(c *client.Client, logger *zap.Logger) *MemoryExpress {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryExpress{client: c.SetBaseURL(memoryExpressBaseURL), logger: logger}
}

// Name implements lurk.Checker.
func (m *MemoryExpress) Name() string {
	return MemoryExpressName
}

// Products fetches one category page and filters it by price.
func (m *MemoryExpress) Products(ctx context.Context, query string, filter lurk.ProductFilter) ([]lurk.Product, error) {
	if err := validateMemoryExpressFilter(filter); err != nil {
		return nil, err
	}
	params := map[string]string{"Search": query}
	if filter.InStock != nil && *filter.InStock {
		params["InventoryType"] = "InStock"
	}
	if len(filter.Stores) == 1 {
		params["Inventory"] = filter.Stores[0]
	}

	route := "/Category/" + url.PathEscape(filter.Categories[0])
	resp, err := m.client.Get(ctx, route, client.WithParams(params))
	if err != nil {
		return nil, fmt.Errorf("memory express category: %w", err)
	}
	if !resp.OK {
		m.logger.Warn("category returned non-success status", zap.Int("status", resp.StatusCode))
	}
	products, err := m.parse(resp.Text)
	if err != nil {
		return nil, err
	}
	return filterByPrice(products, filter), nil
}

func validateMemoryExpressFilter(filter lurk.ProductFilter) error {
	switch {
	case len(filter.Stores) > 1:
		return lurk.Configf("%s supports only one store, got %d", MemoryExpressName, len(filter.Stores))
	case len(filter.Categories) == 0:
		return lurk.Configf("%s requires a category", MemoryExpressName)
	case len(filter.Categories) > 1:
		return lurk.Configf("%s supports only one category, got %d", MemoryExpressName, len(filter.Categories))
	}
	return nil
}

func (m *MemoryExpress) parse(body string) ([]lurk.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, &lurk.ParseError{Err: fmt.Errorf("parse listing html: %w", err)}
	}
	var products []lurk.Product
	doc.Find(meItemSelector).Each(func(i int, s *goquery.Selection) {
		p, err := m.parseItem(s)
		if err != nil {
			m.logger.Warn("skipping product", zap.Int("index", i), zap.Error(err))
			return
		}
		products = append(products, p)
	})
	return products, nil
}

func (m *MemoryExpress) parseItem(s *goquery.Selection) (lurk.Product, error) {
	name := strings.TrimSpace(s.Find(meNameSelector).First().Text())
	if name == "" {
		return lurk.Product{}, &lurk.ParseError{Err: errors.New("missing name")}
	}
	href, ok := s.Find(meLinkSelector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return lurk.Product{}, &lurk.ParseError{Err: fmt.Errorf("%s: missing link", name)}
	}
	sku := strings.TrimSpace(s.Find(meSKUSelector).First().Text())
	if sku == "" {
		return lurk.Product{}, &lurk.ParseError{Err: fmt.Errorf("%s: missing sku", name)}
	}
	priceText := strings.TrimSpace(s.Find(mePriceSelector).First().Text())
	price, err := parsePrice(priceText)
	if err != nil {
		return lurk.Product{}, &lurk.ParseError{Err: fmt.Errorf("%s: price %q: %w", name, priceText, err)}
	}

	inStock := true
	if inv := s.Find(meInventorySelector); inv.Length() > 0 {
		text := strings.ToLower(strings.TrimSpace(inv.First().Text()))
		inStock = strings.Contains(text, "while supplies last") || strings.Contains(text, "in stock")
	}

	return lurk.Product{
		Provider:    MemoryExpressName,
		SKU:         sku,
		URL:         m.absolute(strings.TrimSpace(href)),
		Name:        name,
		Description: name,
		Price:       price,
		InStock:     inStock,
	}, nil
}

func (m *MemoryExpress) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return m.client.BaseURL() + href
}

func parsePrice(text string) (float64, error) {
	cleaned := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(text))
	if cleaned == "" {
		return 0, errors.New("empty price")
	}
	return strconv.ParseFloat(cleaned, 64)
}

func filterByPrice(products []lurk.Product, filter lurk.ProductFilter) []lurk.Product {
	out := products[:0]
	for _, p := range products {
		if filter.MinPrice != nil && p.Price < *filter.MinPrice {
			continue
		}
		if filter.MaxPrice != nil && p.Price > *filter.MaxPrice {
			continue
		}
		out = append(out, p)
	}
	return out
}

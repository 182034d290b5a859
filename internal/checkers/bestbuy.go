package checkers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/client"
	"github.com/JakeFAU/lurk/internal/lurk"
)

// BestBuyName is the registry key for Best Buy Canada.
const BestBuyName = "best-buy"

const (
	bestBuyBaseURL     = "https://www.bestbuy.ca"
	bestBuySearchRoute = "/api/v2/json/search"
	bestBuyStockRoute  = "/ecomm-api/availability/products"
	bestBuyLanguage    = "en-CA"
	bestBuyStockAccept = "application/vnd.bestbuy.simpleproduct.v1+json"
)

// BestBuy checks the Best Buy Canada JSON search and availability APIs.
type BestBuy struct {
	client *client.Client
	logger *zap.Logger
}

type bestBuyItem struct {
	SKU              string   `mapstructure:"sku"`
	ProductURL       string   `mapstructure:"productUrl"`
	Name             string   `mapstructure:"name"`
	ShortDescription string   `mapstructure:"shortDescription"`
	SalePrice        *float64 `mapstructure:"salePrice"`
}

type bestBuyAvailability struct {
	SKU    string `mapstructure:"sku"`
	Pickup struct {
		Purchasable bool `mapstructure:"purchasable"`
	} `mapstructure:"pickup"`
	Shipping struct {
		Purchasable bool `mapstructure:"purchasable"`
	} `mapstructure:"shipping"`
}

// NewBestBuy binds c to the Best Buy origin.
func NewBestBuy(c *client.Client, logger *zap.Logger) *BestBuy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BestBuy{client: c.SetBaseURL(bestBuyBaseURL), logger: logger}
}

// Name implements lurk.Checker.
func (b *BestBuy) Name() string {
	return BestBuyName
}

// Products searches, then resolves stock for every parsed SKU in one call.
func (b *BestBuy) Products(ctx context.Context, query string, filter lurk.ProductFilter) ([]lurk.Product, error) {
	items, err := b.search(ctx, query, filter)
	if err != nil {
		return nil, err
	}

	products := make([]lurk.Product, 0, len(items))
	for i, raw := range items {
		p, err := b.parseProduct(raw)
		if err != nil {
			b.logger.Warn("skipping product", zap.Int("index", i), zap.Error(err))
			continue
		}
		products = append(products, p)
	}

	skus := make([]string, 0, len(products))
	for _, p := range products {
		skus = append(skus, p.SKU)
	}
	stock, err := b.availability(ctx, skus, filter)
	if err != nil {
		return nil, err
	}
	for i := range products {
		a, ok := stock[products[i].SKU]
		if !ok {
			b.logger.Warn("availability not found for product", zap.String("sku", products[i].SKU))
			continue
		}
		products[i].InStock = a.Pickup.Purchasable || a.Shipping.Purchasable
	}
	return products, nil
}

func (b *BestBuy) search(ctx context.Context, query string, filter lurk.ProductFilter) ([]any, error) {
	params := map[string]string{
		"lang":    bestBuyLanguage,
		"sortBy":  "relevance",
		"sortDir": "desc",
		"include": "facets, redirects",
		"query":   query,
	}
	if filter.Language != nil && *filter.Language != "" {
		params["lang"] = *filter.Language
	}
	if filter.Region != nil && *filter.Region != "" {
		params["currentRegion"] = *filter.Region
	}
	if path := bestBuyPath(filter); path != "" {
		params["path"] = path
	}

	resp, err := b.client.Get(ctx, bestBuySearchRoute, client.WithParams(params), client.ExpectJSON())
	if err != nil {
		return nil, fmt.Errorf("best buy search: %w", err)
	}
	if !resp.OK {
		b.logger.Warn("search returned non-success status", zap.Int("status", resp.StatusCode))
	}
	items, _ := resp.JSON["products"].([]any)
	return items, nil
}

// bestBuyPath renders categories and the price range as one path expression,
// e.g. "category:PC Components;currentPrice:[500 TO *]".
func bestBuyPath(filter lurk.ProductFilter) string {
	segments := make([]string, 0, len(filter.Categories)+1)
	for _, c := range filter.Categories {
		if c == "" {
			continue
		}
		segments = append(segments, "category:"+c)
	}
	if filter.MinPrice != nil || filter.MaxPrice != nil {
		segments = append(segments, fmt.Sprintf("currentPrice:[%s TO %s]", priceBound(filter.MinPrice), priceBound(filter.MaxPrice)))
	}
	return strings.Join(segments, ";")
}

func priceBound(v *float64) string {
	if v == nil {
		return "*"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (b *BestBuy) parseProduct(raw any) (lurk.Product, error) {
	var item bestBuyItem
	if err := decodeLoose(raw, &item); err != nil {
		return lurk.Product{}, &lurk.ParseError{Err: err}
	}
	switch {
	case item.SKU == "":
		return lurk.Product{}, &lurk.ParseError{Err: errors.New("missing sku")}
	case item.ProductURL == "":
		return lurk.Product{}, &lurk.ParseError{Err: fmt.Errorf("sku %s: missing productUrl", item.SKU)}
	case item.Name == "":
		return lurk.Product{}, &lurk.ParseError{Err: fmt.Errorf("sku %s: missing name", item.SKU)}
	case item.SalePrice == nil:
		return lurk.Product{}, &lurk.ParseError{Err: fmt.Errorf("sku %s: missing salePrice", item.SKU)}
	}
	return lurk.Product{
		Provider:    BestBuyName,
		SKU:         item.SKU,
		URL:         b.client.BaseURL() + item.ProductURL,
		Name:        item.Name,
		Description: item.ShortDescription,
		Price:       *item.SalePrice,
	}, nil
}

func (b *BestBuy) availability(ctx context.Context, skus []string, filter lurk.ProductFilter) (map[string]bestBuyAvailability, error) {
	if len(skus) == 0 {
		return map[string]bestBuyAvailability{}, nil
	}
	language := bestBuyLanguage
	if filter.Language != nil && *filter.Language != "" {
		language = *filter.Language
	}
	params := map[string]string{
		"accept":          bestBuyStockAccept,
		"accept-language": language,
		"skus":            strings.Join(skus, "|"),
	}
	if len(filter.Stores) > 0 {
		params["locations"] = strings.Join(filter.Stores, "|")
	}
	if filter.ZipCode != nil && *filter.ZipCode != "" {
		params["postalCode"] = *filter.ZipCode
	}

	resp, err := b.client.Get(ctx, bestBuyStockRoute, client.WithParams(params), client.ExpectJSON())
	if err != nil {
		return nil, fmt.Errorf("best buy availability: %w", err)
	}
	records, _ := resp.JSON["availabilities"].([]any)
	out := make(map[string]bestBuyAvailability, len(records))
	for i, raw := range records {
		var a bestBuyAvailability
		if err := decodeLoose(raw, &a); err != nil {
			b.logger.Warn("skipping availability record", zap.Int("index", i), zap.Error(&lurk.ParseError{Err: err}))
			continue
		}
		if a.SKU == "" {
			continue
		}
		out[a.SKU] = a
	}
	return out, nil
}

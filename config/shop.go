package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"topup-go/models"
)

// Catalog is the validated shop read from shop.yaml.
type Catalog struct {
	Currency string
	items    []models.ShopItem
	byKey    map[string]int
}

type shopDocument struct {
	Currency string            `yaml:"currency"`
	Items    []models.ShopItem `yaml:"items"`
}

// LoadCatalog reads and validates a shop file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shop file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates shop YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc shopDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse shop file: %w", err)
	}
	return NewCatalog(doc.Currency, doc.Items)
}

// NewCatalog validates items and fills item defaults.
func NewCatalog(currency string, items []models.ShopItem) (*Catalog, error) {
	if currency == "" {
		currency = "THB"
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("shop has no items")
	}
	// A Discord select menu holds at most 25 options.
	if len(items) > 25 {
		return nil, fmt.Errorf("shop has %d items, at most 25 are supported", len(items))
	}

	c := &Catalog{Currency: currency, byKey: make(map[string]int, len(items))}
	for i, item := range items {
		item.Key = strings.TrimSpace(item.Key)
		if item.Key == "" {
			return nil, fmt.Errorf("shop item %d has no key", i+1)
		}
		if _, dup := c.byKey[item.Key]; dup {
			return nil, fmt.Errorf("duplicate shop item key %q", item.Key)
		}
		if item.Price <= 0 {
			return nil, fmt.Errorf("shop item %q must have a positive price", item.Key)
		}
		if item.Points < 0 {
			return nil, fmt.Errorf("shop item %q has negative points", item.Key)
		}
		if !item.HasRewards() {
			return nil, fmt.Errorf("shop item %q grants nothing", item.Key)
		}
		if item.Name == "" {
			item.Name = item.Key
		}
		for j := range item.Items {
			if strings.TrimSpace(item.Items[j].Path) == "" {
				return nil, fmt.Errorf("shop item %q: grant %d has no path", item.Key, j+1)
			}
			if item.Items[j].Quantity < 1 {
				item.Items[j].Quantity = 1
			}
		}

		c.byKey[item.Key] = len(c.items)
		c.items = append(c.items, item)
	}
	return c, nil
}

// Find returns the item with the given key.
func (c *Catalog) Find(key string) (models.ShopItem, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return models.ShopItem{}, false
	}
	return c.items[i], true
}

// Items returns the items in file order.
func (c *Catalog) Items() []models.ShopItem {
	out := make([]models.ShopItem, len(c.items))
	copy(out, c.items)
	return out
}

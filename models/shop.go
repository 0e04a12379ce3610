package models

// ItemGrant is one in-game item handed out when a shop item is bought.
type ItemGrant struct {
	Path      string `yaml:"path" json:"path"`
	Quantity  int    `yaml:"quantity" json:"quantity"`
	Quality   int    `yaml:"quality" json:"quality"`
	Blueprint bool   `yaml:"blueprint" json:"blueprint"`
}

// ShopItem is a purchasable top-up package.
type ShopItem struct {
	Key         string      `yaml:"key" json:"key"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Price       float64     `yaml:"price" json:"price"`
	Points      int         `yaml:"points" json:"points"`
	Items       []ItemGrant `yaml:"items" json:"items,omitempty"`
	Commands    []string    `yaml:"commands" json:"commands,omitempty"`
	// Endpoint pins the item to one server. Empty means the healthiest one.
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty"`
	Emoji    string `yaml:"emoji" json:"emoji,omitempty"`
}

// HasRewards reports whether buying the item grants anything at all.
func (s ShopItem) HasRewards() bool {
	return s.Points > 0 || len(s.Items) > 0 || len(s.Commands) > 0
}

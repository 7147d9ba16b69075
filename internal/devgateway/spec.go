package devgateway

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptSpec drives intent classification and the summary prompt.
type PromptSpec struct {
	System  string `yaml:"system"`
	Summary string `yaml:"summary"`
	Intents []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Keywords    []string `yaml:"keywords"`
	} `yaml:"intents"`
	Style struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"style"`
}

// Product is one catalog entry, sent as-is in the product list.
type Product struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Price    float64  `yaml:"price" json:"price"`
	Currency string   `yaml:"currency" json:"currency"`
	Tags     []string `yaml:"tags" json:"tags,omitempty"`
}

// Bundle is a themed set of products offered for composite requests.
type Bundle struct {
	ID       string   `yaml:"id" json:"id"`
	Label    string   `yaml:"label" json:"label"`
	Theme    string   `yaml:"theme" json:"theme"`
	Products []string `yaml:"products" json:"product_ids"`
}

type Catalog struct {
	Products []Product `yaml:"products"`
	Bundles  []Bundle  `yaml:"bundles"`
}

func LoadPromptSpec(path string) (PromptSpec, error) {
	var spec PromptSpec
	if err := loadYAML(path, &spec); err != nil {
		return spec, err
	}
	if strings.TrimSpace(spec.System) == "" {
		return spec, fmt.Errorf("prompt spec %s: system prompt is empty", path)
	}
	return spec, nil
}

func LoadCatalog(path string) (Catalog, error) {
	var c Catalog
	err := loadYAML(path, &c)
	return c, err
}

func loadYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Match returns up to limit products whose name or tags share a word with
// query, in catalog order.
func (c Catalog) Match(query string, limit int) []Product {
	words := strings.Fields(strings.ToLower(query))
	var out []Product
	for _, p := range c.Products {
		if limit > 0 && len(out) >= limit {
			break
		}
		if productMatches(p, words) {
			out = append(out, p)
		}
	}
	return out
}

func productMatches(p Product, words []string) bool {
	haystack := strings.ToLower(p.Name + " " + strings.Join(p.Tags, " "))
	for _, w := range words {
		w = strings.TrimRight(w, "s")
		if len(w) >= 3 && strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

// BundlesFor returns bundles whose theme appears in query, or all bundles
// when none match.
func (c Catalog) BundlesFor(query string) []Bundle {
	q := strings.ToLower(query)
	var out []Bundle
	for _, b := range c.Bundles {
		if b.Theme != "" && strings.Contains(q, strings.ToLower(b.Theme)) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return c.Bundles
	}
	return out
}

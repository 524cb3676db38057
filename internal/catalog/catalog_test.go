package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCatalogLookup(t *testing.T) {
	c := Default()
	if c.Len() != 3 {
		t.Fatalf("unexpected catalog size: %d", c.Len())
	}

	p, ok := c.Get("search_pro_2024")
	if !ok {
		t.Fatalf("expected provider to exist")
	}
	if p.PriceUnit != 0.012 {
		t.Fatalf("unexpected price: %v", p.PriceUnit)
	}

	if _, ok := c.Get("missing_agent"); ok {
		t.Fatalf("expected lookup miss for unknown id")
	}

	categories := c.Categories()
	if len(categories) != 3 {
		t.Fatalf("unexpected categories: %v", categories)
	}
}

func TestNewSkipsDuplicatesAndBlanks(t *testing.T) {
	c := New([]Provider{
		{ID: "a", PriceUnit: 1},
		{ID: " a ", PriceUnit: 2},
		{ID: "", PriceUnit: 3},
		{ID: "b", PriceUnit: -1},
	})
	if c.Len() != 2 {
		t.Fatalf("unexpected catalog size: %d", c.Len())
	}
	a, _ := c.Get("a")
	if a.PriceUnit != 1 {
		t.Fatalf("duplicate should not override: %v", a.PriceUnit)
	}
	b, _ := c.Get("b")
	if b.PriceUnit != 0 {
		t.Fatalf("negative price should clamp to zero: %v", b.PriceUnit)
	}
}

func TestLoadYAML(t *testing.T) {
	content := `providers:
  - id: echo_agent
    name: Echo Agent
    price_unit: 0.004
    category: Research
    capabilities: [echo]
  - id: draft_agent
    name: Draft Agent
    price_unit: 0.006
    category: Content
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("unexpected catalog size: %d", c.Len())
	}
	p, ok := c.Get("echo_agent")
	if !ok || p.PriceUnit != 0.004 {
		t.Fatalf("unexpected provider: %+v ok=%v", p, ok)
	}
	if got := c.Categories(); len(got) != 2 {
		t.Fatalf("unexpected categories: %v", got)
	}
}

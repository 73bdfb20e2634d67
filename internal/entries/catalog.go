// Package entries holds the static entry catalog and the per-identity score store.
package entries

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/vision/backend/internal/models"
)

//go:embed entries.json
var defaultCatalog []byte

// Catalog is the fixed, ordered set of entries that can be scored.
type Catalog struct {
	entries []models.Entry
	index   map[string]int
}

// LoadCatalog reads the catalog from a JSON file. An empty path loads the
// embedded default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read entries file: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a JSON array of entries. IDs must be non-empty and unique.
func ParseCatalog(data []byte) (*Catalog, error) {
	var list []models.Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse entries: %w", err)
	}
	return NewCatalog(list)
}

func NewCatalog(list []models.Entry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]models.Entry, 0, len(list)),
		index:   make(map[string]int, len(list)),
	}
	for _, e := range list {
		if e.ID == "" {
			return nil, errors.New("entry without id")
		}
		if _, dup := c.index[e.ID]; dup {
			return nil, fmt.Errorf("duplicate entry id %q", e.ID)
		}
		c.index[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

func (c *Catalog) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

func (c *Catalog) Get(id string) (models.Entry, bool) {
	i, ok := c.index[id]
	if !ok {
		return models.Entry{}, false
	}
	return c.entries[i], true
}

// All returns the entries in catalog order.
func (c *Catalog) All() []models.Entry {
	out := make([]models.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// IDs returns every entry ID in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.ID
	}
	return ids
}

// Package catalog provides read-only part-type catalogs for the ledger.
package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/port"
)

var _ port.PartCatalog = (*Catalog)(nil)

type catalogFile struct {
	Parts []domain.PartType `yaml:"parts"`
}

// Catalog is an immutable nxid index loaded once at startup.
type Catalog struct {
	types map[string]domain.PartType
}

func New(types ...domain.PartType) *Catalog {
	c := &Catalog{types: make(map[string]domain.PartType, len(types))}
	for _, t := range types {
		c.types[t.NXID] = t
	}
	return c
}

// Load reads a YAML document of the form:
//
//	parts:
//	  - nxid: PNX0001
//	    name: Thermal paste
//	    consumable: true
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, p := range f.Parts {
		if p.NXID == "" {
			return nil, fmt.Errorf("parse catalog: part %d has no nxid", i)
		}
	}
	return New(f.Parts...), nil
}

func (c *Catalog) Lookup(_ context.Context, nxid string) (domain.PartType, error) {
	t, ok := c.types[nxid]
	if !ok {
		return domain.PartType{}, fmt.Errorf("part type %s: %w", nxid, domain.ErrNotFound)
	}
	return t, nil
}

func (c *Catalog) Len() int { return len(c.types) }

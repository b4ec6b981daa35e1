package billing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/fursona/pkg/observability"
)

// CatalogSource yields the catalog in effect right now
type CatalogSource interface {
	Current() *Catalog
}

// catalogFile is the YAML layout of the plan overrides file:
//
//	plans:
//	  - id: basic
//	    price: 7.99
//	    generations: 60
//	    features: ["60 fursona generations per month"]
type catalogFile struct {
	Plans []planOverride `yaml:"plans"`
}

type planOverride struct {
	ID          PlanType `yaml:"id"`
	Name        *string  `yaml:"name"`
	Price       *float64 `yaml:"price"`
	Generations *int     `yaml:"generations"`
	Features    []string `yaml:"features"`
}

// ParseCatalog applies YAML overrides on top of base. Plans cannot be added or
// removed and price references always come from base. A generations value of
// -1 means unlimited.
func ParseCatalog(data []byte, base *Catalog) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	plans := make([]Plan, len(base.plans))
	copy(plans, base.plans)

	for _, o := range file.Plans {
		idx := -1
		for i := range plans {
			if plans[i].ID == o.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, o.ID)
		}

		p := &plans[idx]
		if o.Name != nil {
			p.Name = *o.Name
		}
		if o.Price != nil {
			if *o.Price < 0 {
				return nil, fmt.Errorf("plan %s: price must not be negative", o.ID)
			}
			p.Price = *o.Price
		}
		if o.Generations != nil {
			switch {
			case *o.Generations == -1:
				p.Generations = UnlimitedGenerations
			case *o.Generations <= 0:
				return nil, fmt.Errorf("plan %s: generations must be positive or -1", o.ID)
			default:
				p.Generations = *o.Generations
			}
		}
		if o.Features != nil {
			p.Features = o.Features
		}
	}

	return NewCatalog(plans, base.paidEnabled), nil
}

// CatalogHolder serves the current catalog and swaps it when the overrides
// file changes. A broken file keeps the previous catalog in place.
type CatalogHolder struct {
	base    *Catalog
	path    string
	logger  *observability.Logger
	current atomic.Pointer[Catalog]
}

// NewCatalogHolder loads path (if set) on top of base
func NewCatalogHolder(base *Catalog, path string, logger *observability.Logger) (*CatalogHolder, error) {
	h := &CatalogHolder{base: base, path: path, logger: logger}
	h.current.Store(base)
	if path == "" {
		return h, nil
	}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Current returns the catalog in effect
func (h *CatalogHolder) Current() *Catalog {
	return h.current.Load()
}

// Reload re-reads the overrides file
func (h *CatalogHolder) Reload() error {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %w", err)
	}
	c, err := ParseCatalog(data, h.base)
	if err != nil {
		return err
	}
	h.current.Store(c)
	return nil
}

// Watch reloads the catalog whenever the overrides file is written or
// replaced, until ctx is done. The parent directory is watched so that
// editors which save via rename are picked up.
func (h *CatalogHolder) Watch(ctx context.Context) error {
	if h.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(h.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := h.Reload(); err != nil {
				h.logger.WithError(err).Warn("Keeping previous plan catalog")
				continue
			}
			h.logger.WithField("path", target).Info("Plan catalog reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.WithError(err).Error("Catalog watcher error")
		}
	}
}

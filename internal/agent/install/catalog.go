package install

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Lister lists installed packages on a device.
type Lister interface {
	ListPackages(ctx context.Context, serial string) ([]string, error)
}

// Catalog is the installed-package view of the last refreshed device.
type Catalog struct {
	lister Lister
	group  singleflight.Group

	mu        sync.RWMutex
	serial    string
	packages  []string
	loaded    bool
	updatedAt time.Time
}

func NewCatalog(lister Lister) *Catalog {
	return &Catalog{lister: lister}
}

// Refresh reloads the package list for serial. Concurrent refreshes of the
// same device share one adb invocation. A failed refresh keeps the previous view.
func (c *Catalog) Refresh(ctx context.Context, serial string) ([]string, error) {
	v, err, shared := c.group.Do(serial, func() (any, error) {
		pkgs, err := c.lister.ListPackages(ctx, serial)
		if err != nil {
			return nil, err
		}
		slices.Sort(pkgs)
		c.mu.Lock()
		c.serial = serial
		c.packages = pkgs
		c.loaded = true
		c.updatedAt = time.Now()
		c.mu.Unlock()
		return pkgs, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "refresh packages of %s failed", serial)
	}
	pkgs := v.([]string)
	log.Debug().Str("serial", serial).Int("packages", len(pkgs)).Bool("shared", shared).
		Msg("package catalog refreshed")
	return slices.Clone(pkgs), nil
}

// Packages returns the sorted package names.
func (c *Catalog) Packages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.packages)
}

// Contains reports whether name is in the loaded list.
func (c *Catalog) Contains(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, found := slices.BinarySearch(c.packages, name)
	return found
}

// Serial returns the device the catalog was loaded for.
func (c *Catalog) Serial() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serial
}

// LoadedFor reports whether the catalog currently describes serial.
func (c *Catalog) LoadedFor(serial string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded && c.serial == serial
}

func (c *Catalog) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

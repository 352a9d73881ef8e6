package wellknown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"policy-compiler/internal/metrics"
	"policy-compiler/internal/model"
)

var ErrCatalogUnavailable = errors.New("service catalog unavailable")

// LoadFile parses a catalog file. ".csv" files use the service,protocol,port
// layout; anything else is read as a JSON or YAML document.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	var entries map[string][]model.ServicePort
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		entries, err = ParseCSV(bytes.NewReader(data))
	} else {
		entries, err = ParseDocument(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCatalogUnavailable, path, err)
	}
	return newTable(entries, path), nil
}

// Catalog is a reloadable service table. Readers take a Snapshot and never
// block; Reload swaps in a new table atomically.
type Catalog struct {
	path    string
	current atomic.Pointer[Table]
	logger  *slog.Logger
}

// NewCatalog loads path. An empty path serves the embedded default table.
// A file that fails to load leaves the catalog unavailable rather than
// failing construction; the error is still returned for the caller to log.
func NewCatalog(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{path: path, logger: logger}
	if path == "" {
		c.store(Default())
		return c, nil
	}
	return c, c.Reload()
}

func (c *Catalog) Path() string {
	return c.path
}

func (c *Catalog) Snapshot() *Table {
	return c.current.Load()
}

// Reload re-reads the catalog file. On failure the catalog becomes
// unavailable until the next successful reload.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	m := metrics.Get()
	table, err := LoadFile(c.path)
	if err != nil {
		m.CatalogReloads.WithLabelValues("error").Inc()
		c.logger.Error("Failed to load service catalog", "path", c.path, "error", err)
		c.store(unavailableTable(c.path))
		return err
	}
	m.CatalogReloads.WithLabelValues("ok").Inc()
	c.logger.Info("Loaded service catalog", "path", c.path, "services", table.Len())
	c.store(table)
	return nil
}

func (c *Catalog) store(t *Table) {
	c.current.Store(t)
	metrics.Get().CatalogServices.Set(float64(t.Len()))
}

// Watch reloads the catalog whenever its file is written, created or renamed
// into place. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(c.path)
	c.logger.Info("Watching service catalog", "path", c.path)

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
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				c.logger.Debug("Service catalog changed", "event", event.Op.String())
				_ = c.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Catalog watcher error", "error", err)
		}
	}
}

// Package fetch retrieves lab bundles from a directory tree or an HTTP root.
// A bundle for lab X is the five resources under labs/X/; all five are
// fetched concurrently and the load fails as a whole if any one fails.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/config"
	"github.com/livetemplate/labkit/internal/security"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxResourceSize bounds a single lab resource.
const maxResourceSize = 2 * 1024 * 1024

// Backend reads a single resource of a lab.
// Implementations return *labkit.NotFoundError for absent resources and
// *labkit.FetchError for everything else.
type Backend interface {
	ReadResource(ctx context.Context, lab, resource string) (string, error)
}

// Fetcher loads complete lab bundles through a Backend.
type Fetcher struct {
	backend Backend
	logger  *zap.Logger
}

// New creates a Fetcher. A nil logger disables logging.
func New(backend Backend, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{backend: backend, logger: logger.Named("fetch")}
}

// FromConfig builds a Fetcher for the configured labs location. root is the
// served directory that relative lab dirs resolve against.
func FromConfig(cfg config.LabsConfig, root string, allowPrivate bool, logger *zap.Logger) (*Fetcher, error) {
	if cfg.IsRemote() {
		backend, err := NewHTTPBackend(cfg.BaseURL, cfg.GetTimeout(), allowPrivate)
		if err != nil {
			return nil, err
		}
		return New(backend, logger), nil
	}
	return New(NewDirBackend(cfg.ResolveDir(root)), logger), nil
}

// Backend returns the underlying backend.
func (f *Fetcher) Backend() Backend {
	return f.backend
}

// Load fetches every resource of the named lab. On failure no partial
// bundle is returned and the error is the first one encountered.
func (f *Fetcher) Load(ctx context.Context, name string) (labkit.Assets, error) {
	if !security.ValidLabName(name) {
		return labkit.Assets{}, &labkit.NotFoundError{Lab: name}
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	contents := make(map[string]string, len(labkit.Resources))

	for _, resource := range labkit.Resources {
		g.Go(func() error {
			content, err := f.backend.ReadResource(gctx, name, resource)
			if err != nil {
				return err
			}
			mu.Lock()
			contents[resource] = content
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		f.logger.Debug("lab load failed", zap.String("lab", name), zap.Error(err))
		return labkit.Assets{}, err
	}

	var assets labkit.Assets
	for resource, content := range contents {
		assets.Set(resource, content)
	}

	f.logger.Debug("lab loaded",
		zap.String("lab", name),
		zap.Duration("elapsed", time.Since(start)))
	return assets, nil
}

// LoadLab fetches the named lab and builds its record.
func (f *Fetcher) LoadLab(ctx context.Context, name string) (labkit.Lab, error) {
	assets, err := f.Load(ctx, name)
	if err != nil {
		return labkit.Lab{}, err
	}
	return labkit.BuildLab(name, assets), nil
}

func tooLarge(lab, resource string) error {
	return &labkit.FetchError{
		Lab:      lab,
		Resource: resource,
		Err:      fmt.Errorf("resource exceeds %d bytes", maxResourceSize),
	}
}

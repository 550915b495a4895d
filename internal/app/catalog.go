package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/rbac"
)

// Catalog is the authorization state shared by every request.
type Catalog struct {
	Holder  *authz.Holder
	Service *rbac.Service
	// Watcher is non-nil when the file source is watched for edits.
	Watcher *authz.Watcher
}

// BootstrapCatalog builds the initial engine for the configured source. The
// database source seeds the built-in catalog into an empty store first.
func BootstrapCatalog(ctx context.Context, cfg *Config, store rbac.CatalogStore, observer rbac.ReloadObserver, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults, err := authz.New(authz.DefaultCatalogSpec())
	if err != nil {
		return nil, fmt.Errorf("app: default catalog: %w", err)
	}

	switch cfg.CatalogSource {
	case CatalogSourceFile:
		engine, err := authz.LoadFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("app: catalog file: %w", err)
		}
		holder := authz.NewHolder(engine)
		out := &Catalog{Holder: holder, Service: rbac.NewService(nil, holder, logger, observer)}
		if cfg.CatalogWatch {
			out.Watcher = authz.NewWatcher(cfg.CatalogPath, holder, logger,
				authz.WithDebounce(250*time.Millisecond),
				authz.WithReloadHook(func(err error) {
					if observer != nil {
						observer.CatalogReload(err)
					}
				}),
			)
		}
		return out, nil

	case CatalogSourceDatabase:
		holder := authz.NewHolder(defaults)
		svc := rbac.NewService(store, holder, logger, observer)
		if _, err := svc.Seed(ctx, authz.DefaultCatalogSpec()); err != nil {
			return nil, fmt.Errorf("app: seed catalog: %w", err)
		}
		if err := svc.Reload(ctx); err != nil {
			return nil, fmt.Errorf("app: load catalog: %w", err)
		}
		return &Catalog{Holder: holder, Service: svc}, nil

	default:
		holder := authz.NewHolder(defaults)
		return &Catalog{Holder: holder, Service: rbac.NewService(nil, holder, logger, observer)}, nil
	}
}

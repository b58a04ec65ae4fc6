package notification

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewCatalog),
	fx.Provide(NewNotifier),
	fx.Invoke(loadCatalog),
)

func loadCatalog(lc fx.Lifecycle, catalog *Catalog, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := catalog.Load(ctx); err != nil {
				// Embedded defaults still serve.
				log.Warn("message catalog load failed", zap.Error(err))
			}
			return nil
		},
	})
}

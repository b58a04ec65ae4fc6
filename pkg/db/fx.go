package db

import (
	"context"
	"time"

	"github.com/savethedate/payments/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(Open),
)

type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     config.Config
	Log        *zap.Logger
	GormLogger gormlogger.Interface `optional:"true"`
}

// Open connects to the ledger database and registers tracing and pool
// metrics plugins.
func Open(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Config.DB)
	if err != nil {
		return nil, err
	}

	gcfg := &gorm.Config{TranslateError: true}
	if p.GormLogger != nil {
		gcfg.Logger = p.GormLogger
	}

	conn, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, err
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Config.DB.Name))); err != nil {
		return nil, err
	}
	if p.Config.DB.Type != "sqlite" {
		if err := conn.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          p.Config.DB.Name,
			RefreshInterval: 15,
			StartServer:     false,
		})); err != nil {
			return nil, err
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(p.Config.DB.MaxIdleConn)
	sqlDB.SetMaxOpenConns(p.Config.DB.MaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(p.Config.DB.ConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(p.Config.DB.ConnMaxIdleTime) * time.Second)

	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return sqlDB.PingContext(ctx)
			},
			OnStop: func(ctx context.Context) error {
				p.Log.Info("closing database connection")
				return sqlDB.Close()
			},
		})
	}

	p.Log.Info("database connected",
		zap.String("type", p.Config.DB.Type),
		zap.String("host", p.Config.DB.Host),
		zap.String("name", p.Config.DB.Name),
	)
	return conn, nil
}

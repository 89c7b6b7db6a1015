package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/capability"
	"github.com/BaSui01/swarmflow/agent/persistence"
	"github.com/BaSui01/swarmflow/agent/swarm"
	"github.com/BaSui01/swarmflow/api/handlers"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/cache"
	"github.com/BaSui01/swarmflow/internal/database"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/internal/migration"
	"github.com/BaSui01/swarmflow/internal/pool"
)

// =============================================================================
// 🔌 共享后端：serve 与 run 共用
// =============================================================================

const poolDrainTimeout = 10 * time.Second

// backends 进程级共享的连接与存储，所有蜂群实例共用
type backends struct {
	cache       *cache.Manager
	db          *database.PoolManager
	store       persistence.KnowledgeStore
	checkpoints persistence.CheckpointStore
	gateway     *capability.LocalGateway
	pool        *pool.GoroutinePool
}

// openBackends 按配置建立连接。Redis 与数据库只在配置了地址或驱动时连接
func openBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (b *backends, err error) {
	b = &backends{}
	defer func() {
		if err != nil {
			b.Close(logger)
		}
	}()

	if cfg.Redis.Addr != "" {
		if b.cache, err = cache.NewManager(cfg.CacheSettings(), logger); err != nil {
			return nil, err
		}
	}

	if cfg.Database.Driver != "" {
		if err = b.openDatabase(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	var sb persistence.Backends
	if b.cache != nil {
		sb.Redis = b.cache.Client()
	}
	if b.db != nil {
		sb.DB = b.db.DB()
	}
	if b.store, err = persistence.NewKnowledgeStore(ctx, cfg.StoreSettings(), sb); err != nil {
		return nil, fmt.Errorf("knowledge store: %w", err)
	}
	if b.checkpoints, err = persistence.NewCheckpointStore(ctx, cfg.CheckpointSettings()); err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}

	if b.gateway, err = capability.NewLocalGateway(cfg.GatewaySettings(), logger); err != nil {
		return nil, fmt.Errorf("capability gateway: %w", err)
	}
	if err = capability.RegisterBuiltins(b.gateway, cfg.Gateway.BuiltinLatency); err != nil {
		return nil, fmt.Errorf("register builtin capabilities: %w", err)
	}

	if pc, ok := cfg.PoolSettings(); ok {
		b.pool = pool.NewGoroutinePool(pc, logger)
	}

	logger.Info("backends ready",
		zap.Bool("redis", b.cache != nil),
		zap.Bool("database", b.db != nil),
		zap.String("knowledge_store", cfg.Store.Type),
		zap.Bool("checkpoints", b.checkpoints != nil),
		zap.Bool("task_pool", b.pool != nil),
	)
	return b, nil
}

func (b *backends) openDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN(), logger)
	if err != nil {
		return err
	}
	if b.db, err = database.NewPoolManager(db, cfg.DatabasePoolSettings(), logger); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return err
	}
	if err := b.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}

	if cfg.Database.AutoMigrate {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		report, err := migration.ApplyPending(ctx, cfg.Database, sqlDB, logger)
		if err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		logger.Info("knowledge schema migrated",
			zap.String("dialect", string(report.Dialect)),
			zap.Uint("version", report.Version),
			zap.String("state", string(report.State)))
	}
	return nil
}

// Deps 组装蜂群依赖。collector 为空时不采集指标
func (b *backends) Deps(collector *metrics.Collector) swarm.Deps {
	return swarm.Deps{
		Store:       b.store,
		Checkpoints: b.checkpoints,
		Gateway:     b.gateway,
		Cache:       b.cache,
		Metrics:     collector,
		Pool:        b.pool,
	}
}

// WatchDatabase 启动连接池后台探活，并把连接数写入指标
func (b *backends) WatchDatabase(ctx context.Context, driver string, collector *metrics.Collector) {
	if b.db == nil {
		return
	}
	if collector != nil {
		b.db.SetStatsReporter(func(open, idle int) {
			collector.RecordDBConnections(driver, open, idle)
		})
	}
	b.db.StartHealthCheck(ctx)
}

// HealthChecks 返回就绪探针用的检查项
func (b *backends) HealthChecks() []handlers.HealthCheck {
	var checks []handlers.HealthCheck
	if b.cache != nil {
		checks = append(checks, handlers.NewPingCheck("redis", b.cache.Ping))
	}
	if b.db != nil {
		checks = append(checks, handlers.NewPingCheck("database", b.db.Ping))
	}
	if b.store != nil {
		checks = append(checks, handlers.NewPingCheck("knowledge_store", b.store.Ping))
	}
	if b.checkpoints != nil {
		checks = append(checks, handlers.NewPingCheck("checkpoint_store", b.checkpoints.Ping))
	}
	return checks
}

// Close 按依赖的逆序关闭
func (b *backends) Close(logger *zap.Logger) {
	var errs []error
	if b.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), poolDrainTimeout)
		errs = append(errs, b.pool.Close(ctx))
		cancel()
	}
	if b.checkpoints != nil {
		errs = append(errs, b.checkpoints.Close())
	}
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	if b.cache != nil {
		errs = append(errs, b.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("closing backends", zap.Error(err))
	}
}

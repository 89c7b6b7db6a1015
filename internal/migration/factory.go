package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	appconfig "github.com/BaSui01/swarmflow/config"
)

// NewMigratorFromConfig 按应用配置创建迁移器
func NewMigratorFromConfig(cfg *appconfig.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig 按数据库配置打开独立连接并创建迁移器
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	var dbURL string
	switch dbType {
	case DatabaseTypePostgres:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeMySQL:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, "")
	case DatabaseTypeSQLite:
		// sqlite 的 Name 即文件路径
		dbURL = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		Logger:       logger,
	})
}

// NewMigratorFromURL 按方言名与连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}

// ApplyPending 在服务启动时执行待迁移并返回知识库表结构状态。
// sqlite 复用 shared 连接，其它方言单独建连
func ApplyPending(ctx context.Context, dbCfg appconfig.DatabaseConfig, shared *sql.DB, logger *zap.Logger) (SchemaReport, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return SchemaReport{}, err
	}

	var m *DefaultMigrator
	if dbType == DatabaseTypeSQLite && shared != nil {
		m, err = NewMigrator(&Config{DatabaseType: dbType, DB: shared, Logger: logger})
	} else {
		m, err = NewMigratorFromDatabaseConfig(dbCfg, logger)
	}
	if err != nil {
		return SchemaReport{}, err
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return SchemaReport{}, err
	}
	info, err := m.Info(ctx)
	if err != nil {
		return SchemaReport{}, err
	}
	return NewSchemaReport(dbType, info), nil
}

package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"github.com/fieldline/expstore/internal/config"
	"github.com/fieldline/expstore/internal/sqlstore"
	"github.com/fieldline/expstore/internal/storage"
)

var (
	configPath = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 初始化日志
	logger, err := initLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer logger.Sync()

	target := cfg.Storage.Target()
	dialect := storage.DialectOf(target)

	logger.Info("applying storage schema", zap.String("dialect", dialect))

	ctx := context.Background()

	// 连接数据库
	db, err := storage.Connect(ctx, target)
	if err != nil {
		logger.Fatal("connect to database failed", zap.Error(err))
	}
	defer db.Close()

	if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
		logger.Fatal("apply schema failed", zap.Error(err))
	}

	logger.Info("storage schema applied")
}

func initLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = parseLogLevel(level)
	return config.Build()
}

func parseLogLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

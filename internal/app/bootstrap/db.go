// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/stratadrive/internal/app/store/ratelimit"
	"github.com/dalemusser/stratadrive/internal/app/system/indexes"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/stratadrive/internal/app/system/validators"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/storage"
	"go.uber.org/zap"
)

// ConnectDB connects to MongoDB and blob storage and builds the lifecycle
// engine on top of them.
//
// WAFFLE calls this after configuration is loaded but before EnsureSchema and
// Startup.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	// Configure MongoDB connection pool
	poolCfg := wafflemongo.DefaultPoolConfig()
	if appCfg.MongoMaxPoolSize > 0 {
		poolCfg.MaxPoolSize = appCfg.MongoMaxPoolSize
	}
	if appCfg.MongoMinPoolSize > 0 {
		poolCfg.MinPoolSize = appCfg.MongoMinPoolSize
	}

	client, err := wafflemongo.ConnectWithPool(ctx, appCfg.MongoURI, appCfg.MongoDatabase, poolCfg)
	if err != nil {
		return DBDeps{}, err
	}

	db := client.Database(appCfg.MongoDatabase)

	logger.Info("connected to MongoDB",
		zap.String("database", appCfg.MongoDatabase),
		zap.Uint64("max_pool_size", poolCfg.MaxPoolSize),
		zap.Uint64("min_pool_size", poolCfg.MinPoolSize),
	)

	blobs, err := openBlobStorage(ctx, appCfg, logger)
	if err != nil {
		_ = client.Disconnect(ctx)
		return DBDeps{}, err
	}

	engine := lifecycle.New(db, blobs, lifecycle.Config{
		DefaultQuotaBytes: appCfg.DefaultQuotaBytes,
		MaxJobAttempts:    appCfg.JobsMaxAttempts,
	}, logger)

	guard := ratelimit.New(db, appCfg.ShareMissLimit, appCfg.ShareMissWindow, appCfg.ShareMissLockout)

	return DBDeps{
		MongoClient:   client,
		MongoDatabase: db,
		Blobs:         blobs,
		Engine:        engine,
		ShareGuard:    guard,
	}, nil
}

func openBlobStorage(ctx context.Context, appCfg AppConfig, logger *zap.Logger) (storage.Store, error) {
	switch appCfg.StorageType {
	case "s3":
		store, err := storage.NewS3(ctx, storage.S3Config{
			Region:                   appCfg.StorageS3Region,
			Bucket:                   appCfg.StorageS3Bucket,
			Prefix:                   appCfg.StorageS3Prefix,
			CloudFrontURL:            appCfg.StorageCFURL,
			CloudFrontKeyPairID:      appCfg.StorageCFKeyPairID,
			CloudFrontPrivateKeyPath: appCfg.StorageCFKeyPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		logger.Info("initialized S3 blob storage",
			zap.String("bucket", appCfg.StorageS3Bucket),
			zap.String("prefix", appCfg.StorageS3Prefix),
		)
		return store, nil
	case "local", "":
		// Blobs are only served through the API; the URL prefix is never
		// mounted.
		store, err := storage.NewLocal(storage.LocalConfig{
			BasePath: appCfg.StorageLocalPath,
			BaseURL:  "/blobs",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		logger.Info("initialized local blob storage",
			zap.String("path", appCfg.StorageLocalPath),
		)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", appCfg.StorageType)
	}
}

// EnsureSchema creates collections, validators and indexes.
//
// This runs after ConnectDB succeeds but before Startup and before the HTTP
// handler is built. The context has a timeout based on
// coreCfg.IndexBootTimeout.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	db := deps.MongoDatabase

	// Collections first: transactions cannot create them on older servers,
	// and indexes attach to existing collections.
	logger.Info("ensuring collections and validators")
	if err := validators.EnsureAll(ctx, db); err != nil {
		logger.Error("failed to ensure validators", zap.Error(err))
		return err
	}

	logger.Info("ensuring database indexes")
	if err := indexes.EnsureAll(ctx, db); err != nil {
		logger.Error("failed to ensure indexes", zap.Error(err))
		return err
	}

	if err := deps.ShareGuard.EnsureIndexes(ctx); err != nil {
		logger.Error("failed to ensure share-link miss indexes", zap.Error(err))
		return err
	}

	logger.Info("database schema ensured successfully")
	return nil
}

package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"usexplo.com/offlinecache/mod/bgsync"
	"usexplo.com/offlinecache/mod/cache"
	"usexplo.com/offlinecache/mod/cachemiddleware"
	"usexplo.com/offlinecache/mod/cacheworker"
	"usexplo.com/offlinecache/mod/fetchstats"
	"usexplo.com/offlinecache/mod/notify"
	"usexplo.com/offlinecache/mod/offline"
)

// Global cache variables
var (
	cacheStorage       cache.Storage
	cacheWorker        *cacheworker.Worker
	fetchStats         *fetchstats.Collector
	notificationHub    *notify.Hub
	notificationCenter *notify.Center
	registration       *offline.Registration
	currentManager     *offline.Manager
	cacheProxy         *cachemiddleware.Proxy
	cacheAdminHandler  *cachemiddleware.AdminHandler
	cacheConfiguration *CacheConfiguration
)

// initCacheSystem builds the storage, worker, notification hub and manager,
// then registers the configured version
func initCacheSystem(ctx context.Context, config *CacheConfiguration) error {
	SystemWideLogger.Info("Initializing offline cache system")
	cacheConfiguration = config

	// Build cache storage
	storage, err := BuildCacheStorage(config)
	if err != nil {
		SystemWideLogger.Error("Failed to create cache storage", zap.Error(err))
		return err
	}
	cacheStorage = storage
	SystemWideLogger.Info("Cache backend ready", zap.String("backend", config.Backend))

	// Detached cache writes
	workerConfig := config.WorkerConfig()
	workerConfig.Logger = SystemWideLogger.Named("cacheworker")
	cacheWorker = cacheworker.NewWorker(workerConfig)
	cacheWorker.Start()
	SystemWideLogger.Info("Cache worker started", zap.Int("workers", workerConfig.WorkerCount))

	// Notifications reach pages over websocket; connected pages are the
	// clients that keep the current version alive
	notificationHub = notify.NewHub(config.WebsocketOrigin, SystemWideLogger.Named("hub"))
	notificationCenter = notify.NewCenter(notify.CenterConfig{
		Sink:      notificationHub,
		Retention: time.Duration(config.NotificationTTL) * time.Second,
		Logger:    SystemWideLogger.Named("notify"),
	})

	fetchStats = fetchstats.NewCollector()
	network := &http.Client{}

	registration = offline.NewRegistration(network, SystemWideLogger.Named("registration"))
	notificationHub.SetPresenceHooks(registration.Claim, func() {
		if err := registration.Release(context.Background()); err != nil {
			SystemWideLogger.Warn("Failed to activate waiting version", zap.Error(err))
		}
	})

	manager, err := offline.New(offline.Options{
		Config:        config.ManagerConfig(),
		Storage:       cacheStorage,
		Fetcher:       network,
		Writer:        cacheWorker,
		Notifications: config.Notifications,
		Center:        notificationCenter,
		Sync:          bgsync.LogOnly{Logger: SystemWideLogger.Named("sync")},
		Stats:         fetchStats,
		Logger:        SystemWideLogger.Named("manager"),
	})
	if err != nil {
		SystemWideLogger.Error("Failed to create offline cache manager", zap.Error(err))
		return err
	}
	currentManager = manager

	if err := registration.Register(ctx, manager); err != nil {
		SystemWideLogger.Error("Failed to register offline cache manager", zap.Error(err))
		return err
	}

	cacheProxy, err = cachemiddleware.NewProxy(cachemiddleware.Config{
		Origin:  config.Origin,
		Fetcher: registration,
		Logger:  SystemWideLogger.Named("proxy"),
	})
	if err != nil {
		return err
	}
	cacheAdminHandler = cachemiddleware.NewAdminHandler(registration, cacheStorage, config.AdminSecret, SystemWideLogger.Named("admin"))

	SystemWideLogger.Info("Offline cache system initialized",
		zap.String("version", config.Version),
		zap.String("store", manager.CacheName()),
		zap.String("origin", config.Origin))
	return nil
}

// shutdownCacheSystem cleanly shuts down the cache system
func shutdownCacheSystem() {
	SystemWideLogger.Info("Shutting down offline cache system")

	if notificationHub != nil {
		notificationHub.Close()
	}

	if cacheWorker != nil {
		cacheWorker.Stop()
	}

	if notificationCenter != nil {
		notificationCenter.Stop()
	}

	if currentManager != nil {
		currentManager.Close()
	}

	if cacheStorage != nil {
		if err := cacheStorage.Close(); err != nil {
			SystemWideLogger.Warn("Failed to close cache storage", zap.Error(err))
		}
	}

	SystemWideLogger.Info("Offline cache system shut down")
}

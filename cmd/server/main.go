// Package main is the entry point for the scatter-LOD server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/scatter-lod/server/internal/api"
	"github.com/scatter-lod/server/internal/cache"
	"github.com/scatter-lod/server/internal/config"
	"github.com/scatter-lod/server/internal/data/points"
	"github.com/scatter-lod/server/internal/lod"
	"github.com/scatter-lod/server/internal/service"
	"github.com/scatter-lod/server/internal/store"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if len(cfg.Datasets) == 0 {
		log.Fatalf("No datasets configured in %s", *configPath)
	}

	log.Printf("Starting scatter-LOD server on port %d", cfg.Server.Port)

	strategy, err := lod.ForName(cfg.LOD.Strategy)
	if err != nil {
		log.Fatalf("Invalid LOD strategy: %v", err)
	}
	buildMode, err := lod.ParseBuildMode(cfg.LOD.BuildMode)
	if err != nil {
		log.Fatalf("Invalid build mode: %v", err)
	}

	// Cache manager shared across all datasets.
	cacheManager, err := cache.NewManager(cache.Config{
		ResultCacheSizeMB: cfg.Cache.ResultSizeMB,
		ResultTTL:         time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		QueryCacheSize:    cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	// Ladder store shared across datasets and the rebuild job manager.
	ladderStore, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open ladder store at %s: %v", cfg.Store.Path, err)
	}
	defer ladderStore.Close()

	datasetIDs := cfg.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Default, datasetIDs, cfg.Server.Title)

	log.Printf("Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.Default)

	for _, datasetID := range datasetIDs {
		ds := cfg.Datasets[datasetID]
		spec := points.Spec{
			Path:           ds.Path,
			Format:         ds.Format,
			XColumn:        ds.XColumn,
			YColumn:        ds.YColumn,
			RankColumn:     ds.RankColumn,
			IDColumn:       ds.IDColumn,
			CategoryColumn: ds.CategoryColumn,
		}

		if spec.Format == "tiledb" && !points.TileDBSupported() {
			log.Fatalf("  [%s] %v", datasetID, points.ErrUnsupported)
		}

		start := time.Now()
		tab, err := points.Load(spec)
		if err != nil {
			log.Fatalf("Failed to load dataset %q: %v", datasetID, err)
		}
		log.Printf("  [%s] Loaded %s points from %s in %s",
			datasetID, humanize.Comma(int64(tab.NumRows())), ds.Path, time.Since(start).Round(time.Millisecond))

		svc := service.NewLODService(service.LODServiceConfig{
			DatasetID:     datasetID,
			Table:         tab,
			Spec:          spec,
			MinPoints:     cfg.LOD.MinPoints,
			MinLevelSize:  cfg.LOD.MinLevelSize,
			Strategy:      strategy,
			Mode:          buildMode,
			MaxCategories: cfg.LOD.MaxCategories,
			Cache:         cacheManager,
		})

		start = time.Now()
		if err := svc.LoadOrBuild(ladderStore); err != nil {
			log.Fatalf("Failed to prepare ladder for %q: %v", datasetID, err)
		}
		levels := svc.Levels()
		log.Printf("  [%s] Ladder ready: %d levels (%s strategy, %s) in %s",
			datasetID, len(levels), strategy.Name(), buildMode, time.Since(start).Round(time.Millisecond))
		for _, lv := range levels {
			if lv.Full {
				log.Printf("    level %d: full resolution, %s rows", lv.Position, humanize.Comma(int64(lv.Rows)))
			} else {
				log.Printf("    level %d: target %s, %s rows",
					lv.Position, humanize.Comma(int64(lv.Target)), humanize.Comma(int64(lv.Rows)))
			}
		}

		registry.Register(datasetID, svc)
	}

	// Rebuild job manager shares the ladder store for persistence.
	jobManager := api.NewJobManager(ladderStore, api.JobManagerConfig{
		MaxConcurrent: 1,
		RetentionDays: 7,
		CleanupPeriod: 1 * time.Hour,
	})
	jobManager.Executor = func(ctx context.Context, datasetID string) error {
		svc := registry.Get(datasetID)
		if svc == nil {
			return fmt.Errorf("dataset not found: %s", datasetID)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return svc.Rebuild(ladderStore)
	}
	jobManager.Start()
	defer jobManager.Stop()

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
		Cache:       cacheManager,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	cacheManager.Close()
	log.Println("Server stopped")
}

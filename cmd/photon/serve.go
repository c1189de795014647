package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/api"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/update"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/redis"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the geocoding API from an existing index",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("enable-update-api", false, "start the Nominatim update service (overrides update.enabled)")
	serveCmd.Flags().String("cors-any", "", "allowed CORS origin, \"*\" for any")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cmd.Flags().Changed("enable-update-api") {
		cfg.Update.Enabled, _ = cmd.Flags().GetBool("enable-update-api")
	}
	if cmd.Flags().Changed("cors-any") {
		cfg.Server.CORSOrigin, _ = cmd.Flags().GetString("cors-any")
	}

	slog.Info("starting geocoder", "version", version, "port", cfg.Server.Port, "data_dir", cfg.Index.DataDir)

	store, err := index.Open(cfg.Index.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	props := store.Properties()

	m := metrics.New()
	if n, err := store.DocCount(); err == nil {
		m.IndexDocCount.Set(float64(n))
	}

	checker := health.NewChecker()
	checker.Register("index", health.PingCheck(func(ctx context.Context) error {
		return store.Ping()
	}, false))

	var queryCache *api.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, response caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = api.NewQueryCache(redisClient, cfg.Redis.CacheTTL)
			checker.Register("redis", health.PingCheck(redisClient.Ping, true))
			slog.Info("response cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var updates api.Updates
	var service *update.Service
	if cfg.Update.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("update service needs the Nominatim database: %w", err)
		}
		defer db.Close()
		checker.Register("postgres", health.PingCheck(db.Ping, true))

		indexUpdater := index.NewUpdater(store)
		runner := &storeUpdater{
			Updater: nominatim.NewUpdater(db, props, indexUpdater, cfg.Update.MaxRetries),
			store:   store,
			metrics: m,
		}
		service = update.NewService(runner, cfg.Update, m)
		if queryCache != nil {
			service.SetInvalidator(queryCache)
		}
		updates = service
	}

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PlaceChanges)
		defer producer.Close()
		if service != nil {
			notifier := update.NewNotifier(producer, 500, 2*time.Second)
			notifier.Start(ctx)
			defer notifier.Close()
			service.SetPublisher(notifier)
		}
		if queryCache != nil {
			listener := update.NewListener(queryCache, 5*time.Second)
			defer listener.Stop()
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PlaceChanges, instanceGroup(cfg.Kafka.ConsumerGroup), listener.Handle)
			go func() {
				if err := consumer.Start(ctx); err != nil {
					slog.Error("change listener stopped", "error", err)
				}
			}()
			slog.Info("listening for place changes", "topic", cfg.Kafka.Topics.PlaceChanges)
		}
	}

	if service != nil {
		go service.Run(ctx)
	}

	factory := query.NewFactory(query.FactoryConfig{
		Languages:         props.LanguageList(),
		DefaultLanguage:   cfg.Search.DefaultLanguage,
		DefaultLimit:      cfg.Search.DefaultLimit,
		MaxResults:        cfg.Search.MaxResults,
		MaxReverseResults: cfg.Search.MaxReverse,
		SupportGeometries: props.SupportGeometries,
	})
	h := api.NewHandler(index.NewSearcher(store), factory, api.Options{
		Cache:        queryCache,
		Updates:      updates,
		Index:        store,
		Metrics:      m,
		QueryTimeout: cfg.Search.QueryTimeout,
		Version:      version,
	})

	if cfg.Metrics.Enabled && cfg.Metrics.Port > 0 && cfg.Metrics.Port != cfg.Server.Port {
		go func() {
			if err := metrics.ListenAndServe(ctx, cfg.Metrics.Port); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(h, checker, m, cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("geocoder listening", "addr", server.Addr, "languages", props.LanguageList())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("geocoder stopped")
	return nil
}

// storeUpdater runs a Nominatim update pass and records the new data
// timestamp in the index properties afterwards. Document counters are
// kept by update.Service.
type storeUpdater struct {
	*nominatim.Updater
	store   *index.Store
	metrics *metrics.Metrics
}

func (u *storeUpdater) Update(ctx context.Context) (*nominatim.UpdateResult, error) {
	res, err := u.Updater.Update(ctx)
	if u.metrics != nil {
		if n, err := u.store.DocCount(); err == nil {
			u.metrics.IndexDocCount.Set(float64(n))
		}
	}
	if err != nil {
		return res, err
	}
	date, err := u.ImportDate(ctx)
	if err != nil {
		slog.Warn("could not read import date after update", "error", err)
		return res, nil
	}
	if !date.IsZero() {
		props := *u.store.Properties()
		props.ImportDate = date
		if err := u.store.SaveProperties(&props); err != nil {
			return res, err
		}
	}
	return res, nil
}

// instanceGroup gives every server its own consumer group so that each
// instance sees all change events.
func instanceGroup(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()[:8]
	}
	return base + "-" + host
}

package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/update"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/postgres"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply pending Nominatim changes to the index and exit",
	Args:  cobra.NoArgs,
	RunE:  runUpdate,
}

var updateInitCmd = &cobra.Command{
	Use:   "update-init",
	Short: "Install the change tracking triggers in the Nominatim database",
	Long: `Install the photon_updates table and the triggers filling it. The
given database user is granted the right to consume the table. Existing
tracking data is discarded.`,
	Args: cobra.NoArgs,
	RunE: runUpdateInit,
}

func init() {
	updateInitCmd.Flags().String("user", "", "database user running updates (overrides update.importUser)")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := index.Open(cfg.Index.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	updater := nominatim.NewUpdater(db, store.Properties(), index.NewUpdater(store), cfg.Update.MaxRetries)
	ok, err := updater.IsSetUpForUpdates(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrNotSetUpForUpdates
	}

	updCfg := cfg.Update
	updCfg.Enabled = true
	service := update.NewService(&storeUpdater{Updater: updater, store: store}, updCfg, nil)

	var notifier *update.Notifier
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PlaceChanges)
		defer producer.Close()
		// Sized so that nothing is sent before the final flush.
		notifier = update.NewNotifier(producer, 100000, 0)
		service.SetPublisher(notifier)
	}

	res, err := service.RunOnce(ctx)
	if notifier != nil {
		notifier.Flush(context.WithoutCancel(ctx))
	}
	warnPendingRetries(slog.Default(), updater.PendingRetries())
	if err != nil {
		return err
	}
	slog.Info("update finished",
		"updated", humanize.Comma(int64(res.Updated)),
		"deleted", humanize.Comma(int64(res.Deleted)),
		"retrying", res.Retrying,
		"import_date", store.Properties().ImportDate,
	)
	return nil
}

// warnPendingRetries reports places whose re-indexing failed. The retry
// queue lives in memory and ends with this process, so they are only
// picked up again once Nominatim changes them anew.
func warnPendingRetries(log *slog.Logger, pending []string) {
	if len(pending) == 0 {
		return
	}
	log.Warn("places not indexed, retry queue is dropped on exit",
		"count", len(pending),
		"places", strings.Join(pending, ","),
	)
}

func runUpdateInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	user := cfg.Update.ImportUser
	if cmd.Flags().Changed("user") {
		user, _ = cmd.Flags().GetString("user")
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	updater := nominatim.NewUpdater(db, model.NewDatabaseProperties(), nil, cfg.Update.MaxRetries)
	if err := updater.InitUpdates(ctx, user); err != nil {
		return err
	}
	slog.Info("change tracking installed", "user", user)
	return nil
}

package main

import (
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/dump"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/postgres"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export a Nominatim database to a JSON dump file",
	Args:  cobra.NoArgs,
	RunE:  runDump,
}

func init() {
	addImportFlags(dumpCmd)
	dumpCmd.Flags().StringP("output", "o", "-", "dump file to write, \"-\" for stdout")
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	applyImportFlags(cmd)
	output, _ := cmd.Flags().GetString("output")
	start := time.Now()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	props := importProperties()
	im := nominatim.NewImporter(db, props)
	if props.ImportDate, err = im.ImportDate(ctx); err != nil {
		return err
	}
	if err := im.PrepareDatabase(ctx); err != nil {
		return err
	}
	countries, err := selectCountries(ctx, im)
	if err != nil {
		return err
	}

	w, err := dump.Create(output, props)
	if err != nil {
		return err
	}
	names := make(map[string]model.NameMap, len(countries))
	for _, cc := range countries {
		if n, ok := im.CountryNames(cc); ok {
			names[cc] = n
		}
	}
	// Countries are read concurrently, so places only stay grouped by
	// country with a single worker.
	if err := w.WriteHeader(names, cfg.Import.Threads <= 1); err != nil {
		return err
	}

	sink := newCountingSink(w, "dumping")
	err = im.ImportCountries(ctx, countries, cfg.Import.Threads, sink)
	sink.Finish()
	if ferr := w.Finish(ctx); err == nil {
		err = ferr
	}
	if err != nil {
		return err
	}
	slog.Info("dump finished",
		"places", humanize.Comma(w.Places()),
		"output", output,
		"took", time.Since(start).Round(time.Second).String(),
	)
	return nil
}

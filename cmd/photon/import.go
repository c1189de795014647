package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/dump"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/postgres"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Build a new search index from a Nominatim database or a JSON dump",
	Long: `Build a new search index. Any index already present in the data
directory is replaced. Without --json-dump the places are read from the
Nominatim database configured in the postgres section.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	addImportFlags(importCmd)
	importCmd.Flags().String("json-dump", "", "read places from a JSON dump file instead of the database (\"-\" for stdin)")
	importCmd.Flags().Int("threads", 0, "number of countries read in parallel (overrides import.threads)")
}

// addImportFlags registers the flags shared by import and dump.
func addImportFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("languages", nil, "languages to index names in (overrides import.languages)")
	cmd.Flags().StringSlice("countries", nil, "only import these countries (ISO 3166-1 alpha-2)")
	cmd.Flags().StringSlice("extra-tags", nil, "OSM tags to keep in the extra field, ALL keeps every tag")
	cmd.Flags().Bool("import-geometries", false, "store full geometries of areas and lines")
}

func applyImportFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("languages") {
		cfg.Import.Languages, _ = flags.GetStringSlice("languages")
	}
	if flags.Changed("countries") {
		cfg.Import.Countries, _ = flags.GetStringSlice("countries")
	}
	if flags.Changed("extra-tags") {
		cfg.Import.ExtraTags, _ = flags.GetStringSlice("extra-tags")
	}
	if flags.Changed("import-geometries") {
		cfg.Import.ImportGeometries, _ = flags.GetBool("import-geometries")
	}
	if flags.Lookup("threads") != nil && flags.Changed("threads") {
		cfg.Import.Threads, _ = flags.GetInt("threads")
	}
	for i, cc := range cfg.Import.Countries {
		cfg.Import.Countries[i] = strings.ToLower(strings.TrimSpace(cc))
	}
}

// importProperties derives the index properties from the configuration.
func importProperties() *model.DatabaseProperties {
	props := model.NewDatabaseProperties()
	if len(cfg.Import.Languages) > 0 {
		props.Languages = append([]string(nil), cfg.Import.Languages...)
	}
	props.ExtraTags = model.ParseExtraTagFilter(cfg.Import.ExtraTags)
	props.SupportGeometries = cfg.Import.ImportGeometries
	return props
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	applyImportFlags(cmd)
	start := time.Now()

	jsonDump, _ := cmd.Flags().GetString("json-dump")
	var (
		places int64
		total  int64
		err    error
	)
	if jsonDump != "" {
		places, total, err = importDump(ctx, jsonDump)
	} else {
		places, total, err = importNominatim(ctx)
	}
	if err != nil {
		return err
	}

	slog.Info("import finished",
		"places", humanize.Comma(places),
		"documents", humanize.Comma(total),
		"index_size", humanize.Bytes(dirSize(cfg.Index.DataDir)),
		"took", time.Since(start).Round(time.Second).String(),
	)
	return nil
}

func importNominatim(ctx context.Context) (int64, int64, error) {
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()

	props := importProperties()
	im := nominatim.NewImporter(db, props)
	if props.ImportDate, err = im.ImportDate(ctx); err != nil {
		return 0, 0, err
	}
	if err := im.PrepareDatabase(ctx); err != nil {
		return 0, 0, err
	}
	countries, err := selectCountries(ctx, im)
	if err != nil {
		return 0, 0, err
	}

	store, err := index.Create(cfg.Index.DataDir, props)
	if err != nil {
		return 0, 0, err
	}
	defer store.Close()

	importer := index.NewImporter(store, cfg.Index.BatchSize)
	sink := newCountingSink(importer, "importing")
	slog.Info("importing from Nominatim",
		"countries", len(countries),
		"threads", cfg.Import.Threads,
		"data_timestamp", props.ImportDate,
	)
	err = im.ImportCountries(ctx, countries, cfg.Import.Threads, sink)
	places := sink.Finish()
	if err != nil {
		return places, importer.Total(), err
	}
	if err := importer.Finish(ctx); err != nil {
		return places, importer.Total(), err
	}
	return places, importer.Total(), nil
}

// selectCountries returns the configured countries, or every country of
// the database when none are configured.
func selectCountries(ctx context.Context, im *nominatim.Importer) ([]string, error) {
	all, err := im.Countries(ctx)
	if err != nil {
		return nil, err
	}
	if len(cfg.Import.Countries) == 0 {
		return all, nil
	}
	known := make(map[string]bool, len(all))
	for _, cc := range all {
		known[cc] = true
	}
	var out []string
	for _, cc := range cfg.Import.Countries {
		if !known[cc] {
			slog.Warn("country not in database, skipped", "country", cc)
			continue
		}
		out = append(out, cc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("none of the countries %v is in the database", cfg.Import.Countries)
	}
	return out, nil
}

func importDump(ctx context.Context, path string) (int64, int64, error) {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, 0, fmt.Errorf("opening dump: %w", err)
		}
		defer f.Close()
		in = f
		if info, err := f.Stat(); err == nil {
			bar := byteBar(info.Size(), "reading")
			defer bar.Finish()
			in = bar.NewProxyReader(f)
		}
	}

	r, err := dump.NewReader(in)
	if err != nil {
		return 0, 0, err
	}
	props := r.Header().Properties()
	if len(cfg.Import.Languages) > 0 {
		if err := props.RestrictLanguages(cfg.Import.Languages); err != nil {
			return 0, 0, err
		}
	}
	if len(cfg.Import.ExtraTags) > 0 {
		props.ExtraTags = model.ParseExtraTagFilter(cfg.Import.ExtraTags)
	}
	if !cfg.Import.ImportGeometries {
		props.SupportGeometries = false
	}

	store, err := index.Create(cfg.Index.DataDir, props)
	if err != nil {
		return 0, 0, err
	}
	defer store.Close()

	importer := index.NewImporter(store, cfg.Index.BatchSize)
	places, err := r.ReadAll(ctx, importer, cfg.Import.Countries)
	if err != nil {
		return places, importer.Total(), err
	}
	if err := importer.Finish(ctx); err != nil {
		return places, importer.Total(), err
	}
	return places, importer.Total(), nil
}

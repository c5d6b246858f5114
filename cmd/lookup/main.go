// Command atlas-lookup runs single ArcGIS lookups from the command line and
// prints the results as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/UnknownOlympus/atlas-arcgis/internal/config"
	"github.com/UnknownOlympus/atlas-arcgis/internal/geocoding"
	"github.com/UnknownOlympus/atlas-arcgis/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// searcher is the part of the lookup used by the commands.
type searcher interface {
	QueryURL(ctx context.Context, query geocoding.Query) string
	Search(ctx context.Context, query geocoding.Query) ([]geocoding.Result, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newEsriSearcher, os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newEsriSearcher builds the Esri lookup from the service configuration.
// Tokens and responses are kept in memory for the single run.
func newEsriSearcher() (searcher, error) {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	lookup, err := geocoding.NewEsriProvider(geocoding.ProviderConfig{
		Type:          geocoding.ProviderTypeEsri,
		ClientID:      cfg.Esri.ClientID,
		ClientSecret:  cfg.Esri.ClientSecret,
		Token:         cfg.Esri.Token,
		ForStorage:    cfg.Esri.ForStorage,
		SourceCountry: cfg.Esri.SourceCountry,
		UseHTTPS:      cfg.Esri.UseHTTPS,
		MaxRetries:    2,
		Metrics:       metrics.NewMetrics(prometheus.NewRegistry()),
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	return lookup, nil
}

func newRootCmd(newSearcher func() (searcher, error), out io.Writer) *cobra.Command {
	var (
		params   map[string]string
		printURL bool
	)

	root := &cobra.Command{
		Use:          "atlas-lookup",
		Short:        "Query the ArcGIS World geocoding service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringToStringVarP(&params, "param", "p", nil,
		"extra request parameter as key=value, may be repeated")
	root.PersistentFlags().BoolVar(&printURL, "url", false, "print the request URL instead of running the query")

	run := func(cmd *cobra.Command, query geocoding.Query) error {
		lookup, err := newSearcher()
		if err != nil {
			return err
		}

		if printURL {
			_, err = fmt.Fprintln(out, lookup.QueryURL(cmd.Context(), query))
			return err
		}

		results, err := lookup.Search(cmd.Context(), query)
		if err != nil {
			return err
		}
		if results == nil {
			results = []geocoding.Result{}
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "find TEXT...",
			Short: "Geocode an address or place name",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, geocoding.ForwardQuery{Text: strings.Join(args, " "), Params: params})
			},
		},
		&cobra.Command{
			Use:   "reverse LAT,LON",
			Short: "Find the address at a point",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				query, ok := geocoding.ParseQuery(args[0]).(geocoding.ReverseQuery)
				if !ok {
					return fmt.Errorf("invalid coordinates %q, expected LAT,LON", args[0])
				}
				query.Params = params
				return run(cmd, query)
			},
		},
		&cobra.Command{
			Use:   "batch ADDRESS...",
			Short: "Geocode several addresses in one request",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				items := make([]geocoding.BatchItem, 0, len(args))
				for _, arg := range args {
					items = append(items, geocoding.BatchItem{Input: arg})
				}
				return run(cmd, geocoding.BatchQuery{Items: items, Params: params})
			},
		},
	)

	return root
}

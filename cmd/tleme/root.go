package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dzeleniak/tleme/internal/tle"
)

// app carries what every command shares once flags and environment are read.
type app struct {
	cfg      config
	logger   *slog.Logger
	logLevel slog.Level

	cacheDir  string
	sourceURL string
	now       func() time.Time
}

func newRootCmd() *cobra.Command {
	a := &app{now: time.Now}

	root := &cobra.Command{
		Use:          "tleme",
		Short:        "Track which catalogued satellites are overhead",
		SilenceUsage: true,
	}
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		a.logLevel = parseLogLevel(os.Getenv("TLEME_LOG_LEVEL"))
		a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: a.logLevel}))
		a.cfg = loadConfig(a.logger)
		if a.cacheDir != "" {
			a.cfg.Store.CacheDir = a.cacheDir
		}
		if a.sourceURL != "" {
			a.cfg.Store.SourceURL = a.sourceURL
		}
	}
	root.PersistentFlags().StringVar(&a.cacheDir, "cache-dir", "", "catalog cache directory (overrides TLEME_CACHE_DIR)")
	root.PersistentFlags().StringVar(&a.sourceURL, "source-url", "", "catalog feed URL (overrides TLEME_SOURCE_URL)")

	get := &cobra.Command{
		Use:   "get",
		Short: "Query the catalog",
	}
	get.AddCommand(
		newTargetsCmd(a),
		newVisibleCmd(a),
		newPassesCmd(a),
		newLocationCmd(a),
		newTLECmd(a),
	)

	root.AddCommand(get, newRefreshCmd(a), newServeCmd(a))
	return root
}

func (a *app) newStore() *tle.Store {
	return tle.NewStore(a.cfg.Store, a.logger)
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dzeleniak/tleme/internal/location"
	"github.com/dzeleniak/tleme/internal/passes"
	"github.com/dzeleniak/tleme/internal/propagation"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
	"github.com/dzeleniak/tleme/internal/visibility"
)

func newTargetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List every object in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.newStore().Load(cmd.Context())
			if err != nil {
				return err
			}
			return renderTargets(cmd.OutOrStdout(), cat.Records())
		},
	}
}

// observerFlags are the flags shared by the commands that evaluate the sky
// for one observer at one instant.
type observerFlags struct {
	lat, lon, el float64
	threshold    float64
	at           string
}

func (f *observerFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "observer latitude in degrees")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "observer longitude in degrees")
	cmd.Flags().Float64Var(&f.el, "el", 0, "observer elevation in meters")
	cmd.Flags().Float64Var(&f.threshold, "threshold", visibility.DefaultThreshold, "minimum elevation angle in degrees (default TLEME_VISIBILITY_THRESHOLD)")
	cmd.Flags().StringVar(&f.at, "at", "", "evaluation instant, RFC 3339 (default now)")
}

// resolve returns the instant, threshold and observer the flags describe.
// The observer is located from this host's public IP unless --lat, --lon
// and --el are all given.
func (f *observerFlags) resolve(ctx context.Context, cmd *cobra.Command, a *app) (time.Time, float64, transform.Observer, error) {
	flags := cmd.Flags()

	t := a.now()
	if f.at != "" {
		parsed, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return t, 0, transform.Observer{}, fmt.Errorf("--at must be RFC 3339: %w", err)
		}
		t = parsed
	}

	th := a.cfg.Threshold
	if flags.Changed("threshold") {
		if f.threshold < -90 || f.threshold > 90 {
			return t, 0, transform.Observer{}, fmt.Errorf("--threshold %.2f outside [-90, 90]", f.threshold)
		}
		th = f.threshold
	}

	if flags.Changed("lat") && flags.Changed("lon") && flags.Changed("el") {
		return t, th, transform.Observer{LatDeg: f.lat, LonDeg: f.lon, ElevationM: f.el}, nil
	}

	obs, err := location.NewHTTPResolver(a.cfg.Location, a.logger).Observer(ctx)
	if err != nil {
		return t, th, obs, fmt.Errorf("%w; pass --lat, --lon and --el explicitly", err)
	}
	a.logger.Info("using located observer",
		"latitude", obs.LatDeg,
		"longitude", obs.LonDeg,
		"elevation_m", obs.ElevationM,
	)
	return t, th, obs, nil
}

func newVisibleCmd(a *app) *cobra.Command {
	var of observerFlags

	cmd := &cobra.Command{
		Use:   "visible",
		Short: "List objects above the elevation threshold",
		Long: `List the catalog objects whose elevation above the observer's horizon
exceeds the threshold. The observer is located from this host's public IP
unless --lat, --lon and --el are all given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, th, obs, err := of.resolve(ctx, cmd, a)
			if err != nil {
				return err
			}

			cat, err := a.newStore().Load(ctx)
			if err != nil {
				return err
			}

			engine := visibility.NewEngine(propagation.NewPropagator(a.cfg.Propagation, a.logger), a.logger)
			report, err := engine.EvaluateCatalog(ctx, cat, obs, t, th)
			if err != nil {
				return err
			}
			return renderVisible(cmd.OutOrStdout(), report.Visible)
		},
	}
	of.register(cmd)
	return cmd
}

func newPassesCmd(a *app) *cobra.Command {
	var (
		of        observerFlags
		hours     float64
		maxPasses int
	)

	cmd := &cobra.Command{
		Use:   "passes <id>",
		Short: "Predict when one object is above the elevation threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, th, obs, err := of.resolve(ctx, cmd, a)
			if err != nil {
				return err
			}

			cat, err := a.newStore().Load(ctx)
			if err != nil {
				return err
			}
			rec, ok := cat.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown catalog id %q", args[0])
			}

			found, err := passes.Predict(ctx, rec, passes.Request{
				Observer:     obs,
				Start:        t,
				Window:       time.Duration(hours * float64(time.Hour)),
				ThresholdDeg: th,
				MaxPasses:    maxPasses,
				MaxEpochAge:  a.cfg.Propagation.MaxEpochAge,
			})
			if err != nil {
				return err
			}
			return renderPasses(cmd.OutOrStdout(), found)
		},
	}
	of.register(cmd)
	cmd.Flags().Float64Var(&hours, "hours", passes.DefaultWindow.Hours(), "search window in hours (at most 168)")
	cmd.Flags().IntVar(&maxPasses, "max", passes.DefaultMaxPasses, "maximum number of passes to list")
	return cmd
}

func newLocationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "location",
		Short: "Print this host's located observer position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := location.NewHTTPResolver(a.cfg.Location, a.logger).Observer(cmd.Context())
			if err != nil {
				a.logger.Error("failed to retrieve location: lat, lon, el", "error", err)
				return err
			}
			return renderLocation(cmd.OutOrStdout(), obs)
		},
	}
}

func newTLECmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tle <id>",
		Short: "Print the element set of one object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.newStore().Load(cmd.Context())
			if err != nil {
				return err
			}
			rec, ok := cat.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown catalog id %q", args[0])
			}
			return tle.Format(cmd.OutOrStdout(), []tle.Record{rec})
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the catalog feed now, regardless of cache age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.newStore()
			cat, err := store.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d records into %s\n", cat.Len(), store.Path())
			return nil
		},
	}
}

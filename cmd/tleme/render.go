package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dzeleniak/tleme/internal/passes"
	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
	"github.com/dzeleniak/tleme/internal/visibility"
)

func renderTargets(w io.Writer, records []tle.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDAILY REVOLUTIONS")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\n", r.CatalogID, r.Name, r.MeanMotion)
	}
	return tw.Flush()
}

func renderVisible(w io.Writer, results []visibility.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDAILY REVOLUTIONS\tELEVATION\tAZIMUTH\tRANGE KM")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.1f\t%.1f\t%.0f\n",
			r.CatalogID, r.Name, r.MeanMotion, r.ElevationDeg, r.AzimuthDeg, r.RangeKm)
	}
	return tw.Flush()
}

func renderPasses(w io.Writer, found []passes.Pass) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RISE (UTC)\tAZ\tCULMINATION (UTC)\tMAX EL\tSET (UTC)\tAZ\tDURATION")
	for _, p := range found {
		fmt.Fprintf(tw, "%s\t%.0f\t%s\t%.1f\t%s\t%.0f\t%s\n",
			p.Rise.Format(time.DateTime), p.RiseAzimuthDeg,
			p.Culmination.Format(time.DateTime), p.MaxElevationDeg,
			p.Set.Format(time.DateTime), p.SetAzimuthDeg,
			time.Duration(p.DurationSeconds*float64(time.Second)).String())
	}
	return tw.Flush()
}

func renderLocation(w io.Writer, obs transform.Observer) error {
	_, err := fmt.Fprintf(w, "Latitude: %.6f\nLongitude: %.6f\nElevation: %.1f\n",
		obs.LatDeg, obs.LonDeg, obs.ElevationM)
	return err
}

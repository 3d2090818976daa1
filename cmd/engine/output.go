package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/usecase"
	"LighthouseMacro/pkg/util"
)

func parseBuildArgs(args []string, stderr io.Writer) (usecase.BuildRequest, error) {
	var req usecase.BuildRequest
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(stderr)
	start := fs.String("start", "", "first panel date (YYYY-MM-DD)")
	end := fs.String("end", "", "last panel date (YYYY-MM-DD)")
	asOf := fs.String("as-of", "", "point-in-time date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	if *start == "" || *end == "" {
		return req, errors.New("-start and -end are required")
	}

	var err error
	if req.Start, err = util.ParseDate(*start); err != nil {
		return req, err
	}
	if req.End, err = util.ParseDate(*end); err != nil {
		return req, err
	}
	if req.End.Before(req.Start) {
		return req, fmt.Errorf("end %s is before start %s", *end, *start)
	}
	if *asOf != "" {
		if req.AsOf, err = util.ParseDate(*asOf); err != nil {
			return req, err
		}
	}
	return req, nil
}

type revisionsRequest struct {
	SeriesID string
	Since    time.Time
}

// parseRevisionsArgs accepts -since as a date or an RFC 3339 timestamp.
func parseRevisionsArgs(args []string, stderr io.Writer) (revisionsRequest, error) {
	var req revisionsRequest
	fs := flag.NewFlagSet("revisions", flag.ContinueOnError)
	fs.SetOutput(stderr)
	since := fs.String("since", "", "earliest revision time (YYYY-MM-DD or RFC 3339)")
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	if fs.NArg() > 1 {
		return req, errors.New("at most one series id")
	}
	req.SeriesID = fs.Arg(0)
	if *since == "" {
		return req, nil
	}
	if d, err := util.ParseDate(*since); err == nil {
		req.Since = d
		return req, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *since)
	if err != nil {
		return req, fmt.Errorf("-since %q is neither a date nor an RFC 3339 time", *since)
	}
	req.Since = t.UTC()
	return req, nil
}

func writeRevisions(w io.Writer, events []models.RevisionEvent) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIES\tDATE\tOLD\tNEW\tRUN\tREVISED_AT\t")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			e.SeriesID, util.FormatDate(e.Date), formatValue(e.OldValue), formatValue(e.NewValue),
			dash(e.RunID), e.RevisedAt.UTC().Format(time.RFC3339Nano))
	}
	_ = tw.Flush()
}

func writeInventory(w io.Writer, rows []usecase.InventoryRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIES\tPROVIDER\tFREQ\tFIRST\tLAST\tCOUNT\tFETCHED\t")
	for _, r := range rows {
		id := r.SeriesID
		if !r.InCatalog {
			id += " (orphan)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t\n",
			id, dash(string(r.Provider)), dash(string(r.Frequency)),
			dash(r.FirstDate), dash(r.LastDate), r.Count, dash(r.LastFetchedAt))
	}
	_ = tw.Flush()
}

func writeDescription(w io.Writer, d *usecase.Description) {
	fmt.Fprintln(w, d.Summary)
	fmt.Fprintln(w, "---")
	fmt.Fprint(w, d.YAML)
}

func writeReport(w io.Writer, r *models.RunReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(r.Series) > 0 {
		fmt.Fprintln(tw, "SERIES\tSTATUS\tFETCHED\tINSERTED\tREVISED\tLAST\tREASON\t")
		for _, s := range r.Series {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t\n",
				s.SeriesID, s.Status, s.Fetched, s.Inserted, s.Revised, dash(s.LastObservationDate), s.Reason)
		}
		fmt.Fprintln(tw, "\t\t\t\t\t\t\t")
	}
	if len(r.Composites) > 0 {
		fmt.Fprintln(tw, "INDEX\tSTATUS\tLATEST\tVALUE\tREGIME\tREASON\t")
		for _, c := range r.Composites {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
				c.IndexID, c.Status, dash(c.LatestDate), formatLatest(c.LatestValue), dash(c.Regime), c.Reason)
		}
		fmt.Fprintln(tw, "\t\t\t\t\t\t")
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "run %s %s: %s", r.RunID, r.Command, r.Status)
	if len(r.Revisions) > 0 {
		fmt.Fprintf(w, ", %d revisions", len(r.Revisions))
	}
	fmt.Fprintln(w)
	for _, o := range r.Outputs {
		fmt.Fprintf(w, "  wrote %s\n", o)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
}

func formatLatest(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}

func formatValue(v float64) string {
	if models.IsMissing(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

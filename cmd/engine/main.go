package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"LighthouseMacro/internal/di"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/usecase"
	"LighthouseMacro/pkg/config"
)

const usage = `usage: engine [-config path] <command> [args]

commands:
  fetch [series_id ...]                     refresh the raw store
  run                                       fetch, build the lookback window, write outputs
  build -start D -end D [-as-of D]          build composites from stored data
  inventory                                 list stored series
  describe <index_id>                       show a composite definition
  list-series <provider>                    list ids a provider serves
  revisions [-since T] [series_id]          show the revision log
  serve                                     read-only JSON API
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("engine", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "config/config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	command, rest := fs.Arg(0), fs.Args()[1:]
	if !knownCommand(command) {
		fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		fs.Usage()
		return 2
	}

	// command flags are checked before anything is opened
	var (
		buildReq usecase.BuildRequest
		revReq   revisionsRequest
	)
	switch command {
	case usecase.CommandBuild:
		req, err := parseBuildArgs(rest, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "build: %v\n", err)
			return 2
		}
		buildReq = req
	case "revisions":
		req, err := parseRevisionsArgs(rest, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "revisions: %v\n", err)
			return 2
		}
		revReq = req
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config load failed: %v\n", err)
		return 2
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "initialization failed: %v\n", err)
		return 2
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := app.Driver()
	switch command {
	case usecase.CommandFetch:
		report, err := driver.Fetch(ctx, rest)
		return finish(stdout, stderr, report, err)
	case usecase.CommandRun:
		report, err := driver.Run(ctx)
		return finish(stdout, stderr, report, err)
	case usecase.CommandBuild:
		report, err := driver.Build(ctx, buildReq)
		return finish(stdout, stderr, report, err)
	case "inventory":
		rows, err := driver.Inventory(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "inventory: %v\n", err)
			return 2
		}
		writeInventory(stdout, rows)
	case "describe":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "describe: exactly one index id required")
			return 2
		}
		d, err := driver.Describe(rest[0])
		if err != nil {
			fmt.Fprintf(stderr, "describe: %v\n", err)
			return 2
		}
		writeDescription(stdout, d)
	case "list-series":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "list-series: exactly one provider required")
			return 2
		}
		ids, err := driver.ListSeries(ctx, models.Provider(rest[0]))
		if err != nil {
			fmt.Fprintf(stderr, "list-series: %v\n", err)
			return 2
		}
		for _, id := range ids {
			fmt.Fprintln(stdout, id)
		}
	case "revisions":
		events, err := driver.Revisions(ctx, revReq.SeriesID, revReq.Since)
		if err != nil {
			fmt.Fprintf(stderr, "revisions: %v\n", err)
			return 2
		}
		writeRevisions(stdout, events)
	case "serve":
		if err := app.Serve(ctx); err != nil {
			fmt.Fprintf(stderr, "serve: %v\n", err)
			return 2
		}
	}
	return 0
}

func knownCommand(c string) bool {
	switch c {
	case usecase.CommandFetch, usecase.CommandRun, usecase.CommandBuild,
		"inventory", "describe", "list-series", "revisions", "serve":
		return true
	}
	return false
}

func finish(stdout, stderr io.Writer, report *models.RunReport, err error) int {
	if report != nil {
		writeReport(stdout, report)
	}
	if err != nil {
		fmt.Fprintf(stderr, "run aborted: %v\n", err)
	}
	return usecase.ExitCode(report, err)
}

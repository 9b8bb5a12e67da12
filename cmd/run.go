package main

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/iziplay/crm-indexer/pkg/aggregate"
	"github.com/iziplay/crm-indexer/pkg/crm"
	"github.com/iziplay/crm-indexer/pkg/fetch"
	"github.com/iziplay/crm-indexer/pkg/reference"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
	"github.com/iziplay/crm-indexer/pkg/sync"
	"github.com/urfave/cli/v2"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run a pipeline over references given as arguments or in a file",
	ArgsUsage: "[reference...]",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "pipeline", Aliases: []string{"p"}, Required: true, Usage: "pipeline name, see the pipelines command"},
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "file with one reference per line, # starts a comment"},
		&cli.StringFlag{Name: "status", Usage: "only records with this status or stage"},
		&cli.StringFlag{Name: "priority", Usage: "only records with this priority"},
		&cli.StringFlag{Name: "type", Usage: "only records of this type"},
		&cli.StringFlag{Name: "date-from", Usage: "start date, YYYY-MM-DD or MM/DD/YYYY"},
		&cli.StringFlag{Name: "date-to", Usage: "end date, YYYY-MM-DD or MM/DD/YYYY"},
		&cli.IntFlag{Name: "limit", Usage: "maximum number of records"},
		&cli.BoolFlag{Name: "open-only"},
		&cli.BoolFlag{Name: "closed-only"},
		&cli.BoolFlag{Name: "won-only"},
		&cli.BoolFlag{Name: "lost-only"},
		&cli.BoolFlag{Name: "no-comments", Usage: "do not fetch dependent records"},
		&cli.BoolFlag{Name: "json-only", Usage: "skip indexing and only produce the report"},
		&cli.StringFlag{Name: "index", Usage: "index name, defaults to ES_INDEX or the pipeline's index"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the result as JSON to this file, - for stdout"},
		&cli.IntFlag{Name: "workers", Usage: "parallel chunk requests, defaults to PIPELINE_WORKERS"},
		&cli.DurationFlag{Name: "timeout", Usage: "abort the run after this duration, defaults to RUN_TIMEOUT"},
	},
	Action: runAction,
}

var pipelinesCommand = &cli.Command{
	Name:  "pipelines",
	Usage: "List the available pipelines",
	Action: func(c *cli.Context) error {
		for _, name := range crm.Names() {
			p, _ := crm.Lookup(name)
			fmt.Fprintf(c.App.Writer, "%-24s %-12s %s\n", p.Name, p.Kind.Name, p.Description)
		}
		return nil
	},
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, ok := crm.Lookup(c.String("pipeline"))
	if !ok {
		return fmt.Errorf("%w %q, expected one of %s", sync.ErrUnknownPipeline, c.String("pipeline"), strings.Join(crm.Names(), ", "))
	}

	filters, err := filtersFromFlags(c)
	if err != nil {
		return err
	}

	refs := c.Args().Slice()
	if path := c.String("file"); path != "" {
		fromFile, err := readReferences(path)
		if err != nil {
			return err
		}
		refs = append(refs, fromFile...)
	}
	if len(refs) == 0 {
		return fmt.Errorf("no references given")
	}

	timeout := cfg.RunTimeout
	if c.IsSet("timeout") {
		timeout = c.Duration("timeout")
	}
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	shutdown, err := setupTracing(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	client, err := salesforce.Connect(ctx, cfg.Salesforce)
	if err != nil {
		return fmt.Errorf("%w: %w", sync.ErrRecordStoreUnreachable, err)
	}
	slog.Debug("Connected to Salesforce", "instance", client.InstanceURL())

	workers := cmp.Or(c.Int("workers"), cfg.Workers)
	indexName := cmp.Or(c.String("index"), cfg.Elastic.Index, p.Index)

	var b backends
	if c.Bool("json-only") {
		b.reason = "indexing disabled by --json-only"
	} else {
		b = openBackends(cfg, indexName)
	}

	syncer := sync.New(fetch.New(client, fetch.WithWorkers(workers)), b.syncOptions()...)
	result, runErr := syncer.Run(ctx, sync.Options{
		Pipeline:     p.Name,
		References:   refs,
		Filters:      filters,
		SkipChildren: c.Bool("no-comments"),
		ReportOnly:   c.Bool("json-only"),
		Index:        indexName,
	})
	if result == nil {
		return runErr
	}

	logResult(result)

	if path := c.String("output"); path != "" {
		if err := writeResult(path, c.App.Writer, result); err != nil {
			return err
		}
	}

	return runErr
}

func filtersFromFlags(c *cli.Context) (crm.Filters, error) {
	f := crm.Filters{
		Status:     c.String("status"),
		Priority:   c.String("priority"),
		Type:       c.String("type"),
		Limit:      c.Int("limit"),
		OpenOnly:   c.Bool("open-only"),
		ClosedOnly: c.Bool("closed-only"),
		WonOnly:    c.Bool("won-only"),
		LostOnly:   c.Bool("lost-only"),
	}

	var err error
	if s := c.String("date-from"); s != "" {
		if f.DateFrom, err = crm.ParseDate(s); err != nil {
			return crm.Filters{}, fmt.Errorf("--date-from: %w", err)
		}
	}
	if s := c.String("date-to"); s != "" {
		if f.DateTo, err = crm.ParseDate(s); err != nil {
			return crm.Filters{}, fmt.Errorf("--date-to: %w", err)
		}
	}

	return f, f.Validate()
}

func readReferences(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open references: %w", err)
	}
	defer file.Close()

	return reference.ReadReferences(file)
}

// topValues is how many values of each breakdown are logged.
const topValues = 3

func logResult(r *sync.Result) {
	attrs := []any{
		"run", r.RunID.String(),
		"pipeline", r.Pipeline,
		"mode", r.Mode,
		"resolved", len(r.Resolution.IDs),
		"invalid", len(r.Resolution.Invalid),
		"fetched", len(r.Fetch.Records),
		"chunkFailures", len(r.Fetch.Failures),
		"documents", len(r.Documents),
		"transformFailures", len(r.TransformFailures),
	}
	if r.Indexed != nil {
		attrs = append(attrs, "index", r.Index, "indexed", r.Indexed.Succeeded, "indexFailures", len(r.Indexed.Failures))
	}
	if r.ModeReason != "" {
		attrs = append(attrs, "reason", r.ModeReason)
	}
	for _, b := range r.Report.Overall.Breakdowns {
		attrs = append(attrs, "top_"+b.Field, aggregate.Top(b.Counts, topValues))
	}
	slog.Info("Run finished", attrs...)
}

func writeResult(path string, stdout io.Writer, r *sync.Result) error {
	w := stdout
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer file.Close()
		w = file
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if path != "-" {
		slog.Info("Result written", "path", path)
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/lox/permitcast/internal/accuracy"
	"github.com/lox/permitcast/internal/api"
	"github.com/lox/permitcast/internal/chart"
	"github.com/lox/permitcast/internal/features"
	"github.com/lox/permitcast/internal/ingest"
	"github.com/lox/permitcast/internal/metrics"
	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/quarter"
	"github.com/lox/permitcast/internal/report"
	"github.com/lox/permitcast/internal/sdmx"
	"github.com/lox/permitcast/internal/store"
	"github.com/lox/permitcast/internal/table"
)

type FetchCmd struct {
	Location string `arg:"" optional:"" help:"Document URL, ftp:// location or file. Defaults to the configured source."`
	Build    bool   `help:"Also rebuild the feature tables from the fetched document."`
	KeepDays int    `name:"keep-days" help:"Delete stored payloads older than this many days; 0 keeps everything."`
}

func (c *FetchCmd) Run(app *App) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}
	st, err := app.Store()
	if err != nil {
		return err
	}

	location := c.Location
	if location == "" {
		location = cfg.Source.Location()
	}

	p := ingest.NewPipeline(st, ingest.NewFetcher(), cfg.Filter())
	doc, err := p.FetchDocument(app.ctx, location)
	if err != nil {
		return err
	}

	if c.KeepDays > 0 {
		n, err := st.CleanupOldRawPayloads(c.KeepDays)
		if err != nil {
			return fmt.Errorf("cleanup payloads: %w", err)
		}
		if n > 0 {
			log.Printf("fetch: deleted %d payloads older than %d days", n, c.KeepDays)
		}
	}
	if !c.Build {
		return nil
	}

	build, err := p.BuildFeatures(app.ctx, cfg.Dataset, doc)
	if err != nil {
		return err
	}
	return writeOutputs(build, cfg.Output.CSV, cfg.Output.XLSX)
}

type FeaturesCmd struct {
	Input   string `short:"i" help:"Document to read (URL, ftp:// or file). Defaults to the latest stored payload."`
	Output  string `short:"o" help:"CSV output path, '-' for stdout. Defaults to the configured path."`
	XLSX    string `name:"xlsx" help:"Also write an XLSX workbook here."`
	PNG     string `name:"png" help:"Also render a chart of the monthly table here."`
	Dataset string `help:"Dataset name to store the tables under."`
	Preview int    `default:"12" help:"Rows of the monthly table to print."`
}

func (c *FeaturesCmd) Run(app *App) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}
	st, err := app.Store()
	if err != nil {
		return err
	}

	p := ingest.NewPipeline(st, ingest.NewFetcher(), cfg.Filter())

	var doc []byte
	if c.Input != "" {
		doc, err = p.FetchDocument(app.ctx, c.Input)
	} else {
		doc, err = p.LatestDocument()
	}
	if err != nil {
		return err
	}

	dataset := c.Dataset
	if dataset == "" {
		dataset = cfg.Dataset
	}
	build, err := p.BuildFeatures(app.ctx, dataset, doc)
	if err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = cfg.Output.CSV
	}
	xlsx := c.XLSX
	if xlsx == "" {
		xlsx = cfg.Output.XLSX
	}
	if err := writeOutputs(build, output, xlsx); err != nil {
		return err
	}
	if c.PNG != "" {
		img, err := chart.Render(chart.Data{Title: "Dwellings permitted: " + dataset, Actual: table.MonthlyPoints(build.Monthly)})
		if err != nil {
			return fmt.Errorf("render chart: %w", err)
		}
		if err := os.WriteFile(c.PNG, img, 0o644); err != nil {
			return err
		}
	}

	if c.Preview > 0 && output != "-" {
		n := min(c.Preview, len(build.Monthly))
		return table.WriteFeaturesCSV(os.Stdout, build.Monthly[:n])
	}
	return nil
}

func writeOutputs(build *ingest.Build, csvPath, xlsxPath string) error {
	if csvPath != "" {
		if err := writeFile(csvPath, func(w io.Writer) error {
			return table.WriteFeaturesCSV(w, build.Monthly)
		}); err != nil {
			return fmt.Errorf("write features csv: %w", err)
		}
		if csvPath != "-" {
			log.Printf("features: wrote %d months to %s", len(build.Monthly), csvPath)
		}
	}
	if xlsxPath != "" {
		if err := writeFile(xlsxPath, func(w io.Writer) error {
			return table.WriteFeaturesXLSX(w, build.Monthly, build.Quarterly)
		}); err != nil {
			return fmt.Errorf("write features xlsx: %w", err)
		}
		log.Printf("features: wrote workbook %s", xlsxPath)
	}
	return nil
}

// writeFile renders into memory first so a failed render leaves no partial file.
func writeFile(path string, render func(io.Writer) error) error {
	if path == "-" {
		return render(os.Stdout)
	}
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

type InspectCmd struct {
	Location string `arg:"" optional:"" help:"Document to inspect. Defaults to the latest stored payload."`
}

func (c *InspectCmd) Run(app *App) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}

	var doc []byte
	if c.Location != "" {
		res, err := ingest.NewFetcher().Fetch(app.ctx, c.Location)
		if err != nil {
			return err
		}
		doc = res.Body
	} else {
		st, err := app.Store()
		if err != nil {
			return err
		}
		doc, err = ingest.NewPipeline(st, ingest.NewFetcher(), cfg.Filter()).LatestDocument()
		if err != nil {
			return err
		}
	}

	series, err := sdmx.ReadSeries(bytes.NewReader(doc))
	if err != nil {
		return err
	}

	filter := cfg.Filter()
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MATCH\tOBS\tFIRST\tLAST\tKEY")
	for _, s := range series {
		match := ""
		if filter.Matches(s.Key) {
			match = "*"
		}
		first, last := periodSpan(s.Observations)
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", match, len(s.Observations), first, last, sdmx.Filter(s.Key))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d series, filter %s\n", len(series), filter)
	return nil
}

func periodSpan(obs []sdmx.RawObservation) (first, last string) {
	var periods []time.Time
	for _, o := range obs {
		if t, err := quarter.ParseLabel(o.Period); err == nil {
			periods = append(periods, t)
		}
	}
	if len(periods) == 0 {
		return "-", "-"
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return quarter.Label(periods[0]), quarter.Label(periods[len(periods)-1])
}

type EvaluateCmd struct {
	Actuals  string            `help:"CSV with Month and Dwellings columns. Defaults to the stored monthly features."`
	Forecast map[string]string `short:"f" help:"Forecast sources as name=path.csv; repeatable."`
	Column   string            `help:"Forecast value column. Falls back to the last column."`
	Horizon  int               `default:"-1" help:"Months to score from the first forecast month; 0 for all, -1 for the configured value."`
	From     string            `help:"First month to score (YYYY-MM). Defaults to the first month every forecast covers."`
	Output   string            `short:"o" help:"Also write the report as CSV here."`
	Narrate  bool              `help:"Ask the language model for a written summary."`
	NoStore  bool              `name:"no-store" help:"Do not persist forecasts or the report."`
	Quarter  bool              `name:"quarterly" help:"Also score quarterly means of the scored months against the release."`
}

func (c *EvaluateCmd) Run(app *App) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}

	actualsPath := c.Actuals
	if actualsPath == "" {
		actualsPath = cfg.Evaluation.Actuals
	}

	var st *store.Store
	if !c.NoStore || actualsPath == "" {
		if st, err = app.Store(); err != nil {
			return err
		}
	}

	actual, err := loadActuals(st, cfg.Dataset, actualsPath)
	if err != nil {
		return err
	}

	paths := make(map[string]string, len(cfg.Evaluation.Forecasts)+len(c.Forecast))
	for name, path := range cfg.Evaluation.Forecasts {
		paths[name] = path
	}
	for name, path := range c.Forecast {
		paths[name] = path
	}
	if len(paths) == 0 {
		return fmt.Errorf("no forecasts given; use --forecast name=path.csv or evaluation.forecasts")
	}
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	column := c.Column
	if column == "" {
		column = cfg.Evaluation.ForecastColumn
	}

	forecasts := make(map[string][]models.Point, len(names))
	var from time.Time
	for _, name := range names {
		points, err := table.ReadPointsFile(paths[name], column)
		if err != nil {
			return fmt.Errorf("forecast %s: %w", name, err)
		}
		if len(points) == 0 {
			return fmt.Errorf("forecast %s: %w", name, models.ErrEmptySeries)
		}
		forecasts[name] = points
		if points[0].Month.After(from) {
			from = points[0].Month
		}
	}
	if c.From != "" {
		if from, err = time.Parse("2006-01", c.From); err != nil {
			return fmt.Errorf("--from: want YYYY-MM, got %q", c.From)
		}
	}

	horizon := c.Horizon
	if horizon < 0 {
		horizon = cfg.Evaluation.Horizon
	}

	window := accuracy.Window(actual, from, time.Time{})
	var sources []accuracy.Source
	var actualValues []float64
	var months []time.Time
	for _, name := range names {
		a, p, m, err := accuracy.Align(window, forecasts[name], horizon)
		if err != nil {
			return fmt.Errorf("align %s: %w", name, err)
		}
		actualValues, months = a, m
		sources = append(sources, accuracy.Source{Name: name, Predicted: p})
	}

	rows, err := accuracy.EvaluateAll(app.ctx, actualValues, sources)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("all", "error").Inc()
		return err
	}
	for _, r := range rows {
		metrics.EvaluationsTotal.WithLabelValues(r.Source, "ok").Inc()
	}

	log.Printf("evaluate: scored %d sources over %s..%s", len(rows),
		months[0].Format("2006-01"), months[len(months)-1].Format("2006-01"))
	if err := table.WriteEvaluationText(os.Stdout, rows); err != nil {
		return err
	}

	if c.Quarter {
		qrows, err := quarterlyScores(app.ctx, months, actualValues, sources)
		if err != nil {
			return fmt.Errorf("quarterly scores: %w", err)
		}
		fmt.Println("\nQuarterly means")
		if err := table.WriteEvaluationText(os.Stdout, qrows); err != nil {
			return err
		}
	}

	if c.Output != "" {
		if err := writeFile(c.Output, func(w io.Writer) error {
			return table.WriteEvaluationCSV(w, rows)
		}); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	if !c.NoStore {
		for _, name := range names {
			if err := st.UpsertForecastPoints(name, forecasts[name]); err != nil {
				return fmt.Errorf("store forecast %s: %w", name, err)
			}
		}
		run := store.EvaluationRun{
			RunID:      uuid.NewString(),
			Horizon:    len(months),
			FirstMonth: months[0],
			LastMonth:  months[len(months)-1],
			Rows:       rows,
		}
		if err := st.InsertEvaluation(run); err != nil {
			return fmt.Errorf("store evaluation: %w", err)
		}
		log.Printf("evaluate: stored run %s", run.RunID)
	}

	if c.Narrate || cfg.Narrative.Enabled {
		narrator, err := report.NewNarrator(cfg.Narrative.APIKey, cfg.Narrative.Model)
		if err != nil {
			return fmt.Errorf("narrative: %w", err)
		}
		text, err := narrator.Narrate(app.ctx, rows, len(months))
		if err != nil {
			return err
		}
		fmt.Printf("\n%s\n", text)
	}
	return nil
}

// quarterlyScores averages the aligned monthly values per quarter and scores
// each source on those means, matching the granularity of the release.
func quarterlyScores(ctx context.Context, months []time.Time, actual []float64, sources []accuracy.Source) ([]models.EvaluationRow, error) {
	toPoints := func(values []float64) []models.Point {
		pts := make([]models.Point, len(values))
		for i, v := range values {
			pts[i] = models.Point{Month: months[i], Value: v}
		}
		return pts
	}
	values := func(pts []models.Point) []float64 {
		out := make([]float64, len(pts))
		for i, p := range pts {
			out[i] = p.Value
		}
		return out
	}

	qActual := values(features.QuarterlyPointMeans(toPoints(actual)))
	qSources := make([]accuracy.Source, len(sources))
	for i, src := range sources {
		qSources[i] = accuracy.Source{Name: src.Name, Predicted: values(features.QuarterlyPointMeans(toPoints(src.Predicted)))}
	}
	return accuracy.EvaluateAll(ctx, qActual, qSources)
}

func loadActuals(st *store.Store, dataset, path string) ([]models.Point, error) {
	if path != "" {
		return table.ReadPointsFile(path, table.ActualColumn)
	}
	months, err := st.GetMonthly(dataset, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load monthly features: %w", err)
	}
	points := table.MonthlyPoints(months)
	if len(points) == 0 {
		return nil, fmt.Errorf("no stored monthly features for %s; run features first", dataset)
	}
	return points, nil
}

type ServeCmd struct {
	Addr    string `help:"Listen address. Defaults to the configured address."`
	Refresh bool   `help:"Periodically re-fetch the source and rebuild the tables."`
}

func (c *ServeCmd) Run(app *App) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}
	st, err := app.Store()
	if err != nil {
		return err
	}

	addr := c.Addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	srv := api.NewServer(st, addr, cfg.Dataset)

	if c.Refresh && cfg.Source.RefreshInterval > 0 {
		p := ingest.NewPipeline(st, ingest.NewFetcher(), cfg.Filter())
		scheduler := ingest.NewScheduler(p, cfg.Source.Location(), cfg.Dataset, cfg.Source.RefreshInterval)
		scheduler.OnRefresh(func(*ingest.Build) { srv.InvalidateCharts() })
		go scheduler.Run(app.ctx)
	} else {
		log.Println("serve: refresh disabled")
	}

	log.Printf("serve: listening on %s", addr)
	return srv.Run(app.ctx)
}

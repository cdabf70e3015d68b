package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/permitcast/internal/config"
	"github.com/lox/permitcast/internal/metrics"
	"github.com/lox/permitcast/internal/store"
)

type CLI struct {
	EnvFile         kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	DB              string                   `name:"db" default:"data/permitcast.db" env:"PERMITCAST_DB" help:"Path to SQLite database."`
	Config          string                   `name:"config" short:"c" env:"PERMITCAST_CONFIG" help:"YAML configuration file."`
	MetricsTextfile string                   `name:"metrics-textfile" env:"PERMITCAST_METRICS_TEXTFILE" help:"Write Prometheus metrics to this file after batch commands."`

	Fetch    FetchCmd    `cmd:"" help:"Download the SDMX document and store it."`
	Features FeaturesCmd `cmd:"" help:"Build the quarterly and monthly permit feature tables."`
	Inspect  InspectCmd  `cmd:"" help:"List the series in an SDMX document."`
	Evaluate EvaluateCmd `cmd:"" help:"Score forecasts against actual monthly permits."`
	Serve    ServeCmd    `cmd:"" help:"Serve stored tables and reports over HTTP."`
}

// App carries the shared state command Run methods receive.
type App struct {
	ctx   context.Context
	cli   *CLI
	cfg   *config.Config
	db    *sql.DB
	store *store.Store
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("permitcast"),
		kong.Description("Building permit features from ISTAT SDMX data, and forecast accuracy scoring."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &App{ctx: ctx, cli: &cli}
	defer app.Close()

	err := kctx.Run(app)
	if err == nil && cli.MetricsTextfile != "" && kctx.Command() != "serve" {
		if werr := metrics.WriteTextfile(cli.MetricsTextfile); werr != nil {
			log.Printf("metrics: write %s: %v", cli.MetricsTextfile, werr)
		}
	}
	kctx.FatalIfErrorf(err)
}

// Config loads and caches the YAML configuration.
func (a *App) Config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.cli.Config)
	if err != nil {
		return nil, err
	}
	a.cfg = &cfg
	return a.cfg, nil
}

// Store opens and migrates the database on first use.
func (a *App) Store() (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	if dir := filepath.Dir(a.cli.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", a.cli.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.db = db
	a.store = st
	return st, nil
}

func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

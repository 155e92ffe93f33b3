// Command ingest registers delimited-text checklist exports, ingests them
// into PostgreSQL and serves the admin API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/JonMunkholm/checkin/internal/config"
	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/ingest"
	"github.com/JonMunkholm/checkin/internal/lifecycle"
	"github.com/JonMunkholm/checkin/internal/logging"
	"github.com/JonMunkholm/checkin/internal/store"
	"github.com/JonMunkholm/checkin/internal/web"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "ingest",
		Usage:  "Resumable parallel ingestion of checklist exports",
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the admin HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "migrate",
						Usage: "Apply database migrations before serving",
					},
				},
			},
			{
				Name:   "register",
				Usage:  "Register a file for ingestion",
				Action: registerCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "path",
						Aliases:  []string{"p"},
						Usage:    "Path to the delimited-text file",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "checklist",
						Usage:    "Checklist id the rows answer",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "inspection",
						Usage:    "Inspection id the rows belong to",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "User id recorded on every row",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Display name (defaults to the file's base name)",
					},
					&cli.BoolFlag{
						Name:  "run",
						Usage: "Ingest the file right after registering it",
					},
				},
			},
			{
				Name:      "run",
				Usage:     "Ingest registered files",
				ArgsUsage: "FILE_ID...",
				Action:    runCommand,
			},
			{
				Name:      "status",
				Usage:     "Show one file, or list files",
				ArgsUsage: "[FILE_ID]",
				Action:    statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only list files in this status (Pending, Processing, Completed, Failed)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of files to list",
						Value: 50,
					},
				},
			},
			{
				Name:      "retry",
				Usage:     "Return failed files to Pending",
				ArgsUsage: "FILE_ID...",
				Action:    retryCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations",
				Action: migrateCommand,
			},
		},
	}
}

// setup loads .env and the configuration, then installs the logger.
func setup(c *cli.Context) error {
	// Overload so a local .env wins over the shell environment.
	if err := godotenv.Overload(); err == nil {
		slog.Debug("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	c.App.Metadata = map[string]any{configKey: cfg}
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if c.Bool("migrate") {
		if err := store.Migrate(ctx, svc.pool); err != nil {
			return err
		}
	}

	limiter := ingest.NewRunLimiter(cfg.Ingest.MaxConcurrentFiles, cfg.Ingest.MaxWait)
	server := web.NewServer(cfg.Server, svc.store, svc.engine, limiter, slog.Default())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...", "active_runs", limiter.Active())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func registerCommand(c *cli.Context) error {
	cfg := configFrom(c)
	ctx := c.Context

	var (
		svc *services
		err error
	)
	if c.Bool("run") {
		svc, err = open(ctx, cfg)
	} else {
		svc, err = openStore(ctx, cfg)
	}
	if err != nil {
		return err
	}
	defer svc.Close()

	rec, err := ingest.Register(ctx, svc.store, detector(cfg), core.FileUpload{
		FilePath:     c.String("path"),
		FileName:     c.String("name"),
		ChecklistID:  c.String("checklist"),
		InspectionID: c.String("inspection"),
		UserID:       c.String("user"),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}
	if err := printJSON(c.App.Writer, rec); err != nil {
		return err
	}

	if !c.Bool("run") {
		return nil
	}
	return runFiles(c, svc, []string{rec.ID})
}

func runCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file id is required")
	}

	svc, err := open(c.Context, configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	return runFiles(c, svc, c.Args().Slice())
}

// runFiles ingests ids one after another. Every file is attempted; the
// errors are joined.
func runFiles(c *cli.Context, svc *services, ids []string) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var errs []error
	for _, id := range ids {
		res, err := svc.engine.Run(ctx, id)
		if perr := printJSON(c.App.Writer, res); perr != nil {
			return perr
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %s", id, core.FailureMessage(err)))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func statusCommand(c *cli.Context) error {
	if c.NArg() > 1 {
		return fmt.Errorf("at most one file id may be given")
	}
	status := core.Status(c.String("status"))
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}

	svc, err := openStore(c.Context, configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	if id := c.Args().First(); id != "" {
		rec, err := svc.store.GetFile(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, rec)
	}

	files, err := svc.store.ListFiles(c.Context, status, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, files)
}

func retryCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file id is required")
	}

	svc, err := openStore(c.Context, configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	machine := lifecycle.New(svc.store)
	var errs []error
	for _, id := range c.Args().Slice() {
		rec, err := machine.Retry(c.Context, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("file returned to pending", "file_id", rec.ID, "processed_rows", rec.ProcessedRows)
	}
	return errors.Join(errs...)
}

func migrateCommand(c *cli.Context) error {
	pool, err := openPool(c.Context, configFrom(c))
	if err != nil {
		return err
	}
	defer pool.Close()

	return store.Migrate(c.Context, pool)
}

// ///////////////////////////////////////////////////////////////////////////
//
// # DVV - Data Vault Validator
//
// Copyright (C) 2024 - 2026, the Data Vault Validation Tool authors
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package cli

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/db/warehouse"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/internal/core"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/common"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/config"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/logger"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/runstore"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

//go:embed default_config.yaml
var defaultConfigYAML string

func SetupCLI() *cli.App {
	validateFlags := []cli.Flag{
		&cli.IntFlag{
			Name:    "concurrency-factor",
			Aliases: []string{"c"},
			Usage:   "Number of entities validated concurrently (1-10, 0 uses the configured value)",
			Value:   0,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Report output: json, html (json plus an HTML page), or none",
			Value:   "json",
		},
		&cli.StringFlag{
			Name:    "history-db",
			Aliases: []string{"H"},
			Usage:   "Record the run in a sqlite history database at this path",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Whether to suppress progress output",
			Value:   false,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
			Value:   false,
		},
	}

	configInitFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "Where to write the config file (default: ./dvv.yaml)",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Overwrite the config file if it already exists",
		},
		&cli.BoolFlag{
			Name:    "stdout",
			Aliases: []string{"z"},
			Usage:   "Print the config to stdout instead of writing a file",
		},
	}

	app := &cli.App{
		Name:  "dvv",
		Usage: "DVV - Data Vault Validator",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Manage DVV configuration files",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Create a default dvv.yaml file",
						Flags:  configInitFlags,
						Action: ConfigInitCLI,
					},
				},
			},
			{
				Name:      "validate",
				Usage:     "Reconcile configured entities across source, vault and bizview layers",
				ArgsUsage: "[entity]",
				Description: "Compares source tables against their data vault hubs, satellites " +
					"and business views, classifying any gaps it finds. With no argument all " +
					"configured entities are validated; name a source table to validate one.",
				Flags:  validateFlags,
				Action: ValidateCLI,
				Before: func(ctx *cli.Context) error {
					if ctx.Bool("debug") {
						logger.SetLevel(log.DebugLevel)
					} else {
						logger.SetLevel(log.InfoLevel)
					}
					return nil
				},
			},
			{
				Name:  "history",
				Usage: "List recorded validation runs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "history-db",
						Aliases: []string{"H"},
						Usage:   "Path to the sqlite history database",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Number of runs to show",
						Value:   10,
					},
				},
				Action: HistoryCLI,
			},
		},
	}

	return app
}

func ValidateCLI(ctx *cli.Context) error {
	if ctx.Args().Len() > 1 {
		return fmt.Errorf("unexpected arguments for validate (usage: [entity])")
	}

	output := strings.ToLower(ctx.String("output"))
	if output != "json" && output != "html" && output != "none" {
		return fmt.Errorf("invalid output format %q: must be json, html or none", output)
	}

	runCtx := context.Background()

	pool, err := warehouse.NewPool(runCtx, config.Cfg.Warehouse)
	if err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	defer pool.Close()

	task := core.NewValidationTask(&warehouse.PoolExecutor{Pool: pool}, config.Cfg.Entities, config.Cfg)
	task.QuietMode = ctx.Bool("quiet")
	task.EntityFilter = ctx.Args().First()
	if c := ctx.Int("concurrency-factor"); c > 0 {
		task.ConcurrencyFactor = c
	}

	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	recorder, err := runstore.NewRecorder(nil, ctx.String("history-db"))
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer recorder.Close()

	if err := recorder.Create(runstore.Record{
		RunID:       task.RunID,
		Status:      runstore.StatusRunning,
		EntityCount: len(task.Entities),
		StartedAt:   time.Now(),
	}); err != nil {
		logger.Warn("failed to record run start: %v", err)
	}

	summary, err := task.ExecuteTask(runCtx)
	if err != nil {
		if uerr := recorder.Update(runstore.Record{
			RunID:      task.RunID,
			Status:     runstore.StatusFailed,
			FinishedAt: time.Now(),
		}); uerr != nil {
			logger.Warn("failed to record run failure: %v", uerr)
		}
		return fmt.Errorf("error during validation: %w", err)
	}

	core.LogRunSummary(summary.Reports)

	var reportPath string
	if output == "json" || output == "html" {
		reportPath, err = core.WriteRunReport(summary)
		if err != nil {
			return err
		}
		logger.Info("Wrote validation report to %s", reportPath)
	}
	if output == "html" {
		htmlPath, err := common.WriteHTMLRunReport(summary, reportPath)
		if err != nil {
			return err
		}
		logger.Info("Wrote HTML report to %s", htmlPath)
	}

	if err := recorder.Update(runstore.Record{
		RunID:           task.RunID,
		Status:          runstore.StatusCompleted,
		EntityCount:     len(task.Entities),
		EntitiesFlagged: countFlagged(summary.Reports),
		ReportPath:      reportPath,
		FinishedAt:      summary.EndTime,
		TimeTaken:       summary.EndTime.Sub(summary.StartTime).Seconds(),
	}); err != nil {
		logger.Warn("failed to record run completion: %v", err)
	}
	return nil
}

func countFlagged(reports []types.DiscrepancyReport) int {
	flagged := 0
	for _, r := range reports {
		if r.SourceToVaultDifferences > 0 || r.BizviewMissingRecords > 0 ||
			strings.HasPrefix(r.ValidationMessage, "validation failed") {
			flagged++
		}
	}
	return flagged
}

func HistoryCLI(ctx *cli.Context) error {
	store, err := runstore.New(ctx.String("history-db"))
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer store.Close()

	recs, err := store.ListRecent(ctx.Int("limit"))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	for _, rec := range recs {
		line := fmt.Sprintf("%s  %-9s  entities=%d flagged=%d",
			rec.StartedAt.Format("2006-01-02 15:04:05"), rec.Status, rec.EntityCount, rec.EntitiesFlagged)
		if rec.ReportPath != "" {
			line += "  report=" + rec.ReportPath
		}
		fmt.Println(line)
	}
	return nil
}

func ConfigInitCLI(ctx *cli.Context) error {
	outputPath := ctx.String("path")
	if outputPath == "" {
		outputPath = "dvv.yaml"
	}

	if ctx.Bool("stdout") || outputPath == "-" {
		fmt.Println(defaultConfigYAML)
		return nil
	}

	if !ctx.Bool("force") {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", outputPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to verify existing config file at %s: %w", outputPath, err)
		}
	}

	dir := filepath.Dir(outputPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config file to %s: %w", outputPath, err)
	}

	fmt.Printf("Wrote config file to %s\n", outputPath)
	return nil
}

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

package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/db/queries"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/db/warehouse"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/common"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/config"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/logger"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

// ValidationTask reconciles a configured list of entities against the
// warehouse. Entities are independent: each one's evaluation owns its
// state, and one entity's failure never blocks another's. The task always
// emits one report row per configured entity.
type ValidationTask struct {
	RunID    string
	Entities []types.EntityConfig
	Exec     warehouse.Executor

	ConcurrencyFactor int
	SampleLimit       int
	MaxSampleKeys     int
	MaxCandidateRows  int

	QuietMode bool

	Thresholds *ThresholdModel

	EntityFilter string
}

func NewValidationTask(exec warehouse.Executor, entities []types.EntityConfig, cfg *config.Config) *ValidationTask {
	return &ValidationTask{
		RunID:             uuid.NewString(),
		Entities:          entities,
		Exec:              exec,
		ConcurrencyFactor: cfg.Validation.ConcurrencyFactor,
		SampleLimit:       cfg.Validation.SampleLimit,
		MaxSampleKeys:     cfg.Validation.MaxSampleKeys,
		MaxCandidateRows:  cfg.Validation.MaxCandidateRows,
		Thresholds:        NewThresholdModel(cfg.Thresholds),
	}
}

func (t *ValidationTask) Validate() error {
	if t.Exec == nil {
		return fmt.Errorf("a query executor is required")
	}
	if len(t.Entities) == 0 {
		return fmt.Errorf("no entities configured")
	}
	if t.ConcurrencyFactor < 1 || t.ConcurrencyFactor > 10 {
		return fmt.Errorf("invalid value range for concurrency_factor, must be between 1 and 10")
	}
	if t.Thresholds == nil {
		t.Thresholds = NewThresholdModel(config.DefaultThresholds())
	}
	if t.SampleLimit < 1 {
		t.SampleLimit = config.DefaultValidation().SampleLimit
	}
	if t.MaxSampleKeys < 1 {
		t.MaxSampleKeys = config.DefaultValidation().MaxSampleKeys
	}
	if t.MaxCandidateRows < 1 {
		t.MaxCandidateRows = config.DefaultValidation().MaxCandidateRows
	}

	if t.EntityFilter != "" {
		var filtered []types.EntityConfig
		for _, e := range t.Entities {
			if e.TableName() == t.EntityFilter {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			return fmt.Errorf("entity %q not found in configuration", t.EntityFilter)
		}
		t.Entities = filtered
	}
	return nil
}

// ExecuteTask runs the reconciliation for every entity with a bounded
// worker pool and returns one report row per entity, in config order.
func (t *ValidationTask) ExecuteTask(ctx context.Context) (types.RunSummary, error) {
	summary := types.RunSummary{
		RunID:     t.RunID,
		StartTime: time.Now(),
	}

	if err := t.Validate(); err != nil {
		return summary, err
	}

	logger.Info("Starting validation run %s for %d entities (workers=%d)",
		t.RunID, len(t.Entities), t.ConcurrencyFactor)

	reports := make([]types.DiscrepancyReport, len(t.Entities))
	sem := make(chan struct{}, t.ConcurrencyFactor)
	var wg sync.WaitGroup

	var bar *mpb.Bar
	var progress *mpb.Progress
	if !t.QuietMode {
		progress = mpb.New()
		bar = progress.AddBar(int64(len(t.Entities)),
			mpb.PrependDecorators(
				decor.Name("Validating: ", decor.WC{W: 12}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)
	}

	for i := range t.Entities {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			reports[idx] = t.runEntity(ctx, &t.Entities[idx])
			if bar != nil {
				bar.Increment()
			}
		}(i)
	}
	wg.Wait()
	if progress != nil {
		progress.Wait()
	}

	summary.EndTime = time.Now()
	summary.Reports = reports
	return summary, nil
}

func (t *ValidationTask) errorReport(cfg *types.EntityConfig, stage string, err error) types.DiscrepancyReport {
	ent := logger.Entity(cfg.TableName())
	ent.Warnf("failed at %s: %s", stage, warehouse.FailureDetail(err))

	var qerr *types.QueryError
	if errors.As(err, &qerr) && qerr.SQL != "" {
		ent.Debugf("failing query: %s", common.SafeCut(strings.Join(strings.Fields(qerr.SQL), " "), 300))
	}
	return buildReport(reportInputs{Cfg: cfg, Stage: stage, Err: err})
}

// runEntity executes the full pipeline for one entity: plan, probe, counts,
// anti-join, classification, bizview reconciliation, report. Any stage
// failure turns into an error row; it never propagates to other entities.
func (t *ValidationTask) runEntity(ctx context.Context, cfg *types.EntityConfig) types.DiscrepancyReport {
	if err := cfg.Validate(); err != nil {
		return t.errorReport(cfg, "configuration", err)
	}

	plan, err := BuildQueryPlan(cfg)
	if err != nil {
		return t.errorReport(cfg, "planning", err)
	}

	if err := t.Exec.Probe(ctx, plan.Probe.SQL); err != nil {
		return t.errorReport(cfg, "source probe",
			&types.QueryError{Entity: cfg.TableName(), Stage: "source probe", SQL: plan.Probe.SQL, Err: err})
	}

	counts, err := t.runCounts(ctx, cfg, plan)
	if err != nil {
		return t.errorReport(cfg, "counts", err)
	}

	deleted := counts.source - counts.nonDeleted
	if deleted < 0 {
		deleted = 0
	}

	comparison, err := t.compareSourceToVault(ctx, cfg, plan, counts)
	if err != nil {
		return t.errorReport(cfg, "source-to-vault comparison", err)
	}

	bizview, bizviewMissing, err := reconcileBizview(ctx, t.Exec, cfg, t.Thresholds, plan, bizviewInputs{
		HubCount:         counts.hub,
		SatelliteCount:   counts.satellite,
		SourceNonDeleted: counts.nonDeleted,
		BizviewCount:     counts.bizview,
	}, t.MaxSampleKeys)
	if err != nil {
		return t.errorReport(cfg, "bizview reconciliation", err)
	}

	return buildReport(reportInputs{
		Cfg:                   cfg,
		SourceCount:           &counts.source,
		SourceCountNonDeleted: &counts.nonDeleted,
		HubCount:              &counts.hub,
		SatelliteCount:        &counts.satellite,
		BizviewCount:          &counts.bizview,
		Comparison:            comparison,
		Bizview:               bizview,
		BizviewMissing:        bizviewMissing,
		Deleted:               deleted,
	})
}

type entityCounts struct {
	source     int64
	nonDeleted int64
	hub        int64
	satellite  int64
	bizview    int64
}

// runCounts executes all count queries for an entity concurrently; they
// have no dependency on one another.
func (t *ValidationTask) runCounts(ctx context.Context, cfg *types.EntityConfig, plan *types.QueryPlan) (*entityCounts, error) {
	counts := &entityCounts{}

	type countJob struct {
		query types.Query
		dest  *int64
		add   bool
	}

	jobs := []countJob{
		{query: plan.SourceCount, dest: &counts.source},
		{query: plan.SourceCountNonDeleted, dest: &counts.nonDeleted},
		{query: plan.SatelliteCount, dest: &counts.satellite},
	}
	for _, hq := range plan.HubCounts {
		jobs = append(jobs, countJob{query: hq, dest: &counts.hub, add: true})
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	// The bizview count resolves its strategy at run time, so it runs as
	// its own job instead of a fixed query.
	if plan.BizviewCount.SQL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			query, n, err := t.resolveBizviewCount(ctx, cfg, plan)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			counts.bizview = n
			logger.Entity(cfg.TableName()).Debugf("%s = %d", query.Name, n)
		}()
	}

	for _, job := range jobs {
		wg.Add(1)
		go func(j countJob) {
			defer wg.Done()
			n, err := t.Exec.Scalar(ctx, j.query.SQL)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = &types.QueryError{Entity: cfg.TableName(), Stage: j.query.Name, SQL: j.query.SQL, Err: err}
				}
				return
			}
			if j.add {
				*j.dest += n
			} else {
				*j.dest = n
			}
			logger.Entity(cfg.TableName()).Debugf("%s = %d", j.query.Name, n)
		}(job)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return counts, nil
}

// resolveBizviewCount picks the bizview count strategy: the distinct-key
// count when a key is configured, otherwise the non-deleted count when the
// deleted flag column exists in the bizview, otherwise a plain count. A
// failed column check falls back rather than failing the entity.
func (t *ValidationTask) resolveBizviewCount(
	ctx context.Context,
	cfg *types.EntityConfig,
	plan *types.QueryPlan,
) (types.Query, int64, error) {
	query := plan.BizviewCount
	if plan.BizviewDeletedCheck.SQL != "" {
		exists, err := t.Exec.Scalar(ctx, plan.BizviewDeletedCheck.SQL)
		switch {
		case err != nil:
			logger.Entity(cfg.TableName()).Debugf("deleted column check failed, using plain count: %s",
				warehouse.FailureDetail(err))
		case exists > 0:
			query = plan.BizviewCountNonDeleted
		}
	}

	n, err := t.Exec.Scalar(ctx, query.SQL)
	if err != nil {
		return query, 0, &types.QueryError{Entity: cfg.TableName(), Stage: query.Name, SQL: query.SQL, Err: err}
	}
	return query, n, nil
}

// compareSourceToVault runs the anti-join, partitions the candidates with
// the key-only re-check and samples attribute diffs for the report.
func (t *ValidationTask) compareSourceToVault(
	ctx context.Context,
	cfg *types.EntityConfig,
	plan *types.QueryPlan,
	counts *entityCounts,
) (*types.ComparisonResult, error) {
	countSQL, err := queries.WrapCount(plan.AntiJoin.SQL)
	if err != nil {
		return nil, err
	}
	rawDiffCount, err := t.Exec.Scalar(ctx, countSQL)
	if err != nil {
		return nil, &types.QueryError{Entity: cfg.TableName(), Stage: "anti-join count", SQL: countSQL, Err: err}
	}

	result := &types.ComparisonResult{
		SourceCount: counts.nonDeleted,
		VaultCount:  counts.satellite,
	}
	if rawDiffCount == 0 {
		return result, nil
	}

	if rawDiffCount > int64(t.MaxCandidateRows) {
		logger.Entity(cfg.TableName()).Debugf("anti-join yielded %d rows, classifying a sample of %d",
			rawDiffCount, t.MaxCandidateRows)
	}

	// Ordering by key keeps the limited candidate set and the key-only
	// re-check aligned when the anti-join yields more rows than the cap.
	keyCols := candidateKeyColumns(cfg)
	rowsSQL, err := queries.WrapLimit(plan.AntiJoin.SQL, t.MaxCandidateRows, keyCols...)
	if err != nil {
		return nil, err
	}
	rows, err := t.Exec.QueryRows(ctx, rowsSQL)
	if err != nil {
		return nil, &types.QueryError{Entity: cfg.TableName(), Stage: "anti-join", SQL: rowsSQL, Err: err}
	}

	candidates := make([]string, 0, len(rows))
	for _, row := range rows {
		parts := make([]any, len(keyCols))
		for i, col := range keyCols {
			parts[i] = row[col]
		}
		candidates = append(candidates, common.StringifyKey(parts))
	}

	// The key-only re-check depends on the anti-join output and must run
	// after it.
	keyOnlySQL, err := queries.WrapLimit(plan.KeyOnly.SQL, t.MaxCandidateRows, keyCols...)
	if err != nil {
		return nil, err
	}
	trueMissingKeys, err := t.Exec.QueryKeys(ctx, keyOnlySQL)
	if err != nil {
		return nil, &types.QueryError{Entity: cfg.TableName(), Stage: "key-only validation", SQL: keyOnlySQL, Err: err}
	}

	classified := classifyCandidates(candidates, trueMissingKeys)
	classified.SourceCount = counts.nonDeleted
	classified.VaultCount = counts.satellite

	samples, err := sampleAttributeDiffs(ctx, t.Exec, cfg, classified.RepresentationKeys, t.MaxSampleKeys, t.SampleLimit)
	if err != nil {
		// A failed sample fetch downgrades the evidence, not the verdict.
		logger.Entity(cfg.TableName()).Warnf("attribute sampling failed: %s", warehouse.FailureDetail(err))
	} else {
		classified.Samples = samples
	}

	return classified, nil
}

// RunValidation is the library entry point: run every configured entity
// against the injected executor and return the report rows.
func RunValidation(ctx context.Context, exec warehouse.Executor, entities []types.EntityConfig, cfg *config.Config) (types.RunSummary, error) {
	task := NewValidationTask(exec, entities, cfg)
	return task.ExecuteTask(ctx)
}

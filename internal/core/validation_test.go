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
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/config"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

// mockExecutor dispatches on SQL substrings. The longest matching key wins,
// so a plain-count key does not swallow a filtered-count query.
type mockExecutor struct {
	mu         sync.Mutex
	scalars    map[string]int64
	keyResults map[string][]string
	rowResults map[string][][]map[string]any
	errs       map[string]error
	queries    []string
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		scalars:    make(map[string]int64),
		keyResults: make(map[string][]string),
		rowResults: make(map[string][][]map[string]any),
		errs:       make(map[string]error),
	}
}

func matchLongest[T any](m map[string]T, sql string) (T, bool) {
	var keys []string
	for k := range m {
		if strings.Contains(sql, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		var zero T
		return zero, false
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return m[keys[0]], true
}

func (m *mockExecutor) record(sql string) error {
	m.mu.Lock()
	m.queries = append(m.queries, sql)
	m.mu.Unlock()
	if err, ok := matchLongest(m.errs, sql); ok {
		return err
	}
	return nil
}

func (m *mockExecutor) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

func (m *mockExecutor) Scalar(ctx context.Context, sql string) (int64, error) {
	if err := m.record(sql); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := matchLongest(m.scalars, sql); ok {
		return v, nil
	}
	return 0, nil
}

func (m *mockExecutor) QueryKeys(ctx context.Context, sql string) ([]string, error) {
	if err := m.record(sql); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := matchLongest(m.keyResults, sql); ok {
		return v, nil
	}
	return nil, nil
}

func (m *mockExecutor) QueryRows(ctx context.Context, sql string) ([]map[string]any, error) {
	if err := m.record(sql); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched string
	for k := range m.rowResults {
		if strings.Contains(sql, k) && len(m.rowResults[k]) > 0 {
			if len(k) > len(matched) {
				matched = k
			}
		}
	}
	if matched == "" {
		return nil, nil
	}
	queue := m.rowResults[matched]
	rows := queue[0]
	m.rowResults[matched] = queue[1:]
	return rows, nil
}

func (m *mockExecutor) Probe(ctx context.Context, sql string) error {
	return m.record(sql)
}

func customerEntity() types.EntityConfig {
	return types.EntityConfig{
		SourceTable:      "raw.crm.customers",
		SourceKey:        "customer_id",
		HubTable:         "vault.hub_customer",
		HubKey:           "customer_id",
		SatelliteTable:   "vault.sat_customer",
		SatelliteHashKey: "customer_hk",
		BizviewTable:     "mart.dim_customer",
		BizviewKey:       "customer_id",
		DeletedColumn:    "is_deleted",
		CompareColumns:   []string{"customer_name"},
	}
}

// setCounts wires the five scalar count queries plus the anti-join count.
func setCounts(exec *mockExecutor, source, nonDeleted, hub, satellite, bizview, antiJoin int64) {
	exec.scalars["SELECT COUNT(*) FROM raw.crm.customers"] = source
	exec.scalars["SELECT COUNT(*) FROM raw.crm.customers WHERE is_deleted = FALSE"] = nonDeleted
	exec.scalars["SELECT COUNT(*) FROM vault.hub_customer"] = hub
	exec.scalars["COUNT(DISTINCT customer_hk) FROM vault.sat_customer"] = satellite
	exec.scalars["COUNT(DISTINCT customer_id) FROM mart.dim_customer"] = bizview
	exec.scalars["SELECT COUNT(*) FROM ("] = antiJoin
}

func newTestTask(exec *mockExecutor, entities ...types.EntityConfig) *ValidationTask {
	cfg := &config.Config{
		Validation: config.DefaultValidation(),
		Thresholds: config.DefaultThresholds(),
	}
	task := NewValidationTask(exec, entities, cfg)
	task.QuietMode = true
	return task
}

func TestValidationCleanEntity(t *testing.T) {
	exec := newMockExecutor()
	setCounts(exec, 1_000, 1_000, 1_000, 1_000, 1_000, 0)

	task := newTestTask(exec, customerEntity())
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Reports, 1)

	r := summary.Reports[0]
	require.Equal(t, "customers", r.TableName)
	require.Equal(t, "no discrepancies found", r.ValidationMessage)
	require.Zero(t, r.SourceToVaultDifferences)
	require.Zero(t, r.DataRepresentationDifferences)
	require.Zero(t, r.BizviewMissingRecords)
	require.Equal(t, int64(1_000), *r.SourceCount)
	require.Equal(t, int64(1_000), *r.SatelliteCount)
}

func TestValidationTrueMissingRecords(t *testing.T) {
	exec := newMockExecutor()
	setCounts(exec, 1_000, 1_000, 997, 997, 997, 3)
	exec.rowResults["EXCEPT"] = [][]map[string]any{
		{
			{"customer_id": "k1", "customer_name": "a"},
			{"customer_id": "k2", "customer_name": "b"},
			{"customer_id": "k3", "customer_name": "c"},
		},
	}
	// All three candidates fail the key-only re-check too: genuinely absent.
	exec.keyResults["SELECT customer_id FROM vault.hub_customer"] = []string{"k1", "k2", "k3"}

	task := newTestTask(exec, customerEntity())
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)

	r := summary.Reports[0]
	require.Equal(t, int64(3), r.SourceToVaultDifferences)
	require.Zero(t, r.DataRepresentationDifferences)
	require.Contains(t, r.ValidationMessage, "3 records missing between source and vault")
	require.Contains(t, r.DataDiscrepancyDetails, "check ETL load job for entity customers")
}

func TestValidationRepresentationDifferences(t *testing.T) {
	exec := newMockExecutor()
	setCounts(exec, 1_000, 1_000, 1_000, 1_000, 1_000, 2)
	exec.rowResults["EXCEPT"] = [][]map[string]any{
		{
			{"customer_id": "k1", "customer_name": "Ada "},
			{"customer_id": "k2", "customer_name": "42.0"},
		},
	}
	// Key-only comes back empty: every key resolves, so the anti-join hits
	// were representation differences, not loss.
	exec.rowResults["IN ("] = [][]map[string]any{
		{
			{"customer_id": "k1", "customer_name": "Ada "},
			{"customer_id": "k2", "customer_name": "42.0"},
		},
		{
			{"customer_id": "k1", "customer_name": "Ada"},
			{"customer_id": "k2", "customer_name": "42"},
		},
	}

	task := newTestTask(exec, customerEntity())
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)

	r := summary.Reports[0]
	require.Zero(t, r.SourceToVaultDifferences)
	require.Equal(t, int64(2), r.DataRepresentationDifferences)
	require.Contains(t, r.ValidationMessage, "2 representation differences likely due to formatting")
	require.Contains(t, r.DataDiscrepancyDetails, "whitespace/case")
	require.Contains(t, r.DataDiscrepancyDetails, "type-coercion")
	require.Contains(t, r.DataDiscrepancyDetails, "review type/format mapping for columns: [customer_name]")
}

func TestValidationBizviewWithinTolerance(t *testing.T) {
	exec := newMockExecutor()
	// Dimension view 2% below the hub: within the 5% tolerance, reported as
	// within tolerance rather than flagged.
	setCounts(exec, 100_000, 100_000, 100_000, 100_000, 98_000, 0)

	task := newTestTask(exec, customerEntity())
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)

	r := summary.Reports[0]
	require.Zero(t, r.BizviewMissingRecords)
	require.Contains(t, r.ValidationMessage, "bizview gap of 2000 within tolerance")
	require.Contains(t, r.ValidationMessage, "role=dimension")
}

func TestValidationBizviewBeyondTolerance(t *testing.T) {
	exec := newMockExecutor()
	// 10% below the hub on a dimension view: past tolerance.
	setCounts(exec, 100_000, 100_000, 100_000, 100_000, 90_000, 0)
	exec.keyResults["FROM mart.dim_customer"] = []string{"m1", "m2"}

	task := newTestTask(exec, customerEntity())
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)

	r := summary.Reports[0]
	require.Equal(t, int64(10_000), r.BizviewMissingRecords)
	require.Contains(t, r.ValidationMessage, "10000 records missing from bizview beyond tolerance")
	require.Contains(t, r.DataDiscrepancyDetails, "m1")
}

func TestValidationSampleQueriesAreOrdered(t *testing.T) {
	exec := newMockExecutor()
	setCounts(exec, 1_000, 1_000, 997, 997, 997, 3)

	task := newTestTask(exec, customerEntity())
	_, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)

	// Both limited samples, candidate rows and the key-only re-check, must
	// order by the business key so they stay aligned past the row cap.
	var ordered int
	for _, q := range exec.queries {
		if strings.Contains(q, "ORDER BY customer_id LIMIT") {
			ordered++
		}
	}
	require.Equal(t, 2, ordered)
}

func TestValidationBizviewDeletedCountStrategy(t *testing.T) {
	entity := customerEntity()
	entity.BizviewKey = ""
	entity.BizviewTable = "wh.mart.dim_customer"

	t.Run("deleted column present", func(t *testing.T) {
		exec := newMockExecutor()
		setCounts(exec, 1_000, 1_000, 1_000, 1_000, 0, 0)
		exec.scalars["wh.INFORMATION_SCHEMA.COLUMNS"] = 1
		exec.scalars["SELECT COUNT(*) FROM wh.mart.dim_customer"] = 1_200
		exec.scalars["SELECT COUNT(*) FROM wh.mart.dim_customer WHERE is_deleted = FALSE"] = 1_000

		task := newTestTask(exec, entity)
		summary, err := task.ExecuteTask(context.Background())
		require.NoError(t, err)

		r := summary.Reports[0]
		require.Equal(t, int64(1_000), *r.BizviewCount)
		require.Zero(t, r.BizviewMissingRecords)
	})

	t.Run("deleted column absent", func(t *testing.T) {
		exec := newMockExecutor()
		setCounts(exec, 1_000, 1_000, 1_000, 1_000, 0, 0)
		exec.scalars["wh.INFORMATION_SCHEMA.COLUMNS"] = 0
		exec.scalars["SELECT COUNT(*) FROM wh.mart.dim_customer"] = 1_200

		task := newTestTask(exec, entity)
		summary, err := task.ExecuteTask(context.Background())
		require.NoError(t, err)

		// Plain count applies; a larger bizview is reported, never flagged.
		r := summary.Reports[0]
		require.Equal(t, int64(1_200), *r.BizviewCount)
		require.Zero(t, r.BizviewMissingRecords)
	})

	t.Run("column check failure falls back to plain count", func(t *testing.T) {
		exec := newMockExecutor()
		setCounts(exec, 1_000, 1_000, 1_000, 1_000, 0, 0)
		exec.errs["wh.INFORMATION_SCHEMA.COLUMNS"] = errors.New("insufficient privileges")
		exec.scalars["SELECT COUNT(*) FROM wh.mart.dim_customer"] = 1_000

		task := newTestTask(exec, entity)
		summary, err := task.ExecuteTask(context.Background())
		require.NoError(t, err)

		r := summary.Reports[0]
		require.Equal(t, int64(1_000), *r.BizviewCount)
		require.Zero(t, r.BizviewMissingRecords)
	})
}

func TestValidationDeletedRecordsTracked(t *testing.T) {
	exec := newMockExecutor()
	setCounts(exec, 1_000, 950, 950, 950, 950, 0)

	task := newTestTask(exec, customerEntity())
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)

	r := summary.Reports[0]
	require.Equal(t, int64(50), r.DeletedRecords)
	require.Contains(t, r.DataDiscrepancyDetails, "intentionally_deleted")
}

func TestValidationEntityFailureIsolation(t *testing.T) {
	exec := newMockExecutor()
	setCounts(exec, 1_000, 1_000, 1_000, 1_000, 1_000, 0)
	exec.errs["SELECT 1 FROM raw.crm.broken LIMIT 1"] = fmt.Errorf("relation does not exist")

	broken := customerEntity()
	broken.Name = "broken"
	broken.SourceTable = "raw.crm.broken"

	task := newTestTask(exec, broken, customerEntity())
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Reports, 2)

	require.Contains(t, summary.Reports[0].ValidationMessage, "validation failed at source probe")
	require.Equal(t, "no discrepancies found", summary.Reports[1].ValidationMessage)
}

func TestValidationConfigErrorProducesRow(t *testing.T) {
	exec := newMockExecutor()

	bad := customerEntity()
	bad.HubTable = ""
	bad.HubKey = ""
	bad.SatelliteHashKey = ""

	task := newTestTask(exec, bad)
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Reports, 1)
	require.Contains(t, summary.Reports[0].ValidationMessage, "validation failed at configuration")
	require.Zero(t, exec.queryCount())
}

func TestValidationReportOrderIsConfigOrder(t *testing.T) {
	exec := newMockExecutor()
	setCounts(exec, 10, 10, 10, 10, 10, 0)

	first := customerEntity()
	first.Name = "alpha"
	second := customerEntity()
	second.Name = "beta"
	third := customerEntity()
	third.Name = "gamma"

	task := newTestTask(exec, first, second, third)
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)

	var names []string
	for _, r := range summary.Reports {
		names = append(names, r.TableName)
	}
	require.Equal(t, []string{"alpha", "beta", "gamma"}, names)
}

func TestValidationEntityFilter(t *testing.T) {
	exec := newMockExecutor()
	setCounts(exec, 10, 10, 10, 10, 10, 0)

	first := customerEntity()
	first.Name = "alpha"
	second := customerEntity()
	second.Name = "beta"

	task := newTestTask(exec, first, second)
	task.EntityFilter = "beta"
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Reports, 1)
	require.Equal(t, "beta", summary.Reports[0].TableName)
}

func TestValidationUnknownEntityFilter(t *testing.T) {
	task := newTestTask(newMockExecutor(), customerEntity())
	task.EntityFilter = "nope"
	_, err := task.ExecuteTask(context.Background())
	require.ErrorContains(t, err, `entity "nope" not found`)
}

func TestValidateRejectsMissingExecutor(t *testing.T) {
	task := &ValidationTask{Entities: []types.EntityConfig{customerEntity()}, ConcurrencyFactor: 1}
	require.ErrorContains(t, task.Validate(), "executor")
}

func TestValidateRejectsBadConcurrency(t *testing.T) {
	task := newTestTask(newMockExecutor(), customerEntity())
	task.ConcurrencyFactor = 42
	require.ErrorContains(t, task.Validate(), "concurrency_factor")
}

// Running the same inputs twice yields the same report rows.
func TestValidationIdempotence(t *testing.T) {
	run := func() types.DiscrepancyReport {
		exec := newMockExecutor()
		setCounts(exec, 1_000, 1_000, 997, 997, 997, 3)
		exec.rowResults["EXCEPT"] = [][]map[string]any{
			{
				{"customer_id": "k3", "customer_name": "c"},
				{"customer_id": "k1", "customer_name": "a"},
				{"customer_id": "k2", "customer_name": "b"},
			},
		}
		exec.keyResults["SELECT customer_id FROM vault.hub_customer"] = []string{"k2", "k1", "k3"}

		task := newTestTask(exec, customerEntity())
		summary, err := task.ExecuteTask(context.Background())
		require.NoError(t, err)
		return summary.Reports[0]
	}

	first := run()
	second := run()
	require.Equal(t, first.ValidationMessage, second.ValidationMessage)
	require.Equal(t, first.DataDiscrepancyDetails, second.DataDiscrepancyDetails)
}

func TestValidationLinkEntity(t *testing.T) {
	exec := newMockExecutor()
	exec.scalars["SELECT COUNT(*) FROM raw.crm.orders"] = 500
	exec.scalars["SELECT COUNT(*) FROM vault.hub_customer"] = 300
	exec.scalars["SELECT COUNT(*) FROM vault.hub_product"] = 200
	exec.scalars["COUNT(DISTINCT order_hk) FROM vault.sat_order"] = 498
	exec.scalars["SELECT COUNT(*) FROM ("] = 2
	exec.rowResults["EXCEPT"] = [][]map[string]any{
		{
			{"customer_id": "c1", "product_id": "p1"},
			{"customer_id": "c2", "product_id": "p9"},
		},
	}
	// One combination resolves fully once the satellite join is dropped;
	// the other is missing a hub member and stays truly missing.
	exec.keyResults["FROM vault.link_order"] = []string{"c2||p9"}

	link := types.EntityConfig{
		SourceTable:       "raw.crm.orders",
		HubTables:         []string{"vault.hub_customer", "vault.hub_product"},
		HubKeys:           []string{"customer_id", "product_id"},
		SatelliteHashKeys: []string{"customer_hk", "product_hk"},
		LinkTable:         "vault.link_order",
		LinkHashKey:       "order_hk",
		SatelliteTable:    "vault.sat_order",
	}

	task := newTestTask(exec, link)
	summary, err := task.ExecuteTask(context.Background())
	require.NoError(t, err)

	r := summary.Reports[0]
	require.Equal(t, int64(1), r.SourceToVaultDifferences)
	require.Equal(t, int64(1), r.DataRepresentationDifferences)
	require.Contains(t, r.DataDiscrepancyDetails, "c2||p9")
}

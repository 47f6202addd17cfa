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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

func TestInferBizviewRole(t *testing.T) {
	tests := []struct {
		name       string
		table      string
		override   string
		wantRole   types.ViewRole
		wantDirect bool
	}{
		{"dim prefix", "mart.dim_customer", "", types.RoleDimension, true},
		{"dimension prefix", "mart.dimension_region", "", types.RoleDimension, true},
		{"fact prefix", "mart.fact_sales", "", types.RoleFact, false},
		{"bridge prefix", "mart.bridge_order_item", "", types.RoleFact, false},
		{"link prefix", "mart.link_customer_order", "", types.RoleFact, false},
		{"current suffix", "mart.customer_current", "", types.RoleCurrent, false},
		{"active suffix", "mart.subscription_active", "", types.RoleCurrent, false},
		{"no hint", "mart.customers", "", types.RoleUnknown, false},
		{"override wins over name", "mart.dim_customer", "fact", types.RoleFact, false},
		{"override current", "mart.whatever", "current", types.RoleCurrent, false},
		{"case insensitive table name", "mart.DIM_CUSTOMER", "", types.RoleDimension, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &types.EntityConfig{BizviewTable: tt.table, BizviewRole: tt.override}
			role, direct := InferBizviewRole(cfg)
			require.Equal(t, tt.wantRole, role)
			require.Equal(t, tt.wantDirect, direct)
		})
	}
}

func bizviewTestPlan(t *testing.T, cfg *types.EntityConfig) *types.QueryPlan {
	t.Helper()
	plan, err := BuildQueryPlan(cfg)
	require.NoError(t, err)
	return plan
}

func TestReconcileBizviewSkipsWithoutTable(t *testing.T) {
	cfg := customerEntity()
	cfg.BizviewTable = ""
	cfg.BizviewKey = ""

	details, missing, err := reconcileBizview(context.Background(), newMockExecutor(), &cfg,
		defaultModel(), &types.QueryPlan{}, bizviewInputs{}, 10)
	require.NoError(t, err)
	require.Nil(t, details)
	require.Zero(t, missing)
}

func TestReconcileBizviewReferenceSelection(t *testing.T) {
	tests := []struct {
		name    string
		bizview string
		role    string
		in      bizviewInputs
		wantRef string
	}{
		{
			name:    "direct mapping uses hub",
			bizview: "mart.dim_customer",
			in:      bizviewInputs{HubCount: 100, SatelliteCount: 90, SourceNonDeleted: 95, BizviewCount: 100},
			wantRef: "hub",
		},
		{
			name:    "fact uses non-deleted source",
			bizview: "mart.fact_order",
			in:      bizviewInputs{HubCount: 100, SatelliteCount: 90, SourceNonDeleted: 95, BizviewCount: 95},
			wantRef: "source (non-deleted)",
		},
		{
			name:    "unknown role uses satellite",
			bizview: "mart.customers",
			in:      bizviewInputs{HubCount: 100, SatelliteCount: 90, SourceNonDeleted: 95, BizviewCount: 90},
			wantRef: "satellite",
		},
		{
			name:    "unknown role falls back to hub when satellite empty",
			bizview: "mart.customers",
			in:      bizviewInputs{HubCount: 100, SatelliteCount: 0, SourceNonDeleted: 95, BizviewCount: 100},
			wantRef: "hub",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := customerEntity()
			cfg.BizviewTable = tt.bizview
			cfg.BizviewRole = tt.role
			plan := bizviewTestPlan(t, &cfg)

			details, _, err := reconcileBizview(context.Background(), newMockExecutor(), &cfg,
				defaultModel(), plan, tt.in, 10)
			require.NoError(t, err)
			require.Equal(t, tt.wantRef, details.MissingRecords.Comparison.ReferenceType)
		})
	}
}

func TestReconcileBizviewWithinTolerance(t *testing.T) {
	cfg := customerEntity()
	plan := bizviewTestPlan(t, &cfg)
	exec := newMockExecutor()

	in := bizviewInputs{HubCount: 100_000, SatelliteCount: 100_000, SourceNonDeleted: 100_000, BizviewCount: 98_000}
	details, missing, err := reconcileBizview(context.Background(), exec, &cfg, defaultModel(), plan, in, 10)
	require.NoError(t, err)

	require.Zero(t, missing)
	require.Zero(t, details.MissingRecords.Count)
	require.Contains(t, details.MissingRecords.Explanation, "within the 5.0% tolerance")
	require.Equal(t, int64(2_000), details.MissingRecords.Comparison.RawDifference)
	// Within tolerance means no key sampling.
	require.Zero(t, exec.queryCount())
}

func TestReconcileBizviewBeyondTolerance(t *testing.T) {
	cfg := customerEntity()
	plan := bizviewTestPlan(t, &cfg)
	exec := newMockExecutor()
	exec.keyResults["FROM mart.dim_customer"] = []string{"m1", "m2", "m3"}

	in := bizviewInputs{HubCount: 100_000, SatelliteCount: 100_000, SourceNonDeleted: 100_000, BizviewCount: 90_000}
	details, missing, err := reconcileBizview(context.Background(), exec, &cfg, defaultModel(), plan, in, 10)
	require.NoError(t, err)

	require.Equal(t, int64(10_000), missing)
	require.Equal(t, []string{"m1", "m2", "m3"}, details.MissingRecords.SampleKeys)
	require.Contains(t, details.MissingRecords.Explanation, "fewer records than the hub")
}

func TestReconcileBizviewLargerThanReference(t *testing.T) {
	cfg := customerEntity()
	plan := bizviewTestPlan(t, &cfg)

	// A bizview larger than its reference is explained, never flagged as
	// missing records.
	in := bizviewInputs{HubCount: 1_000, SatelliteCount: 1_000, SourceNonDeleted: 1_000, BizviewCount: 5_000}
	details, missing, err := reconcileBizview(context.Background(), newMockExecutor(), &cfg, defaultModel(), plan, in, 10)
	require.NoError(t, err)

	require.Zero(t, missing)
	require.Equal(t, "bizview_larger", details.MissingRecords.Comparison.ComparisonDirection)
	require.Contains(t, details.MissingRecords.Explanation, "more records than the hub")
}

func TestReconcileBizviewEmptyAgainstPopulated(t *testing.T) {
	cfg := customerEntity()
	plan := bizviewTestPlan(t, &cfg)

	// An empty bizview is always significant even when a small reference
	// would put the gap under the floor-adjusted tolerance.
	in := bizviewInputs{HubCount: 4, SatelliteCount: 4, SourceNonDeleted: 4, BizviewCount: 0}
	details, missing, err := reconcileBizview(context.Background(), newMockExecutor(), &cfg, defaultModel(), plan, in, 0)
	require.NoError(t, err)

	require.Equal(t, int64(4), missing)
	require.Equal(t, int64(4), details.MissingRecords.Count)
}

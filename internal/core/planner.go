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
	"strings"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/db/queries"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

// BuildQueryPlan turns one entity config into the full set of typed query
// descriptors needed to reconcile it. Pure function: no query executes here.
//
// Count queries are independent of one another and of the anti-join; the
// key-only re-check depends on the anti-join's candidate output and runs
// after it.
func BuildQueryPlan(cfg *types.EntityConfig) (*types.QueryPlan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	plan := &types.QueryPlan{}

	sql, err := queries.ProbeTable(cfg.SourceTable)
	if err != nil {
		return nil, err
	}
	plan.Probe = types.Query{Name: "source_probe", Kind: types.ProbeQuery, SQL: sql}

	sql, err = queries.CountAll(cfg.SourceTable)
	if err != nil {
		return nil, err
	}
	plan.SourceCount = types.Query{Name: "source_count", Kind: types.CountQuery, SQL: sql}

	// Without a deleted flag the non-deleted count is the plain count.
	if cfg.DeletedColumn != "" {
		sql, err = queries.CountNonDeleted(cfg.SourceTable, cfg.DeletedColumn)
		if err != nil {
			return nil, err
		}
	}
	plan.SourceCountNonDeleted = types.Query{Name: "source_count_nondeleted", Kind: types.CountQuery, SQL: sql}

	for _, hub := range cfg.HubTableList() {
		sql, err = queries.CountAll(hub)
		if err != nil {
			return nil, err
		}
		plan.HubCounts = append(plan.HubCounts, types.Query{Name: "hub_count", Kind: types.CountQuery, SQL: sql})
	}

	switch {
	case cfg.Kind() == types.LinkEntity:
		sql, err = queries.CountDistinctKey(cfg.SatelliteTable, cfg.LinkHashKey)
	case cfg.SatelliteHashKey != "":
		sql, err = queries.CountDistinctKey(cfg.SatelliteTable, cfg.SatelliteHashKey)
	default:
		sql, err = queries.CountAll(cfg.SatelliteTable)
	}
	if err != nil {
		return nil, err
	}
	plan.SatelliteCount = types.Query{Name: "satellite_count", Kind: types.CountQuery, SQL: sql}

	if cfg.BizviewTable != "" {
		// Distinct non-null keys avoid counting placeholder records; plain
		// COUNT(*) is the fallback when no key is configured.
		if cfg.BizviewKey != "" {
			sql, err = queries.CountDistinctKey(cfg.BizviewTable, cfg.BizviewKey)
		} else {
			sql, err = queries.CountAll(cfg.BizviewTable)
		}
		if err != nil {
			return nil, err
		}
		plan.BizviewCount = types.Query{Name: "bizview_count", Kind: types.CountQuery, SQL: sql}

		// Without a bizview key the deleted flag is the next-best filter,
		// but only a fully qualified bizview can be checked for the column.
		if cfg.BizviewKey == "" && cfg.DeletedColumn != "" && strings.Count(cfg.BizviewTable, ".") == 2 {
			sql, err = queries.ColumnExists(cfg.BizviewTable, cfg.DeletedColumn)
			if err != nil {
				return nil, err
			}
			plan.BizviewDeletedCheck = types.Query{Name: "bizview_deleted_check", Kind: types.CountQuery, SQL: sql}

			sql, err = queries.CountNonDeleted(cfg.BizviewTable, cfg.DeletedColumn)
			if err != nil {
				return nil, err
			}
			plan.BizviewCountNonDeleted = types.Query{Name: "bizview_count_nondeleted", Kind: types.CountQuery, SQL: sql}
		}
	}

	sql, err = queries.AntiJoin(cfg)
	if err != nil {
		return nil, err
	}
	plan.AntiJoin = types.Query{Name: "anti_join", Kind: types.AntiJoinQuery, SQL: sql}

	sql, err = queries.KeyOnly(cfg)
	if err != nil {
		return nil, err
	}
	plan.KeyOnly = types.Query{Name: "key_only", Kind: types.KeyOnlyQuery, SQL: sql}

	if cfg.BizviewTable != "" {
		sql, err = queries.BizviewMissing(cfg)
		if err != nil {
			return nil, err
		}
		plan.BizviewMissing = types.Query{Name: "bizview_missing", Kind: types.AntiJoinQuery, SQL: sql}
	}

	return plan, nil
}

// candidateKeyColumns returns the columns that identify a record in the
// anti-join output: the single source key for a hub, the business key
// combination for a link.
func candidateKeyColumns(cfg *types.EntityConfig) []string {
	if cfg.Kind() == types.LinkEntity {
		return cfg.HubKeys
	}
	return []string{cfg.SourceKey}
}

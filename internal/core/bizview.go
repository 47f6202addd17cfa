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
	"fmt"
	"strings"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/db/queries"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/db/warehouse"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

// InferBizviewRole determines the view role for threshold selection. A
// configured override wins; otherwise the table name decides. directMapping
// reports whether the view is expected 1:1 with the hub.
func InferBizviewRole(cfg *types.EntityConfig) (role types.ViewRole, directMapping bool) {
	switch strings.ToLower(cfg.BizviewRole) {
	case "dimension":
		return types.RoleDimension, true
	case "fact":
		return types.RoleFact, false
	case "current":
		return types.RoleCurrent, false
	}

	parts := strings.Split(cfg.BizviewTable, ".")
	name := strings.ToLower(parts[len(parts)-1])

	switch {
	case strings.HasPrefix(name, "dim_") || strings.HasPrefix(name, "dimension_"):
		return types.RoleDimension, true
	case strings.HasPrefix(name, "fact_") || strings.HasPrefix(name, "bridge_") || strings.HasPrefix(name, "link_"):
		return types.RoleFact, false
	case strings.HasSuffix(name, "_current") || strings.HasSuffix(name, "_active"):
		return types.RoleCurrent, false
	default:
		return types.RoleUnknown, false
	}
}

type bizviewInputs struct {
	HubCount         int64
	SatelliteCount   int64
	SourceNonDeleted int64
	BizviewCount     int64
}

// reconcileBizview compares the vault against the bizview, applying the
// threshold model so expected business filtering is explained rather than
// reported as a defect. Returns the detail payload and the missing-record
// count that lands in BIZVIEW_MISSING_RECORDS.
func reconcileBizview(
	ctx context.Context,
	exec warehouse.Executor,
	cfg *types.EntityConfig,
	model *ThresholdModel,
	plan *types.QueryPlan,
	in bizviewInputs,
	maxSampleKeys int,
) (*types.BizviewDetails, int64, error) {
	if cfg.BizviewTable == "" {
		return nil, 0, nil
	}

	role, direct := InferBizviewRole(cfg)

	var refCount int64
	var refType string
	switch {
	case direct:
		refCount, refType = in.HubCount, "hub"
	case role == types.RoleFact && in.SourceNonDeleted > 0:
		refCount, refType = in.SourceNonDeleted, "source (non-deleted)"
	case in.SatelliteCount > 0:
		refCount, refType = in.SatelliteCount, "satellite"
	default:
		refCount, refType = in.HubCount, "hub"
	}

	var rawDiff int64
	direction := "bizview_smaller"
	if in.BizviewCount <= refCount {
		rawDiff = refCount - in.BizviewCount
	} else {
		rawDiff = in.BizviewCount - refCount
		direction = "bizview_larger"
	}

	significant, profile := model.IsSignificant(rawDiff, refCount, role)

	// An empty bizview against a populated reference is never tolerable.
	if in.BizviewCount == 0 && refCount > 0 {
		significant = true
		rawDiff = refCount
	}

	details := &types.BizviewDetails{
		MissingRecords: types.BizviewMissing{
			Comparison: types.BizviewComparison{
				BizviewType:         role,
				IsDirectMapping:     direct,
				ReferenceType:       refType,
				ReferenceCount:      refCount,
				BizviewCount:        in.BizviewCount,
				ComparisonDirection: direction,
				RawDifference:       rawDiff,
				Threshold:           profile,
				PercentageDiff:      percentOf(rawDiff, refCount),
			},
		},
	}

	if !significant || direction == "bizview_larger" {
		var explanation string
		switch {
		case rawDiff == 0:
			explanation = "No difference detected between vault and bizview counts."
		case direction == "bizview_larger":
			explanation = fmt.Sprintf(
				"Bizview has %d more records than the %s. This may be due to calculated fields, duplicates, or other business logic.",
				rawDiff, refType)
		default:
			explanation = fmt.Sprintf(
				"Gap of %d records is within the %.1f%% tolerance for a %s view (allowed gap: %d).",
				rawDiff, profile.PercentTolerance*100, role, profile.AllowedGap)
		}
		details.MissingRecords.Explanation = explanation
		return details, 0, nil
	}

	details.MissingRecords.Count = rawDiff
	details.MissingRecords.Explanation = fmt.Sprintf(
		"Bizview has %d fewer records than the %s. This may be due to business filtering or a data loss issue.",
		rawDiff, refType)

	if plan.BizviewMissing.SQL != "" && maxSampleKeys > 0 {
		orderCols := []string{cfg.HubKey}
		if cfg.Kind() == types.LinkEntity {
			orderCols = cfg.HubKeys
		}
		sampleSQL, err := queries.WrapLimit(plan.BizviewMissing.SQL, maxSampleKeys, orderCols...)
		if err != nil {
			return nil, 0, err
		}
		keys, err := exec.QueryKeys(ctx, sampleSQL)
		if err != nil {
			return nil, 0, &types.QueryError{Entity: cfg.TableName(), Stage: "bizview missing keys", SQL: sampleSQL, Err: err}
		}
		details.MissingRecords.SampleKeys = keys
	}

	return details, rawDiff, nil
}

func percentOf(part, whole int64) string {
	if whole <= 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", float64(part)/float64(whole)*100)
}

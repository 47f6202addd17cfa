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
	"sort"
	"strings"
	"time"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/db/queries"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/db/warehouse"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/common"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

// classifyCandidates partitions the anti-join candidate keys into true
// missing records and representation differences, using key-only presence
// as the sole criterion: a key confirmed downstream is a representation
// difference no matter how many of its attribute columns differ.
//
// trueMissingKeys is the (already fetched) key-only EXCEPT output. Both
// inputs must use the same key stringification.
func classifyCandidates(candidates, trueMissingKeys []string) *types.ComparisonResult {
	missingSet := make(map[string]struct{}, len(trueMissingKeys))
	for _, k := range trueMissingKeys {
		missingSet[k] = struct{}{}
	}

	res := &types.ComparisonResult{}
	seen := make(map[string]struct{}, len(candidates))
	for _, key := range candidates {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		res.MissingCandidates = append(res.MissingCandidates, key)
		if _, missing := missingSet[key]; missing {
			res.TrueMissing = append(res.TrueMissing, key)
		} else {
			res.RepresentationKeys = append(res.RepresentationKeys, key)
		}
	}

	sort.Strings(res.MissingCandidates)
	sort.Strings(res.TrueMissing)
	sort.Strings(res.RepresentationKeys)
	return res
}

// sampleAttributeDiffs fetches a bounded sample of attribute-level diffs for
// representation keys and tags each with a best-effort reason. Only hub
// entities carry comparable attribute columns through a single satellite.
func sampleAttributeDiffs(
	ctx context.Context,
	exec warehouse.Executor,
	cfg *types.EntityConfig,
	repKeys []string,
	maxKeys, sampleLimit int,
) ([]types.AttributeDiff, error) {
	if len(repKeys) == 0 || len(cfg.CompareColumns) == 0 || cfg.Kind() != types.HubEntity {
		return nil, nil
	}

	keys := repKeys
	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
	}

	srcSQL, err := queries.SourceRowsByKey(cfg, keys)
	if err != nil {
		return nil, err
	}
	vaultSQL, err := queries.VaultRowsByKey(cfg, keys)
	if err != nil {
		return nil, err
	}

	srcRows, err := exec.QueryRows(ctx, srcSQL)
	if err != nil {
		return nil, &types.QueryError{Entity: cfg.TableName(), Stage: "sample source rows", SQL: srcSQL, Err: err}
	}
	vaultRows, err := exec.QueryRows(ctx, vaultSQL)
	if err != nil {
		return nil, &types.QueryError{Entity: cfg.TableName(), Stage: "sample vault rows", SQL: vaultSQL, Err: err}
	}

	srcByKey := indexRowsByKey(srcRows, cfg.SourceKey)
	vaultByKey := indexRowsByKey(vaultRows, cfg.HubKey)

	var samples []types.AttributeDiff
	for _, key := range keys {
		srcRow, okSrc := srcByKey[key]
		vaultRow, okVault := vaultByKey[key]
		if !okSrc || !okVault {
			continue
		}
		for _, col := range cfg.CompareColumns {
			reason, differ := classifyValueDiff(srcRow[col], vaultRow[col])
			if !differ {
				continue
			}
			samples = append(samples, types.AttributeDiff{
				Key:         key,
				Column:      col,
				SourceValue: common.SafeJSONValue(srcRow[col]),
				VaultValue:  common.SafeJSONValue(vaultRow[col]),
				Reason:      reason,
			})
			if len(samples) >= sampleLimit {
				return samples, nil
			}
		}
	}
	return samples, nil
}

func indexRowsByKey(rows []map[string]any, keyCol string) map[string]map[string]any {
	out := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		out[common.Stringify(row[keyCol])] = row
	}
	return out
}

// classifyValueDiff decides whether two attribute values differ and, if so,
// why. The taxonomy is fixed; anything it cannot match is "unclassified"
// rather than an error.
func classifyValueDiff(src, vault any) (types.DiffReason, bool) {
	// One side null, the other a zero-equivalent default. Checked before
	// the string comparison: NULL and '' stringify identically but EXCEPT
	// treats them as different rows.
	if (src == nil) != (vault == nil) {
		if (src == nil && common.IsZeroLike(vault)) || (vault == nil && common.IsZeroLike(src)) {
			return types.ReasonNullVsDefault, true
		}
	}

	srcStr := common.Stringify(src)
	vaultStr := common.Stringify(vault)
	if srcStr == vaultStr {
		return "", false
	}

	if strings.EqualFold(strings.TrimSpace(srcStr), strings.TrimSpace(vaultStr)) {
		return types.ReasonWhitespaceCase, true
	}

	if srcT, okSrc := asTime(src); okSrc {
		if vaultT, okVault := asTime(vault); okVault {
			if srcT.Truncate(time.Second).Equal(vaultT.Truncate(time.Second)) {
				return types.ReasonTimestampPrecision, true
			}
		}
	}

	if common.LooksNumeric(srcStr) && common.LooksNumeric(vaultStr) {
		if common.NormalizeNumericString(strings.TrimSpace(srcStr)) ==
			common.NormalizeNumericString(strings.TrimSpace(vaultStr)) {
			return types.ReasonTypeCoercion, true
		}
	}

	return types.ReasonUnclassified, true
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return common.ParseTime(t)
	default:
		return time.Time{}, false
	}
}

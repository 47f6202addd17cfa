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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/common"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/logger"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

// Fixed recommendation set, keyed to the dominant discrepancy bucket.
const (
	recommendInvestigateETL = "check ETL load job for entity %s"
	recommendReviewMapping  = "review type/format mapping for columns: [%s]"
	recommendConfirmFilters = "confirm business filter rules for this view"
)

// reportInputs carries everything the builder aggregates. Err set means the
// entity failed at Stage and the count fields may be partially nil.
type reportInputs struct {
	Cfg *types.EntityConfig

	SourceCount           *int64
	SourceCountNonDeleted *int64
	HubCount              *int64
	SatelliteCount        *int64
	BizviewCount          *int64

	Comparison     *types.ComparisonResult
	Bizview        *types.BizviewDetails
	BizviewMissing int64
	Deleted        int64

	Stage string
	Err   error
}

// buildReport assembles one DiscrepancyReport row. Pure aggregation: all
// decisions were made upstream, this only shapes and phrases them.
func buildReport(in reportInputs) types.DiscrepancyReport {
	report := types.DiscrepancyReport{
		TableName:      in.Cfg.TableName(),
		SourceTable:    in.Cfg.SourceTable,
		HubTable:       strings.Join(in.Cfg.HubTableList(), ", "),
		SatelliteTable: in.Cfg.SatelliteTable,
		BizviewTable:   in.Cfg.BizviewTable,

		SourceCount:           in.SourceCount,
		SourceCountNonDeleted: in.SourceCountNonDeleted,
		HubCount:              in.HubCount,
		SatelliteCount:        in.SatelliteCount,
		BizviewCount:          in.BizviewCount,

		BizviewMissingRecords: in.BizviewMissing,
		DeletedRecords:        in.Deleted,
	}

	details := types.DiscrepancyDetails{
		Bizview: in.Bizview,
	}

	if in.Err != nil {
		report.ValidationMessage = fmt.Sprintf("validation failed at %s: %v", in.Stage, in.Err)
		details.Error = report.ValidationMessage
		report.DataDiscrepancyDetails = marshalDetails(details)
		return report
	}

	var trueMissing, representation int64
	if in.Comparison != nil {
		trueMissing = int64(len(in.Comparison.TrueMissing))
		representation = int64(len(in.Comparison.RepresentationKeys))
	}
	report.SourceToVaultDifferences = trueMissing
	report.DataRepresentationDifferences = representation

	report.ValidationMessage = validationMessage(trueMissing, representation, in)
	details.Recommendation = recommendation(in.Cfg, in.Comparison, trueMissing, representation, in.BizviewMissing)

	var vault int64
	if in.SatelliteCount != nil && *in.SatelliteCount > 0 {
		vault = *in.SatelliteCount
	} else if in.HubCount != nil {
		vault = *in.HubCount
	}
	var nonDeleted int64
	if in.SourceCountNonDeleted != nil {
		nonDeleted = *in.SourceCountNonDeleted
	}
	diff := nonDeleted - vault
	if diff < 0 {
		diff = -diff
	}

	s2v := &types.SourceToVaultDetails{
		ValidationMessage: report.ValidationMessage,
		CountComparison: types.CountComparison{
			SourceNonDeleted: nonDeleted,
			Vault:            vault,
			Difference:       diff,
		},
		MissingRecords: types.DifferenceBucket{
			Count:       trueMissing,
			Explanation: "These records exist in the source but could not be found in the vault.",
		},
		DataDifferences: types.DifferenceBucket{
			Count:       representation,
			Explanation: "These records exist in both source and vault but with differences in data representation.",
		},
	}
	if in.Comparison != nil {
		s2v.MissingRecords.Keys = in.Comparison.TrueMissing
		s2v.DataDifferences.Records = in.Comparison.Samples
	}
	details.SourceToVault = s2v

	if in.Deleted > 0 {
		details.IntentionallyDeleted = &types.DeletedDetails{
			Count:       in.Deleted,
			Explanation: "Records marked as deleted in the source and properly tracked in the vault.",
		}
	}

	report.DataDiscrepancyDetails = marshalDetails(details)
	return report
}

// validationMessage phrases the outcome from a deterministic template driven
// by which buckets are non-zero.
func validationMessage(trueMissing, representation int64, in reportInputs) string {
	var parts []string

	if trueMissing > 0 {
		parts = append(parts, fmt.Sprintf(
			"%d records missing between source and vault - investigate ETL load", trueMissing))
	}
	if representation > 0 {
		parts = append(parts, fmt.Sprintf(
			"%d representation differences likely due to formatting", representation))
	}
	if in.BizviewMissing > 0 {
		parts = append(parts, fmt.Sprintf(
			"%d records missing from bizview beyond tolerance", in.BizviewMissing))
	} else if in.Bizview != nil && in.Bizview.MissingRecords.Comparison.RawDifference > 0 {
		cmp := in.Bizview.MissingRecords.Comparison
		parts = append(parts, fmt.Sprintf(
			"bizview gap of %d within tolerance (role=%s, allowed %.1f%%, floor %d)",
			cmp.RawDifference, cmp.BizviewType,
			cmp.Threshold.PercentTolerance*100, cmp.Threshold.AbsoluteFloor))
	}

	if len(parts) == 0 {
		return "no discrepancies found"
	}
	return strings.Join(parts, "; ")
}

// recommendation picks from the fixed set keyed to the dominant bucket.
func recommendation(cfg *types.EntityConfig, cmp *types.ComparisonResult, trueMissing, representation, bizviewMissing int64) string {
	max := trueMissing
	dominant := "missing"
	if representation > max {
		max = representation
		dominant = "representation"
	}
	if bizviewMissing > max {
		max = bizviewMissing
		dominant = "bizview"
	}
	if max == 0 {
		return ""
	}

	switch dominant {
	case "representation":
		return fmt.Sprintf(recommendReviewMapping, strings.Join(sampledColumns(cmp), ", "))
	case "bizview":
		return recommendConfirmFilters
	default:
		return fmt.Sprintf(recommendInvestigateETL, cfg.TableName())
	}
}

func sampledColumns(cmp *types.ComparisonResult) []string {
	if cmp == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var cols []string
	for _, s := range cmp.Samples {
		if _, ok := seen[s.Column]; ok {
			continue
		}
		seen[s.Column] = struct{}{}
		cols = append(cols, s.Column)
	}
	sort.Strings(cols)
	return cols
}

func marshalDetails(details types.DiscrepancyDetails) string {
	data, err := json.MarshalIndent(details, "", "    ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal discrepancy details: %v"}`, err)
	}
	return string(data)
}

// WriteRunReport writes the whole run as a JSON document named after the
// run timestamp and returns the file name.
func WriteRunReport(summary types.RunSummary) (string, error) {
	outputFileName := fmt.Sprintf("dvv_validation-%s.json",
		summary.StartTime.Format("20060102150405"))

	jsonData, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := os.WriteFile(outputFileName, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return outputFileName, nil
}

// LogRunSummary prints the per-entity data flow the way operators read it.
func LogRunSummary(reports []types.DiscrepancyReport) {
	for _, r := range reports {
		logger.Info("Table: %s", r.TableName)
		logger.Info("  Source (%s) -> Vault -> Bizview (%s)",
			countOrNA(r.SourceCountNonDeleted), countOrNA(r.BizviewCount))

		switch {
		case strings.HasPrefix(r.ValidationMessage, "validation failed"):
			logger.Warn("  %s %s", common.CrossMark, r.ValidationMessage)
		case r.SourceToVaultDifferences > 0:
			logger.Warn("  %s True missing records: %d", common.CrossMark, r.SourceToVaultDifferences)
		case r.DataRepresentationDifferences > 0:
			logger.Info("  Records with representation differences: %d", r.DataRepresentationDifferences)
			logger.Info("  %s No actual missing records", common.CheckMark)
		default:
			logger.Info("  %s No data discrepancies", common.CheckMark)
		}

		if r.BizviewMissingRecords > 0 {
			logger.Warn("  %s Bizview missing records: %d", common.CrossMark, r.BizviewMissingRecords)
		} else if r.BizviewTable != "" {
			logger.Info("  %s No bizview discrepancies", common.CheckMark)
		}

		if r.DeletedRecords > 0 {
			logger.Info("  Intentionally deleted records: %d", r.DeletedRecords)
		}
	}
}

func countOrNA(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}

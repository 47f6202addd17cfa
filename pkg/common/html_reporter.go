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

package common

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

//go:embed templates/run_report.html
var htmlRunTemplate string

//go:embed templates/run_report.css
var htmlRunCSS string

// WriteHTMLRunReport renders the run summary as a standalone HTML document
// next to the JSON report and returns its path.
func WriteHTMLRunReport(summary types.RunSummary, jsonFilePath string) (string, error) {
	if jsonFilePath == "" {
		return "", nil
	}
	htmlPath := strings.TrimSuffix(jsonFilePath, filepath.Ext(jsonFilePath)) + ".html"

	type summaryItem struct {
		Label string
		Value string
	}

	type entitySection struct {
		TableName             string
		SourceTable           string
		HubTable              string
		SatelliteTable        string
		BizviewTable          string
		SourceCount           string
		SourceCountNonDeleted string
		HubCount              string
		SatelliteCount        string
		BizviewCount          string
		TrueMissing           string
		Representation        string
		BizviewMissing        string
		Deleted               string
		Message               string
		Details               string
		StatusClass           string
		StatusLabel           string
	}

	type reportData struct {
		RunID     string
		StartTime string
		TimeTaken string
		Items     []summaryItem
		Entities  []entitySection
		CSS       template.CSS
	}

	flagged := 0
	failed := 0
	var entities []entitySection
	for _, r := range summary.Reports {
		section := entitySection{
			TableName:             r.TableName,
			SourceTable:           r.SourceTable,
			HubTable:              r.HubTable,
			SatelliteTable:        r.SatelliteTable,
			BizviewTable:          r.BizviewTable,
			SourceCount:           formatCount(r.SourceCount),
			SourceCountNonDeleted: formatCount(r.SourceCountNonDeleted),
			HubCount:              formatCount(r.HubCount),
			SatelliteCount:        formatCount(r.SatelliteCount),
			BizviewCount:          formatCount(r.BizviewCount),
			TrueMissing:           formatInt64WithCommas(r.SourceToVaultDifferences),
			Representation:        formatInt64WithCommas(r.DataRepresentationDifferences),
			BizviewMissing:        formatInt64WithCommas(r.BizviewMissingRecords),
			Deleted:               formatInt64WithCommas(r.DeletedRecords),
			Message:               r.ValidationMessage,
			Details:               r.DataDiscrepancyDetails,
		}

		switch {
		case strings.HasPrefix(r.ValidationMessage, "validation failed"):
			section.StatusClass, section.StatusLabel = "failed", "FAILED"
			failed++
		case r.SourceToVaultDifferences > 0 || r.BizviewMissingRecords > 0:
			section.StatusClass, section.StatusLabel = "flagged", "DISCREPANCIES"
			flagged++
		default:
			section.StatusClass, section.StatusLabel = "clean", "OK"
		}
		entities = append(entities, section)
	}

	data := reportData{
		RunID:     summary.RunID,
		StartTime: summary.StartTime.Format("2006-01-02 15:04:05 MST"),
		TimeTaken: formatDurationHuman(summary.EndTime.Sub(summary.StartTime)),
		Items: []summaryItem{
			{Label: "Entities validated", Value: formatInt64WithCommas(int64(len(summary.Reports)))},
			{Label: "Entities with discrepancies", Value: formatInt64WithCommas(int64(flagged))},
			{Label: "Entities failed", Value: formatInt64WithCommas(int64(failed))},
		},
		Entities: entities,
		CSS:      template.CSS(htmlRunCSS),
	}

	tmpl, err := template.New("runReport").Parse(htmlRunTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML report template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render HTML report: %w", err)
	}
	if err := os.WriteFile(htmlPath, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write HTML report: %w", err)
	}
	return htmlPath, nil
}

func formatCount(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return formatInt64WithCommas(*v)
}

func formatInt64WithCommas(value int64) string {
	s := fmt.Sprintf("%d", value)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

func formatDurationHuman(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Millisecond * 10).String()
}

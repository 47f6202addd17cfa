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

package queries

import "text/template"

type Templates struct {
	CountAll             *template.Template
	CountWhere           *template.Template
	CountDistinctNonNull *template.Template
	ProbeTable           *template.Template
	ColumnExists         *template.Template

	HubAntiJoin  *template.Template
	LinkAntiJoin *template.Template
	HubKeyOnly   *template.Template
	LinkKeyOnly  *template.Template

	BizviewMissingHub  *template.Template
	BizviewMissingLink *template.Template

	SourceRowsByKey *template.Template
	VaultRowsByKey  *template.Template

	WrapCount *template.Template
	WrapLimit *template.Template
}

var SQLTemplates = Templates{
	CountAll: template.Must(template.New("countAll").Parse(`
		SELECT COUNT(*) FROM {{.Table}}`),
	),
	CountWhere: template.Must(template.New("countWhere").Parse(`
		SELECT COUNT(*) FROM {{.Table}} WHERE {{.Where}}`),
	),
	CountDistinctNonNull: template.Must(template.New("countDistinctNonNull").Parse(`
		SELECT COUNT(DISTINCT {{.Column}}) FROM {{.Table}} WHERE {{.Column}} IS NOT NULL`),
	),
	ProbeTable: template.Must(template.New("probeTable").Parse(`
		SELECT 1 FROM {{.Table}} LIMIT 1`),
	),
	ColumnExists: template.Must(template.New("columnExists").Parse(`
		SELECT COUNT(*)
		FROM {{.Database}}.INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = '{{.Schema}}'
		  AND TABLE_NAME = '{{.Table}}'
		  AND COLUMN_NAME = '{{.Column}}'`),
	),

	// The raw anti-join: keys present in source but absent from the joined
	// hub+satellite. Attribute columns ride along so EXCEPT also surfaces
	// rows that migrated with a different encoding; the key-only re-check
	// separates those from true loss.
	HubAntiJoin: template.Must(template.New("hubAntiJoin").Parse(`
		SELECT {{.SourceKey}}{{range .CompareColumns}}, {{.}}{{end}}
		FROM {{.SourceTable}}{{if .DeletedColumn}}
		WHERE {{.DeletedColumn}} = FALSE{{end}}
		EXCEPT
		SELECT h.{{.HubKey}}{{range .CompareColumns}}, s.{{.}}{{end}}
		FROM {{.HubTable}} h
		JOIN {{.SatelliteTable}} s ON h.{{.HashKey}} = s.{{.HashKey}}`),
	),

	// A link record only exists when every component business key resolves
	// through its hub into a single link row carried by the link satellite.
	// Inner joins enforce that: a partially resolving source row never
	// appears on the right-hand side, so it stays in the result as missing.
	LinkAntiJoin: template.Must(template.New("linkAntiJoin").Parse(`
		SELECT {{range $i, $k := .HubKeys}}{{if $i}}, {{end}}{{$k}}{{end}}
		FROM {{.SourceTable}}{{if .DeletedColumn}}
		WHERE {{.DeletedColumn}} = FALSE{{end}}
		EXCEPT
		SELECT {{range $i, $k := .HubKeys}}{{if $i}}, {{end}}h{{$i}}.{{$k}}{{end}}
		FROM {{.LinkTable}} l
		{{- range $i, $h := .HubTables}}
		JOIN {{$h}} h{{$i}} ON l.{{index $.HashKeys $i}} = h{{$i}}.{{index $.HashKeys $i}}
		{{- end}}
		JOIN {{.SatelliteTable}} sat ON l.{{.LinkHashKey}} = sat.{{.LinkHashKey}}`),
	),

	HubKeyOnly: template.Must(template.New("hubKeyOnly").Parse(`
		SELECT {{.SourceKey}}
		FROM {{.SourceTable}}{{if .DeletedColumn}}
		WHERE {{.DeletedColumn}} = FALSE{{end}}
		EXCEPT
		SELECT {{.HubKey}} FROM {{.HubTable}}`),
	),

	// Key-only presence for a link still requires the full hub resolution:
	// the key of a link is the combination, so dropping the satellite is the
	// only relaxation.
	LinkKeyOnly: template.Must(template.New("linkKeyOnly").Parse(`
		SELECT {{range $i, $k := .HubKeys}}{{if $i}}, {{end}}{{$k}}{{end}}
		FROM {{.SourceTable}}{{if .DeletedColumn}}
		WHERE {{.DeletedColumn}} = FALSE{{end}}
		EXCEPT
		SELECT {{range $i, $k := .HubKeys}}{{if $i}}, {{end}}h{{$i}}.{{$k}}{{end}}
		FROM {{.LinkTable}} l
		{{- range $i, $h := .HubTables}}
		JOIN {{$h}} h{{$i}} ON l.{{index $.HashKeys $i}} = h{{$i}}.{{index $.HashKeys $i}}
		{{- end}}`),
	),

	BizviewMissingHub: template.Must(template.New("bizviewMissingHub").Parse(`
		SELECT h.{{.HubKey}}
		FROM {{.HubTable}} h
		JOIN {{.SatelliteTable}} s ON h.{{.HashKey}} = s.{{.HashKey}}
		EXCEPT
		SELECT {{.BizviewKey}} FROM {{.BizviewTable}}`),
	),

	BizviewMissingLink: template.Must(template.New("bizviewMissingLink").Parse(`
		SELECT {{range $i, $k := .HubKeys}}{{if $i}}, {{end}}h{{$i}}.{{$k}}{{end}}
		FROM {{.LinkTable}} l
		{{- range $i, $h := .HubTables}}
		JOIN {{$h}} h{{$i}} ON l.{{index $.HashKeys $i}} = h{{$i}}.{{index $.HashKeys $i}}
		{{- end}}
		JOIN {{.SatelliteTable}} sat ON l.{{.LinkHashKey}} = sat.{{.LinkHashKey}}
		EXCEPT
		SELECT {{range $i, $k := .HubKeys}}{{if $i}}, {{end}}{{$k}}{{end}} FROM {{.BizviewTable}}`),
	),

	SourceRowsByKey: template.Must(template.New("sourceRowsByKey").Parse(`
		SELECT {{.SourceKey}}{{range .CompareColumns}}, {{.}}{{end}}
		FROM {{.SourceTable}}
		WHERE {{.SourceKey}} IN ({{.KeyList}})`),
	),

	VaultRowsByKey: template.Must(template.New("vaultRowsByKey").Parse(`
		SELECT h.{{.HubKey}}{{range .CompareColumns}}, s.{{.}}{{end}}
		FROM {{.HubTable}} h
		JOIN {{.SatelliteTable}} s ON h.{{.HashKey}} = s.{{.HashKey}}
		WHERE h.{{.HubKey}} IN ({{.KeyList}})`),
	),

	WrapCount: template.Must(template.New("wrapCount").Parse(`
		SELECT COUNT(*) FROM (
		{{.Query}}
		) q`),
	),
	WrapLimit: template.Must(template.New("wrapLimit").Parse(`
		SELECT * FROM (
		{{.Query}}
		) q{{if .OrderBy}} ORDER BY {{.OrderBy}}{{end}} LIMIT {{.Limit}}`),
	),
}

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

// Package queries assembles all SQL text for the validator. Every statement
// is a text/template descriptor rendered through RenderSQL, so SQL assembly
// stays a pure, testable function of the entity configuration.
package queries

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
)

var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$]*$`)

func SanitiseIdentifier(ident string) error {
	if !validIdentifierRegex.MatchString(ident) {
		return fmt.Errorf("invalid identifier: %s", ident)
	}
	return nil
}

// SanitiseQualified validates a dotted table reference such as
// DATAVAULT_DB.RAWVAULT.H_COMPANY part by part.
func SanitiseQualified(ref string) error {
	parts := strings.Split(ref, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return fmt.Errorf("invalid table reference: %s", ref)
	}
	for _, p := range parts {
		if err := SanitiseIdentifier(p); err != nil {
			return fmt.Errorf("invalid table reference %q: %w", ref, err)
		}
	}
	return nil
}

func RenderSQL(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render SQL: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// QuoteLiteral escapes a string value for inline use in an IN list.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteKeyList renders keys as a comma-separated literal list.
func QuoteKeyList(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = QuoteLiteral(k)
	}
	return strings.Join(quoted, ", ")
}

func sanitiseEntity(cfg *types.EntityConfig) error {
	refs := []string{cfg.SourceTable, cfg.SatelliteTable}
	refs = append(refs, cfg.HubTableList()...)
	if cfg.LinkTable != "" {
		refs = append(refs, cfg.LinkTable)
	}
	if cfg.BizviewTable != "" {
		refs = append(refs, cfg.BizviewTable)
	}
	for _, r := range refs {
		if err := SanitiseQualified(r); err != nil {
			return err
		}
	}

	var idents []string
	if cfg.Kind() == types.HubEntity {
		idents = append(idents, cfg.SourceKey, cfg.HubKey, cfg.SatelliteHashKey)
	} else {
		idents = append(idents, cfg.HubKeys...)
		idents = append(idents, cfg.SatelliteHashKeys...)
		idents = append(idents, cfg.LinkHashKey)
	}
	if cfg.BizviewKey != "" {
		idents = append(idents, cfg.BizviewKey)
	}
	if cfg.DeletedColumn != "" {
		idents = append(idents, cfg.DeletedColumn)
	}
	idents = append(idents, cfg.CompareColumns...)

	for _, ident := range idents {
		if err := SanitiseIdentifier(ident); err != nil {
			return err
		}
	}
	return nil
}

func CountAll(table string) (string, error) {
	if err := SanitiseQualified(table); err != nil {
		return "", err
	}
	return RenderSQL(SQLTemplates.CountAll, map[string]any{"Table": table})
}

func CountNonDeleted(table, deletedColumn string) (string, error) {
	if err := SanitiseQualified(table); err != nil {
		return "", err
	}
	if err := SanitiseIdentifier(deletedColumn); err != nil {
		return "", err
	}
	return RenderSQL(SQLTemplates.CountWhere, map[string]any{
		"Table": table,
		"Where": fmt.Sprintf("%s = FALSE", deletedColumn),
	})
}

func CountDistinctKey(table, column string) (string, error) {
	if err := SanitiseQualified(table); err != nil {
		return "", err
	}
	if err := SanitiseIdentifier(column); err != nil {
		return "", err
	}
	return RenderSQL(SQLTemplates.CountDistinctNonNull, map[string]any{
		"Table":  table,
		"Column": column,
	})
}

func ProbeTable(table string) (string, error) {
	if err := SanitiseQualified(table); err != nil {
		return "", err
	}
	return RenderSQL(SQLTemplates.ProbeTable, map[string]any{"Table": table})
}

// ColumnExists checks INFORMATION_SCHEMA for a column on a fully qualified
// db.schema.table reference.
func ColumnExists(table, column string) (string, error) {
	if err := SanitiseQualified(table); err != nil {
		return "", err
	}
	if err := SanitiseIdentifier(column); err != nil {
		return "", err
	}
	parts := strings.Split(table, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("column check requires a db.schema.table reference, got %s", table)
	}
	return RenderSQL(SQLTemplates.ColumnExists, map[string]any{
		"Database": parts[0],
		"Schema":   parts[1],
		"Table":    parts[2],
		"Column":   column,
	})
}

// AntiJoin builds the source-to-vault EXCEPT query for either entity
// variant. A configured custom except query wins unchanged.
func AntiJoin(cfg *types.EntityConfig) (string, error) {
	if cfg.CustomExceptQuery != "" {
		return strings.TrimSpace(cfg.CustomExceptQuery), nil
	}
	if err := sanitiseEntity(cfg); err != nil {
		return "", err
	}

	if cfg.Kind() == types.LinkEntity {
		return RenderSQL(SQLTemplates.LinkAntiJoin, map[string]any{
			"SourceTable":    cfg.SourceTable,
			"DeletedColumn":  cfg.DeletedColumn,
			"HubTables":      cfg.HubTables,
			"HubKeys":        cfg.HubKeys,
			"HashKeys":       cfg.SatelliteHashKeys,
			"LinkTable":      cfg.LinkTable,
			"LinkHashKey":    cfg.LinkHashKey,
			"SatelliteTable": cfg.SatelliteTable,
		})
	}

	return RenderSQL(SQLTemplates.HubAntiJoin, map[string]any{
		"SourceTable":    cfg.SourceTable,
		"SourceKey":      cfg.SourceKey,
		"DeletedColumn":  cfg.DeletedColumn,
		"CompareColumns": cfg.CompareColumns,
		"HubTable":       cfg.HubTable,
		"HubKey":         cfg.HubKey,
		"HashKey":        cfg.SatelliteHashKey,
		"SatelliteTable": cfg.SatelliteTable,
	})
}

// KeyOnly builds the key-only presence re-check. Attribute columns are
// dropped; for a link the whole key combination must still resolve.
func KeyOnly(cfg *types.EntityConfig) (string, error) {
	if err := sanitiseEntity(cfg); err != nil {
		return "", err
	}

	if cfg.Kind() == types.LinkEntity {
		return RenderSQL(SQLTemplates.LinkKeyOnly, map[string]any{
			"SourceTable":   cfg.SourceTable,
			"DeletedColumn": cfg.DeletedColumn,
			"HubTables":     cfg.HubTables,
			"HubKeys":       cfg.HubKeys,
			"HashKeys":      cfg.SatelliteHashKeys,
			"LinkTable":     cfg.LinkTable,
		})
	}

	return RenderSQL(SQLTemplates.HubKeyOnly, map[string]any{
		"SourceTable":   cfg.SourceTable,
		"SourceKey":     cfg.SourceKey,
		"DeletedColumn": cfg.DeletedColumn,
		"HubTable":      cfg.HubTable,
		"HubKey":        cfg.HubKey,
	})
}

// BizviewMissing builds the satellite-to-bizview anti-join, keyed by the
// bizview key.
func BizviewMissing(cfg *types.EntityConfig) (string, error) {
	if cfg.BizviewTable == "" {
		return "", fmt.Errorf("entity %s has no bizview table", cfg.TableName())
	}
	if err := sanitiseEntity(cfg); err != nil {
		return "", err
	}

	if cfg.Kind() == types.LinkEntity {
		return RenderSQL(SQLTemplates.BizviewMissingLink, map[string]any{
			"HubTables":      cfg.HubTables,
			"HubKeys":        cfg.HubKeys,
			"HashKeys":       cfg.SatelliteHashKeys,
			"LinkTable":      cfg.LinkTable,
			"LinkHashKey":    cfg.LinkHashKey,
			"SatelliteTable": cfg.SatelliteTable,
			"BizviewTable":   cfg.BizviewTable,
		})
	}

	bizviewKey := cfg.BizviewKey
	if bizviewKey == "" {
		bizviewKey = cfg.HubKey
	}
	return RenderSQL(SQLTemplates.BizviewMissingHub, map[string]any{
		"HubTable":       cfg.HubTable,
		"HubKey":         cfg.HubKey,
		"HashKey":        cfg.SatelliteHashKey,
		"SatelliteTable": cfg.SatelliteTable,
		"BizviewTable":   cfg.BizviewTable,
		"BizviewKey":     bizviewKey,
	})
}

// SourceRowsByKey fetches source attribute rows for a bounded key sample.
func SourceRowsByKey(cfg *types.EntityConfig, keys []string) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("no keys to sample")
	}
	if err := sanitiseEntity(cfg); err != nil {
		return "", err
	}
	return RenderSQL(SQLTemplates.SourceRowsByKey, map[string]any{
		"SourceTable":    cfg.SourceTable,
		"SourceKey":      cfg.SourceKey,
		"CompareColumns": cfg.CompareColumns,
		"KeyList":        QuoteKeyList(keys),
	})
}

// VaultRowsByKey fetches the satellite attribute rows for the same sample,
// joined back to the business key through the hub.
func VaultRowsByKey(cfg *types.EntityConfig, keys []string) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("no keys to sample")
	}
	if cfg.Kind() != types.HubEntity {
		return "", fmt.Errorf("attribute sampling is only supported for hub entities")
	}
	if err := sanitiseEntity(cfg); err != nil {
		return "", err
	}
	return RenderSQL(SQLTemplates.VaultRowsByKey, map[string]any{
		"HubTable":       cfg.HubTable,
		"HubKey":         cfg.HubKey,
		"HashKey":        cfg.SatelliteHashKey,
		"SatelliteTable": cfg.SatelliteTable,
		"CompareColumns": cfg.CompareColumns,
		"KeyList":        QuoteKeyList(keys),
	})
}

// WrapCount turns any row-producing query into a scalar count query.
func WrapCount(inner string) (string, error) {
	return RenderSQL(SQLTemplates.WrapCount, map[string]any{"Query": inner})
}

// WrapLimit bounds any row-producing query for sampling. Order columns keep
// the sample stable when the inner query yields more rows than the limit.
func WrapLimit(inner string, limit int, orderBy ...string) (string, error) {
	if limit < 1 {
		return "", fmt.Errorf("limit must be at least 1")
	}
	for _, col := range orderBy {
		if err := SanitiseIdentifier(col); err != nil {
			return "", err
		}
	}
	return RenderSQL(SQLTemplates.WrapLimit, map[string]any{
		"Query":   inner,
		"Limit":   limit,
		"OrderBy": strings.Join(orderBy, ", "),
	})
}

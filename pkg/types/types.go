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

package types

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind distinguishes the two config variants. A hub entity tracks a
// single business key; a link entity spans two or more.
type EntityKind string

const (
	HubEntity  EntityKind = "hub"
	LinkEntity EntityKind = "link"
)

// ViewRole classifies a bizview for threshold purposes.
type ViewRole string

const (
	RoleDimension ViewRole = "dimension"
	RoleFact      ViewRole = "fact"
	RoleCurrent   ViewRole = "current"
	RoleUnknown   ViewRole = "unknown"
)

// EntityConfig describes one reconciled business concept across the four
// warehouse layers. Exactly one of the hub field set (HubTable/HubKey/
// SatelliteHashKey) or the link field set (HubTables/HubKeys/
// SatelliteHashKeys/LinkTable) may be populated.
type EntityConfig struct {
	Name        string `yaml:"name,omitempty"`
	SourceTable string `yaml:"source_table"`
	SourceKey   string `yaml:"source_key"`

	HubTable         string `yaml:"hub_table,omitempty"`
	HubKey           string `yaml:"hub_key,omitempty"`
	SatelliteHashKey string `yaml:"satellite_hash_key,omitempty"`

	HubTables         []string `yaml:"hub_tables,omitempty"`
	HubKeys           []string `yaml:"hub_keys,omitempty"`
	SatelliteHashKeys []string `yaml:"satellite_hash_keys,omitempty"`
	LinkTable         string   `yaml:"link_table,omitempty"`
	LinkHashKey       string   `yaml:"link_hash_key,omitempty"`

	SatelliteTable string `yaml:"cur_satellite_table"`
	BizviewTable   string `yaml:"bizview_table,omitempty"`
	BizviewKey     string `yaml:"bizview_key,omitempty"`

	// BizviewRole overrides name-based role inference when set. Must be one
	// of "dimension", "fact" or "current".
	BizviewRole string `yaml:"bizview_role,omitempty"`

	DeletedColumn     string   `yaml:"deleted_column,omitempty"`
	CompareColumns    []string `yaml:"columns_to_compare,omitempty"`
	CustomExceptQuery string   `yaml:"custom_except_query,omitempty"`
}

// Kind reports whether this config describes a hub or a link entity. The
// link field set wins when both are (incorrectly) populated; Validate
// rejects that case before any query runs.
func (c *EntityConfig) Kind() EntityKind {
	if c.LinkTable != "" || len(c.HubTables) > 0 {
		return LinkEntity
	}
	return HubEntity
}

// TableName returns the short entity name used in report rows: the
// configured name, or the last dotted part of the source table.
func (c *EntityConfig) TableName() string {
	if c.Name != "" {
		return c.Name
	}
	parts := strings.Split(c.SourceTable, ".")
	return parts[len(parts)-1]
}

// HubTableList normalises the hub/link variants to a slice for display.
func (c *EntityConfig) HubTableList() []string {
	if c.Kind() == LinkEntity {
		return c.HubTables
	}
	if c.HubTable == "" {
		return nil
	}
	return []string{c.HubTable}
}

// Validate checks the structural invariants before any query executes.
func (c *EntityConfig) Validate() error {
	name := c.TableName()
	if c.SourceTable == "" {
		return &ConfigError{Entity: name, Reason: "source_table is required"}
	}
	if c.SatelliteTable == "" {
		return &ConfigError{Entity: name, Reason: "cur_satellite_table is required"}
	}

	hubSet := c.HubTable != "" || c.HubKey != "" || c.SatelliteHashKey != ""
	linkSet := len(c.HubTables) > 0 || len(c.HubKeys) > 0 ||
		len(c.SatelliteHashKeys) > 0 || c.LinkTable != "" || c.LinkHashKey != ""

	if hubSet && linkSet {
		return &ConfigError{Entity: name, Reason: "hub and link field sets are mutually exclusive"}
	}
	if !hubSet && !linkSet {
		return &ConfigError{Entity: name, Reason: "one of the hub or link field sets must be populated"}
	}

	if hubSet {
		if c.SourceKey == "" {
			return &ConfigError{Entity: name, Reason: "hub entity requires source_key"}
		}
		if c.HubTable == "" || c.HubKey == "" || c.SatelliteHashKey == "" {
			return &ConfigError{Entity: name, Reason: "hub entity requires hub_table, hub_key and satellite_hash_key"}
		}
		return nil
	}

	if c.LinkTable == "" {
		return &ConfigError{Entity: name, Reason: "link entity requires link_table"}
	}
	if c.LinkHashKey == "" {
		return &ConfigError{Entity: name, Reason: "link entity requires link_hash_key"}
	}
	if len(c.HubTables) < 2 {
		return &ConfigError{Entity: name, Reason: "link entity requires at least two hub_tables"}
	}
	if len(c.HubKeys) != len(c.HubTables) || len(c.SatelliteHashKeys) != len(c.HubTables) {
		return &ConfigError{
			Entity: name,
			Reason: fmt.Sprintf("hub_tables (%d), hub_keys (%d) and satellite_hash_keys (%d) must have equal lengths",
				len(c.HubTables), len(c.HubKeys), len(c.SatelliteHashKeys)),
		}
	}
	return nil
}

// QueryKind tags a generated query descriptor.
type QueryKind string

const (
	CountQuery    QueryKind = "count"
	AntiJoinQuery QueryKind = "anti_join"
	KeyOnlyQuery  QueryKind = "key_only"
	SampleQuery   QueryKind = "sample"
	ProbeQuery    QueryKind = "probe"
)

// Query is one typed SQL descriptor produced by the comparison planner.
type Query struct {
	Name string
	Kind QueryKind
	SQL  string
}

// QueryPlan is the full ordered set of queries needed to reconcile one
// entity. Count queries are independent of each other; KeyOnly depends on
// the anti-join output.
type QueryPlan struct {
	SourceCount           Query
	SourceCountNonDeleted Query
	HubCounts             []Query
	SatelliteCount        Query
	BizviewCount          Query

	// BizviewDeletedCheck resolves the deleted-flag count strategy at run
	// time: BizviewCountNonDeleted applies only when the check confirms the
	// flag column exists in the bizview.
	BizviewDeletedCheck    Query
	BizviewCountNonDeleted Query

	Probe    Query
	AntiJoin Query
	KeyOnly  Query

	// BizviewMissing yields satellite keys absent from the bizview. Only
	// executed when the bizview gap is significant.
	BizviewMissing Query
}

// DiffReason tags why a representation candidate's attributes disagree.
type DiffReason string

const (
	ReasonTypeCoercion       DiffReason = "type-coercion"
	ReasonWhitespaceCase     DiffReason = "whitespace/case"
	ReasonTimestampPrecision DiffReason = "timestamp-precision"
	ReasonNullVsDefault      DiffReason = "null-vs-default"
	ReasonUnclassified       DiffReason = "unclassified"
)

// AttributeDiff is one sampled attribute-level disagreement for a key that
// exists on both sides.
type AttributeDiff struct {
	Key         string     `json:"key"`
	Column      string     `json:"column"`
	SourceValue any        `json:"source_value"`
	VaultValue  any        `json:"vault_value"`
	Reason      DiffReason `json:"reason"`
}

// ComparisonResult is the classified outcome of comparing source against
// vault for one entity. TrueMissing and RepresentationKeys partition
// MissingCandidates exactly: every candidate lands in one bucket, never both.
type ComparisonResult struct {
	SourceCount int64
	VaultCount  int64

	MissingCandidates  []string
	TrueMissing        []string
	RepresentationKeys []string

	Samples []AttributeDiff
}

// VolumeBucket groups entities by row volume for threshold selection.
type VolumeBucket string

const (
	VolumeSmall  VolumeBucket = "small"
	VolumeMedium VolumeBucket = "medium"
	VolumeLarge  VolumeBucket = "large"
)

// ThresholdProfile is the per-run tolerance derived from volume and role.
// Never persisted; recomputed from current counts each run.
type ThresholdProfile struct {
	Bucket           VolumeBucket `json:"volume_bucket"`
	Role             ViewRole     `json:"role"`
	PercentTolerance float64      `json:"percent_tolerance"`
	AbsoluteFloor    int64        `json:"absolute_floor"`
	AllowedGap       int64        `json:"allowed_gap"`
}

// DiscrepancyReport is one row of the final output table. Count fields are
// pointers so a failed stage surfaces as null rather than a misleading zero.
type DiscrepancyReport struct {
	TableName      string `json:"TABLE_NAME"`
	SourceTable    string `json:"SOURCE_TABLE"`
	HubTable       string `json:"HUB_TABLE"`
	SatelliteTable string `json:"SATELLITE_TABLE"`
	BizviewTable   string `json:"BIZVIEW_TABLE"`

	SourceCount           *int64 `json:"SOURCE_COUNT"`
	SourceCountNonDeleted *int64 `json:"SOURCE_COUNT_NONDELETED"`
	HubCount              *int64 `json:"HUB_COUNT"`
	SatelliteCount        *int64 `json:"SATELLITE_COUNT"`
	BizviewCount          *int64 `json:"BIZVIEW_COUNT"`

	SourceToVaultDifferences      int64 `json:"SOURCE_TO_VAULT_DIFFERENCES"`
	DataRepresentationDifferences int64 `json:"DATA_REPRESENTATION_DIFFERENCES"`
	BizviewMissingRecords         int64 `json:"BIZVIEW_MISSING_RECORDS"`
	DeletedRecords                int64 `json:"DELETED_RECORDS"`

	ValidationMessage      string `json:"VALIDATION_MESSAGE"`
	DataDiscrepancyDetails string `json:"DATA_DISCREPANCY_DETAILS"`
}

// ReportColumns is the output column order, matching the warehouse result
// schema bit for bit.
var ReportColumns = []string{
	"TABLE_NAME", "SOURCE_TABLE", "HUB_TABLE", "SATELLITE_TABLE",
	"BIZVIEW_TABLE", "SOURCE_COUNT", "SOURCE_COUNT_NONDELETED", "HUB_COUNT",
	"SATELLITE_COUNT", "BIZVIEW_COUNT", "SOURCE_TO_VAULT_DIFFERENCES",
	"DATA_REPRESENTATION_DIFFERENCES", "BIZVIEW_MISSING_RECORDS",
	"DELETED_RECORDS", "VALIDATION_MESSAGE", "DATA_DISCREPANCY_DETAILS",
}

// DiscrepancyDetails is the structured payload serialised into
// DATA_DISCREPANCY_DETAILS.
type DiscrepancyDetails struct {
	SourceToVault        *SourceToVaultDetails `json:"source_to_vault,omitempty"`
	Bizview              *BizviewDetails       `json:"bizview,omitempty"`
	IntentionallyDeleted *DeletedDetails       `json:"intentionally_deleted,omitempty"`
	Recommendation       string                `json:"recommendation,omitempty"`
	Error                string                `json:"error,omitempty"`
}

type SourceToVaultDetails struct {
	DataDifferences   DifferenceBucket `json:"data_differences"`
	MissingRecords    DifferenceBucket `json:"missing_records"`
	ValidationMessage string           `json:"validation_message"`
	CountComparison   CountComparison  `json:"count_comparison"`
}

type DifferenceBucket struct {
	Records     []AttributeDiff `json:"records,omitempty"`
	Keys        []string        `json:"keys,omitempty"`
	Count       int64           `json:"count"`
	Explanation string          `json:"explanation"`
}

type CountComparison struct {
	SourceNonDeleted int64 `json:"source_nondeleted"`
	Vault            int64 `json:"vault"`
	Difference       int64 `json:"difference"`
}

type BizviewDetails struct {
	MissingRecords BizviewMissing `json:"missing_records"`
}

type BizviewMissing struct {
	Count       int64             `json:"count"`
	Comparison  BizviewComparison `json:"comparison"`
	Explanation string            `json:"explanation"`
	SampleKeys  []string          `json:"sample_keys,omitempty"`
}

type BizviewComparison struct {
	BizviewType         ViewRole         `json:"bizview_type"`
	IsDirectMapping     bool             `json:"is_direct_mapping"`
	ReferenceType       string           `json:"reference_type"`
	ReferenceCount      int64            `json:"reference_count"`
	BizviewCount        int64            `json:"bizview_count"`
	ComparisonDirection string           `json:"comparison_direction"`
	RawDifference       int64            `json:"raw_difference"`
	Threshold           ThresholdProfile `json:"threshold"`
	PercentageDiff      string           `json:"percentage_diff"`
}

type DeletedDetails struct {
	Count       int64  `json:"count"`
	Explanation string `json:"explanation"`
}

// RunSummary captures one whole validation run for report writers.
type RunSummary struct {
	RunID     string              `json:"run_id"`
	StartTime time.Time           `json:"start_time"`
	EndTime   time.Time           `json:"end_time"`
	Reports   []DiscrepancyReport `json:"reports"`
}

// ConfigError is a malformed EntityConfig, detected before any query
// executes. Aborts that entity's evaluation only.
type ConfigError struct {
	Entity string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("entity %s: invalid configuration: %s", e.Entity, e.Reason)
}

// QueryError is a failure from the query executor while running a generated
// or custom query. Stage names the pipeline step so the report row can say
// which comparison failed.
type QueryError struct {
	Entity string
	Stage  string
	SQL    string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("entity %s: %s query failed: %v", e.Entity, e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

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

// Package warehouse is the query executor adapter: it runs SQL produced by
// the planner and returns scalars, key sets or row sets. All warehouse
// access goes through the Executor interface so the validation core never
// touches a driver directly.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/common"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/config"
)

// Executor runs SQL and returns typed results. Failures surface as errors,
// never as silent empty results; retries are the adapter's concern.
type Executor interface {
	// Scalar runs a single-value query (counts).
	Scalar(ctx context.Context, sql string) (int64, error)
	// QueryKeys runs a key-producing query. Composite keys are joined into
	// one comparable string per row.
	QueryKeys(ctx context.Context, sql string) ([]string, error)
	// QueryRows runs a row-producing query and returns normalised rows.
	QueryRows(ctx context.Context, sql string) ([]map[string]any, error)
	// Probe checks that a relation is accessible at all.
	Probe(ctx context.Context, sql string) error
}

// PoolExecutor is the pgx-backed Executor used in production.
type PoolExecutor struct {
	Pool *pgxpool.Pool
}

var _ Executor = (*PoolExecutor)(nil)

// NewPool connects to the warehouse, applying the statement timeout and
// query tag from the config to every session.
func NewPool(ctx context.Context, wcfg config.WarehouseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(wcfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid warehouse DSN: %w", err)
	}

	params := poolCfg.ConnConfig.RuntimeParams
	if wcfg.StatementTimeout > 0 {
		params["statement_timeout"] = fmt.Sprintf("%d", wcfg.StatementTimeout)
	}
	if wcfg.QueryTag != "" {
		params["application_name"] = wcfg.QueryTag
	}
	if wcfg.ConnectionTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = time.Duration(wcfg.ConnectionTimeout) * time.Second
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	return pool, nil
}

func (e *PoolExecutor) Scalar(ctx context.Context, sql string) (int64, error) {
	var count *int64
	if err := e.Pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, err
	}
	if count == nil {
		return 0, nil
	}
	return *count, nil
}

func (e *PoolExecutor) QueryKeys(ctx context.Context, sql string) ([]string, error) {
	rows, err := e.Pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		parts := make([]any, len(values))
		for i, v := range values {
			parts[i] = normalizeValue(v)
		}
		keys = append(keys, common.StringifyKey(parts))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (e *PoolExecutor) QueryRows(ctx context.Context, sql string) ([]map[string]any, error) {
	rows, err := e.Pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var results []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *PoolExecutor) Probe(ctx context.Context, sql string) error {
	rows, err := e.Pool.Query(ctx, sql)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

// normalizeValue unwraps pgtype values into plain Go values so the
// classifier compares data, not driver wrappers.
func normalizeValue(val any) any {
	switch v := val.(type) {
	case pgtype.Numeric:
		if v.Status != pgtype.Present {
			return nil
		}
		var f float64
		if err := v.AssignTo(&f); err != nil {
			return nil
		}
		return f
	case pgtype.Timestamp:
		if v.Status != pgtype.Present {
			return nil
		}
		return v.Time
	case pgtype.Timestamptz:
		if v.Status != pgtype.Present {
			return nil
		}
		return v.Time
	case pgtype.Date:
		if v.Status != pgtype.Present {
			return nil
		}
		return v.Time
	case pgtype.Bytea:
		if v.Status != pgtype.Present {
			return nil
		}
		return v.Bytes
	default:
		return val
	}
}

// FailureDetail extracts a short, typed description of an executor failure
// for report messages. Postgres errors carry their SQLSTATE code.
func FailureDetail(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "query timed out"
	}
	return err.Error()
}

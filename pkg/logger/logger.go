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

package logger

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

var (
	Log = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "dvv",
	})
)

func SetLevel(level log.Level) {
	Log.SetLevel(level)
}

func SetOutput(w *os.File) {
	Log.SetOutput(w)
}

// Entity returns a sub-logger keyed to one configured entity, so
// concurrent validation output stays attributable.
func Entity(name string) *log.Logger {
	return Log.With("entity", name)
}

func Info(format string, args ...any) {
	Log.Infof(format, args...)
}

func Debug(format string, args ...any) {
	Log.Debugf(format, args...)
}

func Warn(format string, args ...any) {
	Log.Warnf(format, args...)
}

func Error(format string, args ...any) error {
	Log.Errorf(format, args...)
	return fmt.Errorf(format, args...)
}

func Fatal(msg any, args ...any) {
	Log.Fatal(msg, args...)
}

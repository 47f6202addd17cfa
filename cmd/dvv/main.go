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

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/internal/cli"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/config"
	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/logger"
)

func main() {
	var cfgPath string
	if needsConfig(os.Args[1:]) {
		potentialPaths := []string{}

		// This is the order of precedence for finding the config file.
		// 1. env var (DVV_CONFIG)
		// 2. current dir
		// 3. $HOME/.config/dvv/
		// 4. /etc/dvv/
		if envPath := os.Getenv("DVV_CONFIG"); envPath != "" {
			potentialPaths = append(potentialPaths, envPath)
		}

		potentialPaths = append(potentialPaths, "dvv.yaml")
		if home, err := os.UserHomeDir(); err == nil {
			p := filepath.Join(home, ".config", "dvv", "dvv.yaml")
			potentialPaths = append(potentialPaths, p)
		}

		potentialPaths = append(potentialPaths, "/etc/dvv/dvv.yaml")

		for _, p := range potentialPaths {
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
				break
			}
		}

		if cfgPath == "" {
			logger.Fatal("config file 'dvv.yaml' not found")
		}

		if err := config.Init(cfgPath); err != nil {
			logger.Fatal("loading config (%s): %v", cfgPath, err)
		}
	}

	app := cli.SetupCLI()
	err := app.Run(os.Args)
	if err != nil {
		logger.Error("%v", err)
	}
}

// needsConfig reports whether dvv.yaml must load before the app runs.
// Only validate touches the warehouse; help, config init and history
// work without a config file.
func needsConfig(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "help" {
			return false
		}
	}

	for _, arg := range args {
		if arg == "--" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return arg == "validate"
	}
	return false
}

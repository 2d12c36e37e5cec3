// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the Uitsmijter authorization server.
package main

import (
	"os"

	"github.com/uitsmijter/uitsmijter/cmd/uitsmijter/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

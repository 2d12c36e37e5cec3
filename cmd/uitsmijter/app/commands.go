// SPDX-FileCopyrightText: Copyright 2026 Uitsmijter authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the uitsmijter command-line
// application.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "uitsmijter",
	DisableAutoGenTag: true,
	Short:             "Uitsmijter is a multi-tenant OAuth2 authorization server and forward-auth gateway",
	Long: `Uitsmijter is a login and authorization server for multiple tenants.

It speaks OAuth 2.0 and OpenID Connect discovery for registered clients and
acts as a forward-auth interceptor for plain web applications behind an
ingress proxy. Tenants and clients are configured through YAML files on disk
or through custom resources inside a Kubernetes cluster.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd creates the root command for the Uitsmijter CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

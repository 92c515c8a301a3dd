// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprucehealth/audiointerview/store"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.OpenSQLite(cmd.Context(), root.cfg.Database.Path, storeConfig(root.cfg))
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d\n", root.cfg.Database.Path, store.SchemaVersion)
			return nil
		},
	}
}

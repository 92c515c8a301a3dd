// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprucehealth/audiointerview/notify"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch STEP_PROGRESSION_ID",
		Short: "Print lifecycle events for a step progression as they are published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := redisClient(root.cfg)
			defer rc.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", notify.Channel(args[0]))
			return notify.Watch(cmd.Context(), rc, args[0], func(m notify.Message) {
				_ = enc.Encode(m)
			})
		},
	}
}

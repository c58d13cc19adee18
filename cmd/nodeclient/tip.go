// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) tipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tip",
		Short: "Show the current chain tip of the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			session, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer session.Close()
			tip, err := session.GetTip(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Block hash:   %x\n", tip.Point.Hash)
			fmt.Fprintf(out, "Slot number:  %d\n", tip.Point.Slot)
			fmt.Fprintf(out, "Block number: %d\n", tip.BlockNumber)
			return nil
		},
	}
}

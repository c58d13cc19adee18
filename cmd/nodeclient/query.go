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
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/ledger"
)

func (a *app) queryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the ledger state of a local node at its volatile tip",
	}
	cmd.AddCommand(
		a.queryEraCommand(),
		a.queryTipCommand(),
		a.queryUtxoCommand(),
		a.querySystemStartCommand(),
	)
	return cmd
}

// runQuery acquires the volatile tip, runs queryFunc and releases the state
func (a *app) runQuery(
	cmd *cobra.Command,
	queryFunc func(context.Context, *nodeclient.Session) (any, error),
) error {
	ctx, cancel := a.commandContext(cmd)
	defer cancel()
	session, err := a.openNodeSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	if err := session.Acquire(ctx, nil); err != nil {
		return err
	}
	result, err := queryFunc(ctx, session)
	if err != nil {
		return err
	}
	if err := session.Release(); err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func (a *app) queryEraCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "era",
		Short: "Show the current era",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(
				cmd,
				func(ctx context.Context, s *nodeclient.Session) (any, error) {
					eraId, err := s.CurrentEra(ctx)
					if err != nil {
						return nil, err
					}
					ret := map[string]any{"era_id": eraId}
					if era := ledger.GetEraById(uint8(eraId)); era != nil { // #nosec G115
						ret["era"] = era.Name
					}
					return ret, nil
				},
			)
		},
	}
}

func (a *app) queryTipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chain-point",
		Short: "Show the point and block number of the ledger state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(
				cmd,
				func(ctx context.Context, s *nodeclient.Session) (any, error) {
					point, err := s.ChainPoint(ctx)
					if err != nil {
						return nil, err
					}
					blockNo, err := s.ChainBlockNo(ctx)
					if err != nil {
						return nil, err
					}
					return map[string]any{
						"slot":     point.Slot,
						"hash":     hex.EncodeToString(point.Hash),
						"block_no": blockNo,
					}, nil
				},
			)
		},
	}
}

func (a *app) queryUtxoCommand() *cobra.Command {
	var addresses []string
	cmd := &cobra.Command{
		Use:   "utxo",
		Short: "List the unspent outputs at the given addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs := make([]ledger.Address, 0, len(addresses))
			for _, addrStr := range addresses {
				addr, err := ledger.NewAddress(addrStr)
				if err != nil {
					return fmt.Errorf("invalid address %s: %w", addrStr, err)
				}
				addrs = append(addrs, addr)
			}
			return a.runQuery(
				cmd,
				func(ctx context.Context, s *nodeclient.Session) (any, error) {
					result, err := s.GetUtxoByAddress(ctx, addrs)
					if err != nil {
						return nil, err
					}
					utxos := make([]map[string]string, 0, len(result.Entries))
					for _, entry := range result.Entries {
						utxos = append(
							utxos,
							map[string]string{
								"input":  hex.EncodeToString(entry.Input),
								"output": hex.EncodeToString(entry.Output),
							},
						)
					}
					return utxos, nil
				},
			)
		},
	}
	cmd.Flags().StringSliceVar(&addresses, "address", nil, "bech32 address to look up (repeatable)")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func (a *app) querySystemStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "system-start",
		Short: "Show the start time of the chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(
				cmd,
				func(ctx context.Context, s *nodeclient.Session) (any, error) {
					result, err := s.SystemStart(ctx)
					if err != nil {
						return nil, err
					}
					start := time.Date(result.Year, time.January, 1, 0, 0, 0, 0, time.UTC).
						AddDate(0, 0, result.Day-1).
						Add(time.Duration(result.Picoseconds / 1000)) // #nosec G115
					return map[string]any{
						"year":        result.Year,
						"day":         result.Day,
						"picoseconds": result.Picoseconds,
						"time":        start.Format(time.RFC3339),
					}, nil
				},
			)
		},
	}
}

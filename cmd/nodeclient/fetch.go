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
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

func (a *app) fetchBlockCommand() *cobra.Command {
	var slot uint64
	var hashHex string
	var outputFile string
	cmd := &cobra.Command{
		Use:   "fetch-block",
		Short: "Fetch a single block from a peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := hex.DecodeString(hashHex)
			if err != nil || len(hash) != 32 {
				return errors.New("--hash must be a 32-byte hex block hash")
			}
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			session, err := a.openPeerSession(ctx)
			if err != nil {
				return err
			}
			defer session.Close()
			block, err := session.FetchBlock(ctx, common.NewPoint(slot, hash))
			if err != nil {
				return err
			}
			eraName := "unknown"
			if era, err := ledger.BlockTypeToEra(block.Type); err == nil {
				eraName = era.Name
			}
			a.logger.Debug(
				"fetched block",
				zap.Uint64("slot", slot),
				zap.String("era", eraName),
				zap.Int("size", len(block.Cbor)),
			)
			if outputFile != "" {
				return os.WriteFile(outputFile, block.Cbor, 0o600)
			}
			fmt.Fprintf(
				cmd.OutOrStdout(),
				"era = %s, slot = %d, size = %d bytes\n",
				eraName,
				slot,
				len(block.Cbor),
			)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&slot, "slot", 0, "slot of the block")
	cmd.Flags().StringVar(&hashHex, "hash", "", "hash of the block")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the block CBOR to this file")
	_ = cmd.MarkFlagRequired("slot")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/ledger"
)

// txEnvelope is the JSON text envelope written by cardano-cli
type txEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

func loadTx(txFile string, rawTxFile string) ([]byte, error) {
	switch {
	case txFile != "":
		data, err := os.ReadFile(txFile)
		if err != nil {
			return nil, err
		}
		var envelope txEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("failed to parse transaction file: %w", err)
		}
		txBytes, err := hex.DecodeString(envelope.CborHex)
		if err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		return txBytes, nil
	case rawTxFile != "":
		return os.ReadFile(rawTxFile)
	default:
		return nil, errors.New("one of --tx-file or --raw-tx-file is required")
	}
}

// submitFunc relays transactions to a peer over a fresh node-to-node connection per call
func (a *app) submitFunc() (func(context.Context, []ledger.MempoolEntry) ([]ledger.TxId, error), error) {
	magic, err := a.networkMagic()
	if err != nil {
		return nil, err
	}
	address, err := a.peerAddress()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, entries []ledger.MempoolEntry) ([]ledger.TxId, error) {
		a.logger.Info(
			"submitting transactions",
			zap.String("address", address),
			zap.Int("count", len(entries)),
		)
		return nodeclient.SubmitTx(ctx, address, magic, entries, a.connectionOptions()...)
	}, nil
}

func (a *app) submitCommand() *cobra.Command {
	var txFile string
	var rawTxFile string
	var era uint16
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Relay a signed transaction to a peer over tx-submission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			txBytes, err := loadTx(txFile, rawTxFile)
			if err != nil {
				return err
			}
			entry, err := ledger.NewMempoolEntry(era, txBytes)
			if err != nil {
				return err
			}
			submit, err := a.submitFunc()
			if err != nil {
				return err
			}
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			acked, err := submit(ctx, []ledger.MempoolEntry{entry})
			if err != nil {
				return err
			}
			for _, txId := range acked {
				if txId == entry.Id {
					fmt.Fprintf(cmd.OutOrStdout(), "Peer acknowledged transaction %s\n", txId)
					return nil
				}
			}
			return fmt.Errorf("peer finished without requesting transaction %s", entry.Id)
		},
	}
	cmd.Flags().StringVar(&txFile, "tx-file", "", "path to a JSON transaction file with a cborHex field")
	cmd.Flags().StringVar(&rawTxFile, "raw-tx-file", "", "path to a raw CBOR transaction file")
	cmd.Flags().Uint16Var(&era, "era", ledger.EraIdConway, "era ID of the transaction")
	cmd.MarkFlagsMutuallyExclusive("tx-file", "raw-tx-file")
	return cmd
}

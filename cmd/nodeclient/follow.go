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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/checkpoint"
	"github.com/blinklabs-io/nodeclient/protocol/chainsync"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

type followFlags struct {
	checkpointDb string
	startSlot    uint64
	startHash    string
}

func (f *followFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.checkpointDb, "checkpoint-db", "", "LevelDB directory to persist the follow cursor in")
	cmd.Flags().Uint64Var(&f.startSlot, "start-slot", 0, "slot to start following from when there is no saved cursor")
	cmd.Flags().StringVar(&f.startHash, "start-hash", "", "block hash to start following from when there is no saved cursor")
}

func (f *followFlags) store() (checkpoint.Store, error) {
	if f.checkpointDb == "" {
		return checkpoint.NewMemoryStore(), nil
	}
	return checkpoint.NewLevelDBStore(f.checkpointDb)
}

func (f *followFlags) startPoints() ([]common.Point, error) {
	if f.startHash == "" {
		return nil, nil
	}
	hash, err := hex.DecodeString(f.startHash)
	if err != nil || len(hash) != 32 {
		return nil, errors.New("--start-hash must be a 32-byte hex block hash")
	}
	return []common.Point{common.NewPoint(f.startSlot, hash)}, nil
}

// newFollower builds a Follower that opens sessions the same way as the other commands
func (a *app) newFollower(f *followFlags, connOpts ...nodeclient.ConnectionOptionFunc) (*nodeclient.Follower, checkpoint.Store, error) {
	startPoints, err := f.startPoints()
	if err != nil {
		return nil, nil, err
	}
	store, err := f.store()
	if err != nil {
		return nil, nil, err
	}
	follower, err := nodeclient.NewFollower(
		nodeclient.FollowerConfig{
			SessionFactory: func(ctx context.Context) (*nodeclient.Session, error) {
				return a.openSession(ctx, connOpts...)
			},
			Store:           store,
			StartPoints:     startPoints,
			EventBufferSize: 100,
			Logger:          a.slogger,
		},
	)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return follower, store, nil
}

func (a *app) followCommand() *cobra.Command {
	var flags followFlags
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Follow the chain and print every update until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			follower, store, err := a.newFollower(&flags)
			if err != nil {
				return err
			}
			defer store.Close()
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return follower.Run(ctx)
			})
			g.Go(func() error {
				for event := range follower.Events() {
					printEvent(cmd.OutOrStdout(), event)
				}
				return nil
			})
			return g.Wait()
		},
	}
	flags.register(cmd)
	return cmd
}

func printEvent(out io.Writer, event nodeclient.FollowEvent) {
	switch event.Type {
	case chainsync.NextOutcomeRollForward:
		fmt.Fprintf(
			out,
			"roll forward: slot = %d, hash = %x, tip = %d\n",
			event.Point.Slot,
			event.Point.Hash,
			event.Outcome.Tip.Point.Slot,
		)
	case chainsync.NextOutcomeRollBackward:
		fmt.Fprintf(
			out,
			"roll backward: slot = %d, hash = %x\n",
			event.Point.Slot,
			event.Point.Hash,
		)
	}
}

// logEvent is the structured counterpart of printEvent used by serve
func (a *app) logEvent(event nodeclient.FollowEvent) {
	a.logger.Info(
		"chain update",
		zap.String("type", event.Type.String()),
		zap.Uint64("slot", event.Point.Slot),
		zap.String("hash", hex.EncodeToString(event.Point.Hash)),
		zap.Uint64("tip_slot", event.Outcome.Tip.Point.Slot),
	)
}

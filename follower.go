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

package nodeclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/nodeclient/checkpoint"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	"github.com/blinklabs-io/nodeclient/protocol/chainsync"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

// DefaultReconnectDelay is how long a Follower waits before reconnecting after a failure
const DefaultReconnectDelay = 5 * time.Second

// SessionFactory opens a new Session for a Follower
type SessionFactory func(ctx context.Context) (*Session, error)

// FollowEvent is a single chain update observed by a Follower
type FollowEvent struct {
	Type chainsync.NextOutcomeType
	// Point of the new block (RollForward) or the rollback target (RollBackward). It is the origin
	// when the point of a forward block cannot be determined, as for Byron headers
	Point common.Point
	// The chain update as received
	Outcome chainsync.NextOutcome
	// Block at the rollback target, re-fetched on node-to-node sessions when the peer still has it
	Block *blockfetch.Block
}

// FollowerConfig is used to configure a Follower
type FollowerConfig struct {
	SessionFactory SessionFactory
	// Cursor store. A memory store is used when nil
	Store checkpoint.Store
	// Points to intersect with when the store is empty, newest first. The origin is used when empty
	StartPoints    []common.Point
	ReconnectDelay time.Duration
	// Capacity of the event channel
	EventBufferSize int
	Logger          *slog.Logger
}

// Follower keeps a Session synced with the chain, reconnecting and resuming from the last seen
// point after failures
type Follower struct {
	config    FollowerConfig
	eventChan chan FollowEvent
}

// NewFollower returns a new Follower. Run starts it
func NewFollower(cfg FollowerConfig) (*Follower, error) {
	if cfg.SessionFactory == nil {
		return nil, errors.New("a session factory must be provided")
	}
	if cfg.Store == nil {
		cfg.Store = checkpoint.NewMemoryStore()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Follower{
		config:    cfg,
		eventChan: make(chan FollowEvent, cfg.EventBufferSize),
	}, nil
}

// Events returns the channel that chain updates are delivered on. It is closed when Run returns
func (f *Follower) Events() <-chan FollowEvent {
	return f.eventChan
}

// Run follows the chain until the context is done, then returns nil. Errors from the store are
// returned immediately, connection failures lead to a reconnect
func (f *Follower) Run(ctx context.Context) error {
	defer close(f.eventChan)
	for {
		err := f.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		var storeErr *storeError
		if errors.As(err, &storeErr) {
			return storeErr.err
		}
		f.config.Logger.Warn(
			"follower session ended, reconnecting",
			"component", "follower",
			"error", err,
			"delay", f.config.ReconnectDelay.String(),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.config.ReconnectDelay):
		}
	}
}

type storeError struct {
	err error
}

func (e *storeError) Error() string {
	return "checkpoint store: " + e.err.Error()
}

// follow runs a single session until it fails
func (f *Follower) follow(ctx context.Context) error {
	session, err := f.config.SessionFactory(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	points, err := f.resumePoints()
	if err != nil {
		return err
	}
	point, tip, err := session.FindIntersect(ctx, points)
	if err != nil {
		return err
	}
	if point == nil {
		return chainsync.ErrIntersectNotFound
	}
	f.config.Logger.Info(
		"follower intersected",
		"component", "follower",
		"point", point.String(),
		"tip", tip.String(),
	)
	for {
		outcome, err := session.Next(ctx)
		if err != nil {
			return err
		}
		event := FollowEvent{
			Type:    outcome.Type,
			Outcome: outcome,
		}
		switch outcome.Type {
		case chainsync.NextOutcomeAwaitReply:
			continue
		case chainsync.NextOutcomeRollForward:
			// Points cannot be derived from Byron headers, so the cursor stays where it is
			if blockPoint, _, err := outcome.BlockPoint(); err == nil {
				event.Point = blockPoint
				if err := f.config.Store.Save(blockPoint); err != nil {
					return &storeError{err: err}
				}
			}
		case chainsync.NextOutcomeRollBackward:
			event.Point = outcome.Point
			if err := f.config.Store.Save(outcome.Point); err != nil {
				return &storeError{err: err}
			}
			if session.Connection().NodeToNode() && !outcome.Point.IsOrigin() {
				block, err := session.FetchBlock(ctx, outcome.Point)
				switch {
				case err == nil:
					event.Block = &block
				case errors.Is(err, blockfetch.ErrBlockNotFound):
				default:
					return err
				}
			}
		}
		select {
		case f.eventChan <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Follower) resumePoints() ([]common.Point, error) {
	saved, err := f.config.Store.Load()
	if err != nil {
		return nil, &storeError{err: err}
	}
	points := []common.Point{}
	if saved != nil {
		points = append(points, *saved)
	}
	points = append(points, f.config.StartPoints...)
	// Fall back to the origin so that an intersection is always possible
	points = append(points, common.NewPointOrigin())
	return points, nil
}

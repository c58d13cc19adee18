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

package blockfetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

// ErrBlockNotFound is returned when the peer does not have the requested block. The client remains
// usable afterward
var ErrBlockNotFound = errors.New("block(s) not found")

// Block is a block body as returned by the peer
type Block struct {
	// Block type from the wrapper, which identifies the era
	Type uint
	Era  uint
	// Opaque block CBOR
	Cbor []byte
}

type batchResult struct {
	blocks []Block
	found  bool
}

// Client implements the BlockFetch client
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	busyMutex       sync.Mutex
	resultChan      chan batchResult
	// Only touched from the protocol receive loop
	batch     []Block
	onceStart sync.Once
	onceStop  sync.Once
}

// NewClient returns a new BlockFetch client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config:     cfg,
		resultChan: make(chan batchResult, 1),
	}
	c.callbackContext = CallbackContext{
		Client:       c,
		ConnectionId: protoOptions.ConnectionId,
	}
	// Update state map with timeouts
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[StateBusy]; ok {
		entry.Timeout = c.config.BatchStartTimeout
		stateMap[StateBusy] = entry
	}
	if entry, ok := stateMap[StateStreaming]; ok {
		entry.Timeout = c.config.BlockTimeout
		stateMap[StateStreaming] = entry
	}
	// Configure underlying Protocol
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		Observer:            protoOptions.Observer,
		ErrorChan:           protoOptions.ErrorChan,
		Mode:                protoOptions.Mode,
		Role:                protocol.ProtocolRoleClient,
		MessageHandlerFunc:  c.messageHandler,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            stateMap,
		InitialState:        StateIdle,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start starts the underlying protocol
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Logger().
			Debug("starting client protocol",
				"component", "network",
				"protocol", ProtocolName,
				"connection_id", c.callbackContext.ConnectionId.String(),
			)
		c.Protocol.Start()
	})
}

// Stop ends the protocol by sending ClientDone when we hold agency
func (c *Client) Stop() error {
	var err error
	c.onceStop.Do(func() {
		c.Logger().
			Debug("stopping client protocol",
				"component", "network",
				"protocol", ProtocolName,
				"connection_id", c.callbackContext.ConnectionId.String(),
			)
		c.busyMutex.Lock()
		defer c.busyMutex.Unlock()
		if c.IsDone() || c.CurrentState() != StateIdle {
			return
		}
		err = c.SendMessage(NewMsgClientDone())
	})
	return err
}

// FetchSingle retrieves the block at the specified point. ErrBlockNotFound is returned when the
// peer does not have it
func (c *Client) FetchSingle(ctx context.Context, point common.Point) (Block, error) {
	blocks, err := c.FetchRange(ctx, point, point)
	if err != nil {
		return Block{}, err
	}
	if len(blocks) != 1 {
		err := fmt.Errorf(
			"%s: %w: expected 1 block for a single point range, got %d",
			ProtocolName,
			protocol.ErrProtocolViolation,
			len(blocks),
		)
		c.Fail(err)
		return Block{}, err
	}
	return blocks[0], nil
}

// FetchRange retrieves all blocks between the start and end points, inclusive
func (c *Client) FetchRange(
	ctx context.Context,
	start common.Point,
	end common.Point,
) ([]Block, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	c.Logger().
		Debug(
			fmt.Sprintf("calling FetchRange(start: %s, end: %s)", start, end),
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	if err := c.SendMessage(NewMsgRequestRange(start, end)); err != nil {
		return nil, err
	}
	result, err := protocol.WaitResult(ctx, c.Protocol, c.resultChan)
	if err != nil {
		return nil, err
	}
	if !result.found {
		return nil, ErrBlockNotFound
	}
	return result.blocks, nil
}

func (c *Client) messageHandler(msg protocol.Message) error {
	var err error
	switch msg := msg.(type) {
	case *MsgStartBatch:
		c.batch = nil
	case *MsgNoBlocks:
		err = c.pushResult(batchResult{})
	case *MsgBlock:
		err = c.handleBlock(msg)
	case *MsgBatchDone:
		blocks := c.batch
		c.batch = nil
		err = c.pushResult(batchResult{blocks: blocks, found: true})
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleBlock(msg *MsgBlock) error {
	if c.config.MaxBatchBlocks > 0 && len(c.batch) >= c.config.MaxBatchBlocks {
		return fmt.Errorf(
			"%s: %w: batch exceeds %d blocks",
			ProtocolName,
			protocol.ErrProtocolViolation,
			c.config.MaxBatchBlocks,
		)
	}
	var wrappedBlock WrappedBlock
	if _, err := cbor.Decode(msg.WrappedBlock.Bytes(), &wrappedBlock); err != nil {
		return &protocol.DecodeError{Protocol: ProtocolName, Err: err}
	}
	era, err := ledger.BlockTypeToEra(wrappedBlock.Type)
	if err != nil {
		return &protocol.DecodeError{Protocol: ProtocolName, Err: err}
	}
	c.batch = append(
		c.batch,
		Block{
			Type: wrappedBlock.Type,
			Era:  uint(era.Id),
			Cbor: wrappedBlock.RawBlock,
		},
	)
	return nil
}

func (c *Client) pushResult(result batchResult) error {
	select {
	case c.resultChan <- result:
		return nil
	case <-c.DoneChan():
		return protocol.ErrProtocolShuttingDown
	}
}

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

package chainsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/nodeclient/connection"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

// CallbackContext provides context information for log lines
type CallbackContext struct {
	ConnectionId connection.ConnectionId
	Client       *Client
}

type intersectResult struct {
	point *common.Point
	tip   common.Tip
}

// Client implements the ChainSync client. Calls are serialized; the client is not meant to be
// driven from several goroutines at once
type Client struct {
	*protocol.Protocol
	config              *Config
	callbackContext     CallbackContext
	busyMutex           sync.Mutex
	stateMutex          sync.Mutex
	awaitingReply       bool
	tip                 *common.Tip
	intersect           *common.Point
	intersectResultChan chan intersectResult
	nextResultChan      chan NextOutcome
	onceStart           sync.Once
	onceStop            sync.Once
}

// NewClient returns a new ChainSync client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config:              cfg,
		intersectResultChan: make(chan intersectResult, 1),
		nextResultChan:      make(chan NextOutcome, 1),
	}
	c.callbackContext = CallbackContext{
		Client:       c,
		ConnectionId: protoOptions.ConnectionId,
	}
	// Use node-to-client protocol ID
	protocolId := ProtocolIdNtC
	if protoOptions.Mode == protocol.ProtocolModeNodeToNode {
		// Use node-to-node protocol ID
		protocolId = ProtocolIdNtN
	}
	// Update state map with timeouts
	stateMap := StateMap.Copy()
	for state, timeout := range map[protocol.State]time.Duration{
		stateIntersect: c.config.IntersectTimeout,
		stateCanAwait:  c.config.RequestTimeout,
		stateMustReply: c.config.BlockTimeout,
	} {
		entry := stateMap[state]
		entry.Timeout = timeout
		stateMap[state] = entry
	}
	protoMode := protoOptions.Mode
	// Configure underlying Protocol
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          protocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		Observer:            protoOptions.Observer,
		ErrorChan:           protoOptions.ErrorChan,
		Mode:                protoMode,
		Role:                protocol.ProtocolRoleClient,
		MessageHandlerFunc:  c.messageHandler,
		MessageFromCborFunc: func(msgType uint, data []byte) (protocol.Message, error) {
			return NewMsgFromCbor(protoMode, msgType, data)
		},
		StateMap:     stateMap,
		InitialState: stateIdle,
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

// Stop ends the protocol by sending Done when we hold agency
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
		if c.IsDone() || c.CurrentState() != stateIdle {
			return
		}
		err = c.SendMessage(NewMsgDone())
	})
	return err
}

// HasAgency returns whether the next call to Next sends a request. It performs no I/O
func (c *Client) HasAgency() bool {
	return c.AgencyState().HasAgency
}

// AgencyState returns the current agency state
func (c *Client) AgencyState() AgencyState {
	c.stateMutex.Lock()
	awaiting := c.awaitingReply
	c.stateMutex.Unlock()
	return AgencyState{
		HasAgency:     !awaiting && c.Protocol.HasAgency(),
		AwaitingReply: awaiting,
	}
}

// Tip returns the most recent tip reported by the peer, if any
func (c *Client) Tip() *common.Tip {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	if c.tip == nil {
		return nil
	}
	tmp := *c.tip
	return &tmp
}

// Intersect returns the point most recently agreed with the peer through an intersection or
// rollback, if any
func (c *Client) Intersect() *common.Point {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	if c.intersect == nil {
		return nil
	}
	tmp := *c.intersect
	return &tmp
}

// FindIntersect asks the peer for the first of the provided points that is on its chain. Points
// should be listed newest first. When none of the points is found, the returned point is nil and
// the error is nil
func (c *Client) FindIntersect(
	ctx context.Context,
	points []common.Point,
) (*common.Point, common.Tip, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	c.Logger().
		Debug(
			fmt.Sprintf("calling FindIntersect(points: %d)", len(points)),
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	if err := c.checkNotAwaiting(); err != nil {
		return nil, common.Tip{}, err
	}
	if err := c.SendMessage(NewMsgFindIntersect(points)); err != nil {
		return nil, common.Tip{}, err
	}
	result, err := protocol.WaitResult(ctx, c.Protocol, c.intersectResultChan)
	if err != nil {
		return nil, common.Tip{}, err
	}
	return result.point, result.tip, nil
}

// GetCurrentTip returns the peer's current tip without moving the read pointer
func (c *Client) GetCurrentTip(ctx context.Context) (common.Tip, error) {
	_, tip, err := c.FindIntersect(ctx, nil)
	return tip, err
}

// Next returns the next chain update. While an AwaitReply is outstanding it waits for the update
// pushed by the peer, otherwise it requests one
func (c *Client) Next(ctx context.Context) (NextOutcome, error) {
	c.stateMutex.Lock()
	awaiting := c.awaitingReply
	c.stateMutex.Unlock()
	if awaiting {
		return c.AwaitNext(ctx)
	}
	return c.RequestNext(ctx)
}

// RequestNext sends a request for the next update and waits for the immediate reply, which may be
// AwaitReply. Calling it while an AwaitReply is outstanding fails the client
func (c *Client) RequestNext(ctx context.Context) (NextOutcome, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	c.Logger().
		Debug("calling RequestNext()",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	if err := c.checkNotAwaiting(); err != nil {
		return NextOutcome{}, err
	}
	if err := c.SendMessage(NewMsgRequestNext()); err != nil {
		return NextOutcome{}, err
	}
	return c.waitNext(ctx)
}

// AwaitNext waits for the update the peer pushes after AwaitReply. Calling it when no AwaitReply
// is outstanding fails the client
func (c *Client) AwaitNext(ctx context.Context) (NextOutcome, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	c.Logger().
		Debug("calling AwaitNext()",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	if c.IsDone() {
		return NextOutcome{}, c.ShutdownErr()
	}
	c.stateMutex.Lock()
	awaiting := c.awaitingReply
	c.stateMutex.Unlock()
	if !awaiting {
		err := fmt.Errorf(
			"%s: %w: %w",
			ProtocolName,
			protocol.ErrProtocolViolationAgency,
			ErrNotAwaiting,
		)
		c.Fail(err)
		return NextOutcome{}, err
	}
	return c.waitNext(ctx)
}

func (c *Client) waitNext(ctx context.Context) (NextOutcome, error) {
	outcome, err := protocol.WaitResult(ctx, c.Protocol, c.nextResultChan)
	if err != nil {
		return NextOutcome{}, err
	}
	c.stateMutex.Lock()
	c.awaitingReply = outcome.Type == NextOutcomeAwaitReply
	c.stateMutex.Unlock()
	return outcome, nil
}

func (c *Client) checkNotAwaiting() error {
	if c.IsDone() {
		return c.ShutdownErr()
	}
	c.stateMutex.Lock()
	awaiting := c.awaitingReply
	c.stateMutex.Unlock()
	if awaiting {
		err := fmt.Errorf(
			"%s: %w: %w",
			ProtocolName,
			protocol.ErrProtocolViolationAgency,
			ErrAwaiting,
		)
		c.Fail(err)
		return err
	}
	return nil
}

func (c *Client) messageHandler(msg protocol.Message) error {
	var err error
	switch msg := msg.(type) {
	case *MsgAwaitReply:
		err = c.handleAwaitReply()
	case *MsgRollForwardNtC:
		err = c.handleRollForwardNtC(msg)
	case *MsgRollForwardNtN:
		err = c.handleRollForwardNtN(msg)
	case *MsgRollBackward:
		err = c.handleRollBackward(msg)
	case *MsgIntersectFound:
		err = c.handleIntersectFound(msg)
	case *MsgIntersectNotFound:
		err = c.handleIntersectNotFound(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleAwaitReply() error {
	c.Logger().
		Debug("await reply",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	return c.pushNext(NextOutcome{Type: NextOutcomeAwaitReply})
}

func (c *Client) handleRollForwardNtC(msg *MsgRollForwardNtC) error {
	wrappedBlock, err := msg.Block()
	if err != nil {
		return &protocol.DecodeError{Protocol: ProtocolName, Err: err}
	}
	era, err := ledger.BlockTypeToEra(wrappedBlock.BlockType)
	if err != nil {
		return &protocol.DecodeError{Protocol: ProtocolName, Err: err}
	}
	c.Logger().
		Debug("roll forward",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
			"block_type", wrappedBlock.BlockType,
			"tip", msg.Tip.String(),
		)
	c.setTip(msg.Tip)
	return c.pushNext(
		NextOutcome{
			Type:      NextOutcomeRollForward,
			Era:       uint(era.Id),
			BlockType: wrappedBlock.BlockType,
			Payload:   wrappedBlock.BlockCbor,
			Tip:       msg.Tip,
		},
	)
}

func (c *Client) handleRollForwardNtN(msg *MsgRollForwardNtN) error {
	if ledger.GetEraById(uint8(msg.WrappedHeader.Era)) == nil { // #nosec G115
		return &protocol.DecodeError{
			Protocol: ProtocolName,
			Err:      fmt.Errorf("unknown era %d", msg.WrappedHeader.Era),
		}
	}
	c.Logger().
		Debug("roll forward",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
			"era", msg.WrappedHeader.Era,
			"tip", msg.Tip.String(),
		)
	c.setTip(msg.Tip)
	return c.pushNext(
		NextOutcome{
			Type:      NextOutcomeRollForward,
			Era:       msg.WrappedHeader.Era,
			ByronType: msg.WrappedHeader.ByronType(),
			IsHeader:  true,
			Payload:   msg.WrappedHeader.HeaderCbor(),
			Tip:       msg.Tip,
		},
	)
}

func (c *Client) handleRollBackward(msg *MsgRollBackward) error {
	c.Logger().
		Debug("roll backward",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
			"point", msg.Point.String(),
			"tip", msg.Tip.String(),
		)
	c.stateMutex.Lock()
	point := msg.Point
	c.intersect = &point
	c.stateMutex.Unlock()
	c.setTip(msg.Tip)
	return c.pushNext(
		NextOutcome{
			Type:  NextOutcomeRollBackward,
			Point: msg.Point,
			Tip:   msg.Tip,
		},
	)
}

func (c *Client) handleIntersectFound(msg *MsgIntersectFound) error {
	c.Logger().
		Debug("intersect found",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
			"point", msg.Point.String(),
			"tip", msg.Tip.String(),
		)
	point := msg.Point
	c.stateMutex.Lock()
	c.intersect = &point
	c.stateMutex.Unlock()
	c.setTip(msg.Tip)
	return c.pushIntersect(intersectResult{point: &point, tip: msg.Tip})
}

func (c *Client) handleIntersectNotFound(msg *MsgIntersectNotFound) error {
	c.Logger().
		Debug("intersect not found",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
			"tip", msg.Tip.String(),
		)
	c.setTip(msg.Tip)
	return c.pushIntersect(intersectResult{tip: msg.Tip})
}

func (c *Client) setTip(tip common.Tip) {
	c.stateMutex.Lock()
	c.tip = &tip
	c.stateMutex.Unlock()
}

func (c *Client) pushNext(outcome NextOutcome) error {
	select {
	case c.nextResultChan <- outcome:
		return nil
	case <-c.DoneChan():
		return protocol.ErrProtocolShuttingDown
	}
}

func (c *Client) pushIntersect(result intersectResult) error {
	select {
	case c.intersectResultChan <- result:
		return nil
	case <-c.DoneChan():
		return protocol.ErrProtocolShuttingDown
	}
}

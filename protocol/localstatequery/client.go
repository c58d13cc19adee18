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

package localstatequery

import (
	"context"
	"fmt"
	"sync"

	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

// Client implements the LocalStateQuery client
type Client struct {
	*protocol.Protocol
	config                *Config
	callbackContext       CallbackContext
	enableChainPointQuery bool
	busyMutex             sync.Mutex
	// Incremented whenever the acquired point is replaced or released
	generation        uint64
	acquireResultChan chan error
	queryResultChan   chan cbor.RawMessage
	onceStart         sync.Once
	onceStop          sync.Once
}

// NewClient returns a new LocalStateQuery client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config:            cfg,
		acquireResultChan: make(chan error, 1),
		queryResultChan:   make(chan cbor.RawMessage, 1),
	}
	c.callbackContext = CallbackContext{
		Client:       c,
		ConnectionId: protoOptions.ConnectionId,
	}
	// The negotiated version arrives without the node-to-client flag
	if versionInfo, ok := protocol.GetProtocolVersion(
		protoOptions.Version + protocol.ProtocolVersionNtCOffset,
	); ok {
		c.enableChainPointQuery = versionInfo.EnableChainPointQuery
	}
	// Update state map with timeouts
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[stateAcquiring]; ok {
		entry.Timeout = c.config.AcquireTimeout
		stateMap[stateAcquiring] = entry
	}
	if entry, ok := stateMap[stateQuerying]; ok {
		entry.Timeout = c.config.QueryTimeout
		stateMap[stateQuerying] = entry
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
		InitialState:        stateIdle,
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

// Stop releases any acquired point and ends the protocol
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
		if c.IsDone() {
			return
		}
		if c.CurrentState() == stateAcquired {
			c.generation++
			if err = c.SendMessage(NewMsgRelease()); err != nil {
				return
			}
		}
		if c.CurrentState() == stateIdle {
			err = c.SendMessage(NewMsgDone())
		}
	})
	return err
}

// Acquire acquires the ledger state at the specified point, or at the volatile tip when point is
// nil. Any previously returned handle is invalidated. A node that declines returns an
// *AcquireFailedError and the client remains usable
func (c *Client) Acquire(ctx context.Context, point *common.Point) (*QueryHandle, error) {
	return c.acquire(ctx, point, "Acquire")
}

// Reacquire replaces the acquired point without an intervening release. It is also accepted
// when nothing is acquired
func (c *Client) Reacquire(ctx context.Context, point *common.Point) (*QueryHandle, error) {
	return c.acquire(ctx, point, "Reacquire")
}

func (c *Client) acquire(
	ctx context.Context,
	point *common.Point,
	caller string,
) (*QueryHandle, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	c.Logger().
		Debug(
			fmt.Sprintf("calling %s(point: %s)", caller, pointString(point)),
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	if c.IsDone() {
		return nil, c.ShutdownErr()
	}
	var msg protocol.Message
	switch c.CurrentState() {
	case stateAcquired:
		if point == nil {
			msg = NewMsgReacquireVolatileTip()
		} else {
			msg = NewMsgReacquire(*point)
		}
	default:
		if point == nil {
			msg = NewMsgAcquireVolatileTip()
		} else {
			msg = NewMsgAcquire(*point)
		}
	}
	// The old handle refers to a point that is about to be replaced
	c.generation++
	if err := c.SendMessage(msg); err != nil {
		return nil, err
	}
	result, err := protocol.WaitResult(ctx, c.Protocol, c.acquireResultChan)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return nil, result
	}
	h := &QueryHandle{
		client:     c,
		generation: c.generation,
	}
	if point != nil {
		tmpPoint := *point
		h.point = &tmpPoint
	}
	return h, nil
}

// Release releases the acquired point. It does nothing when no point is acquired
func (c *Client) Release() error {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	c.Logger().
		Debug("calling Release()",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	if c.IsDone() {
		return c.ShutdownErr()
	}
	if c.CurrentState() != stateAcquired {
		return nil
	}
	c.generation++
	return c.SendMessage(NewMsgRelease())
}

// Query runs a raw query against the currently acquired point
func (c *Client) Query(ctx context.Context, query any) (cbor.RawMessage, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	return c.runQuery(ctx, c.generation, query)
}

// runQuery sends the query and waits for the result. The busy mutex must be held
func (c *Client) runQuery(
	ctx context.Context,
	generation uint64,
	query any,
) (cbor.RawMessage, error) {
	if c.IsDone() {
		return nil, c.ShutdownErr()
	}
	if c.CurrentState() != stateAcquired {
		return nil, ErrNotAcquired
	}
	if generation != c.generation {
		return nil, ErrHandleReleased
	}
	msg, err := NewMsgQuery(query)
	if err != nil {
		return nil, err
	}
	if err := c.SendMessage(msg); err != nil {
		return nil, err
	}
	return protocol.WaitResult(ctx, c.Protocol, c.queryResultChan)
}

func (c *Client) messageHandler(msg protocol.Message) error {
	var err error
	switch msg := msg.(type) {
	case *MsgAcquired:
		err = c.pushAcquireResult(nil)
	case *MsgFailure:
		c.Logger().
			Debug("acquire failure",
				"component", "network",
				"protocol", ProtocolName,
				"role", "client",
				"connection_id", c.callbackContext.ConnectionId.String(),
				"reason", msg.Failure,
			)
		err = c.pushAcquireResult(&AcquireFailedError{Reason: msg.Failure})
	case *MsgResult:
		select {
		case c.queryResultChan <- msg.Result:
		case <-c.DoneChan():
			err = protocol.ErrProtocolShuttingDown
		}
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) pushAcquireResult(result error) error {
	select {
	case c.acquireResultChan <- result:
		return nil
	case <-c.DoneChan():
		return protocol.ErrProtocolShuttingDown
	}
}

func pointString(point *common.Point) string {
	if point == nil {
		return "tip"
	}
	return point.String()
}

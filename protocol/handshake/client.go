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

package handshake

import (
	"context"
	"fmt"
	"sync"

	"github.com/blinklabs-io/nodeclient/protocol"
)

// Result is the outcome of a successful handshake
type Result struct {
	Version     uint16
	VersionData protocol.VersionData
}

type handshakeReply struct {
	result Result
	err    error
}

// Client implements the Handshake client
type Client struct {
	*protocol.Protocol
	config     *Config
	replyChan  chan handshakeReply
	onceStart  sync.Once
	doneResult *handshakeReply
	mutex      sync.Mutex
}

// NewClient returns a new Handshake client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config:    cfg,
		replyChan: make(chan handshakeReply, 1),
	}
	// Update state map with timeout
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[stateConfirm]; ok {
		entry.Timeout = c.config.Timeout
		stateMap[stateConfirm] = entry
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
		MessageHandlerFunc:  c.handleMessage,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            stateMap,
		InitialState:        statePropose,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the handshake process by proposing our versions
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Start()
		msg, err := NewMsgProposeVersions(c.config.ProtocolVersionMap)
		if err != nil {
			c.Fail(err)
			return
		}
		c.Logger().Debug(
			"calling Start()",
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
		)
		_ = c.SendMessage(msg)
	})
}

// Wait blocks until the peer accepts or refuses our proposal
func (c *Client) Wait(ctx context.Context) (Result, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.doneResult != nil {
		return c.doneResult.result, c.doneResult.err
	}
	reply, err := protocol.WaitResult(ctx, c.Protocol, c.replyChan)
	if err != nil {
		return Result{}, err
	}
	c.doneResult = &reply
	return reply.result, reply.err
}

func (c *Client) handleMessage(msg protocol.Message) error {
	var err error
	switch msg := msg.(type) {
	case *MsgAcceptVersion:
		err = c.handleAcceptVersion(msg)
	case *MsgRefuse:
		err = c.handleRefuse(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleAcceptVersion(msg *MsgAcceptVersion) error {
	c.Logger().Debug(
		"accept version",
		"component", "network",
		"protocol", ProtocolName,
		"version", msg.Version,
	)
	proposed, ok := c.config.ProtocolVersionMap[msg.Version]
	if !ok {
		return fmt.Errorf(
			"%s: %w: peer accepted version %d which was not proposed",
			ProtocolName,
			protocol.ErrProtocolViolation,
			msg.Version,
		)
	}
	protoVersion, ok := protocol.GetProtocolVersion(msg.Version)
	if !ok {
		return fmt.Errorf("%s: unsupported version %d", ProtocolName, msg.Version)
	}
	versionData, err := protoVersion.NewVersionDataFromCborFunc(msg.VersionData)
	if err != nil {
		return &protocol.DecodeError{Protocol: ProtocolName, Err: err}
	}
	if versionData.NetworkMagic() != proposed.NetworkMagic() {
		return fmt.Errorf(
			"%s: %w: peer accepted with network magic %d, expected %d",
			ProtocolName,
			protocol.ErrProtocolViolation,
			versionData.NetworkMagic(),
			proposed.NetworkMagic(),
		)
	}
	c.replyChan <- handshakeReply{
		result: Result{
			Version:     msg.Version,
			VersionData: versionData,
		},
	}
	return nil
}

func (c *Client) handleRefuse(msg *MsgRefuse) error {
	refusedErr, err := refusedErrorFromReason(msg.Reason)
	if err != nil {
		return &protocol.DecodeError{Protocol: ProtocolName, Err: err}
	}
	c.Logger().Debug(
		"refuse",
		"component", "network",
		"protocol", ProtocolName,
		"reason", refusedErr.Error(),
	)
	c.replyChan <- handshakeReply{err: refusedErr}
	return nil
}

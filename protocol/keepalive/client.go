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

package keepalive

import (
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/nodeclient/protocol"
)

// Client periodically pings the peer and fails the protocol when a ping goes unanswered
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	timer           *time.Timer
	timerMutex      sync.Mutex
	sentAt          time.Time
	onceStart       sync.Once
}

func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config: cfg,
	}
	c.callbackContext = CallbackContext{
		Client:       c,
		ConnectionId: protoOptions.ConnectionId,
	}
	// Update state map with timeout
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[StateServer]; ok {
		entry.Timeout = c.config.Timeout
		stateMap[StateServer] = entry
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
		InitialState:        StateClient,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Start()
		// Start goroutine to cleanup resources on protocol shutdown
		go func() {
			<-c.DoneChan()
			c.timerMutex.Lock()
			if c.timer != nil {
				c.timer.Stop()
			}
			c.timerMutex.Unlock()
		}()
		c.sendKeepAlive()
	})
}

func (c *Client) sendKeepAlive() {
	if c.IsDone() {
		return
	}
	c.timerMutex.Lock()
	c.sentAt = time.Now()
	c.timerMutex.Unlock()
	msg := NewMsgKeepAlive(c.config.Cookie)
	// Send failures are sticky on the protocol and reported on the error channel
	_ = c.SendMessage(msg)
}

// startTimer schedules the next ping
func (c *Client) startTimer() {
	c.timerMutex.Lock()
	defer c.timerMutex.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.config.Period, c.sendKeepAlive)
}

func (c *Client) messageHandler(msg protocol.Message) error {
	var err error
	switch msg := msg.(type) {
	case *MsgKeepAliveResponse:
		err = c.handleKeepAliveResponse(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleKeepAliveResponse(msg *MsgKeepAliveResponse) error {
	if msg.Cookie != c.config.Cookie {
		return fmt.Errorf(
			"%s: %w: unexpected cookie in response, expected %d but received %d",
			ProtocolName,
			protocol.ErrProtocolViolation,
			c.config.Cookie,
			msg.Cookie,
		)
	}
	c.timerMutex.Lock()
	rtt := time.Since(c.sentAt)
	c.timerMutex.Unlock()
	c.Logger().Debug(
		"keep-alive response",
		"component", "network",
		"protocol", ProtocolName,
		"cookie", msg.Cookie,
		"rtt", rtt,
	)
	if c.config.KeepAliveResponseFunc != nil {
		if err := c.config.KeepAliveResponseFunc(c.callbackContext, msg.Cookie, rtt); err != nil {
			return err
		}
	}
	c.startTimer()
	return nil
}

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

// Package ouroboros_mock provides a scripted peer for exercising mini-protocol
// clients over an in-memory connection
package ouroboros_mock

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/muxer"
)

// ProtocolRole is an enum of the protocol roles
type ProtocolRole uint

// Protocol roles
const (
	ProtocolRoleNone   ProtocolRole = 0 // Default (invalid) protocol role
	ProtocolRoleClient ProtocolRole = 1 // Client protocol role
	ProtocolRoleServer ProtocolRole = 2 // Server protocol role
)

// ErrConnectionClosed is reported when the connection closes before the conversation finishes
var ErrConnectionClosed = errors.New("connection closed before conversation finished")

// Connection mocks an Ouroboros connection
type Connection struct {
	mockConn      net.Conn
	conn          net.Conn
	conversation  []ConversationEntry
	muxer         *muxer.Muxer
	muxerRecvChan chan *muxer.Segment
	errorChan     chan error
	doneChan      chan struct{}
	onceClose     sync.Once
}

// NewConnection returns a new Connection with the provided conversation entries
func NewConnection(
	protocolRole ProtocolRole,
	conversation []ConversationEntry,
) net.Conn {
	c := &Connection{
		conversation: conversation,
		errorChan:    make(chan error, 1),
		doneChan:     make(chan struct{}),
	}
	c.conn, c.mockConn = net.Pipe()
	// Start a muxer on the mocked side of the connection
	c.muxer = muxer.New(c.mockConn)
	// The muxer is for the opposite end of the connection, so we flip the protocol role
	muxerProtocolRole := muxer.ProtocolRoleResponder
	if protocolRole == ProtocolRoleServer {
		muxerProtocolRole = muxer.ProtocolRoleInitiator
	}
	// We use ProtocolUnknown to catch all inbound messages when no other protocols are registered
	_, c.muxerRecvChan, _ = c.muxer.RegisterProtocol(
		muxer.ProtocolUnknown,
		muxerProtocolRole,
	)
	c.muxer.Start()
	// Start async conversation handler
	go c.asyncLoop()
	return c
}

// ErrorChan returns a channel that receives an error if the conversation does not go as scripted.
// The channel is closed when the conversation ends
func (c *Connection) ErrorChan() <-chan error {
	return c.errorChan
}

// Read provides a proxy to the client-side connection's Read function. This is needed to satisfy the net.Conn interface
func (c *Connection) Read(b []byte) (n int, err error) {
	return c.conn.Read(b)
}

// Write provides a proxy to the client-side connection's Write function. This is needed to satisfy the net.Conn interface
func (c *Connection) Write(b []byte) (n int, err error) {
	return c.conn.Write(b)
}

// Close closes both sides of the connection. This is needed to satisfy the net.Conn interface
func (c *Connection) Close() error {
	var err error
	c.onceClose.Do(func() {
		close(c.doneChan)
		// The muxer owns the mock side of the pipe
		c.muxer.Stop()
		err = c.conn.Close()
	})
	return err
}

// LocalAddr provides a proxy to the client-side connection's LocalAddr function. This is needed to satisfy the net.Conn interface
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr provides a proxy to the client-side connection's RemoteAddr function. This is needed to satisfy the net.Conn interface
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline provides a proxy to the client-side connection's SetDeadline function. This is needed to satisfy the net.Conn interface
func (c *Connection) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline provides a proxy to the client-side connection's SetReadDeadline function. This is needed to satisfy the net.Conn interface
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline provides a proxy to the client-side connection's SetWriteDeadline function. This is needed to satisfy the net.Conn interface
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *Connection) asyncLoop() {
	defer close(c.errorChan)
	for idx, entry := range c.conversation {
		var err error
		switch entry := entry.(type) {
		case ConversationEntryInput:
			err = c.processInputEntry(entry)
			if err != nil {
				err = fmt.Errorf("input error: %w", err)
			}
		case ConversationEntryOutput:
			err = c.processOutputEntry(entry)
			if err != nil {
				err = fmt.Errorf("output error: %w", err)
			}
		case ConversationEntrySleep:
			select {
			case <-time.After(entry.Duration):
			case <-c.doneChan:
				err = ErrConnectionClosed
			}
		case ConversationEntryClose:
			_ = c.Close()
		default:
			err = fmt.Errorf("unknown conversation entry type: %T", entry)
		}
		if err != nil {
			c.errorChan <- fmt.Errorf("conversation entry %d: %w", idx, err)
			return
		}
	}
}

func (c *Connection) processInputEntry(entry ConversationEntryInput) error {
	// Wait for segment to be received from muxer
	var segment *muxer.Segment
	select {
	case segment = <-c.muxerRecvChan:
	case <-c.doneChan:
		return ErrConnectionClosed
	}
	if segment.GetProtocolId() != entry.ProtocolId {
		return fmt.Errorf(
			"input message protocol ID did not match expected value: expected %d, got %d",
			entry.ProtocolId,
			segment.GetProtocolId(),
		)
	}
	if segment.IsResponse() != entry.IsResponse {
		return fmt.Errorf(
			"input message response flag did not match expected value: expected %v, got %v",
			entry.IsResponse,
			segment.IsResponse(),
		)
	}
	// Determine message type
	msgType, err := cbor.DecodeIdFromList(segment.Payload)
	if err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	if entry.Message != nil {
		expected, err := cbor.Encode(entry.Message)
		if err != nil {
			return err
		}
		if !bytes.Equal(expected, segment.Payload) {
			return fmt.Errorf(
				"message does not match expected value: got %s, expected %s",
				hex.EncodeToString(segment.Payload),
				hex.EncodeToString(expected),
			)
		}
		return nil
	}
	if entry.MessageType != uint(msgType) {
		return fmt.Errorf(
			"input message is not of expected type: expected %d, got %d",
			entry.MessageType,
			msgType,
		)
	}
	if entry.MatchFunc != nil {
		return entry.MatchFunc(segment.Payload)
	}
	return nil
}

func (c *Connection) processOutputEntry(entry ConversationEntryOutput) error {
	payloadBuf := bytes.NewBuffer(nil)
	for _, msg := range entry.Messages {
		// Get raw CBOR from message
		data := msg.Cbor()
		// If message has no raw CBOR, encode the message
		if data == nil {
			var err error
			data, err = cbor.Encode(msg)
			if err != nil {
				return err
			}
		}
		payloadBuf.Write(data)
	}
	payload := payloadBuf.Bytes()
	// Split the payload across segments the way a node would for large messages
	for {
		segmentPayload := payload
		if len(segmentPayload) > muxer.SegmentMaxPayloadLength {
			segmentPayload = payload[:muxer.SegmentMaxPayloadLength]
		}
		segment := muxer.NewSegment(
			entry.ProtocolId,
			segmentPayload,
			entry.IsResponse,
		)
		if err := c.muxer.Send(segment); err != nil {
			return err
		}
		if len(segmentPayload) == len(payload) {
			return nil
		}
		payload = payload[len(segmentPayload):]
	}
}

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

package txsubmission

import (
	"context"
	"fmt"
	"sync"

	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
)

// SubmissionState describes what the peer most recently asked of us
type SubmissionState uint8

const (
	SubmissionStateInit SubmissionState = iota
	SubmissionStateTxIdsBlocking
	SubmissionStateTxIdsNonBlocking
	SubmissionStateTxs
	SubmissionStateDone
)

func (s SubmissionState) String() string {
	switch s {
	case SubmissionStateInit:
		return "Init"
	case SubmissionStateTxIdsBlocking:
		return "TxIdsBlocking"
	case SubmissionStateTxIdsNonBlocking:
		return "TxIdsNonBlocking"
	case SubmissionStateTxs:
		return "Txs"
	case SubmissionStateDone:
		return "Done"
	default:
		return fmt.Sprintf("SubmissionState(%d)", uint8(s))
	}
}

// Client implements the TxSubmission client. The client side of this protocol offers
// transactions and the peer pulls them
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	requestChan     chan protocol.Message
	stateMutex      sync.Mutex
	state           SubmissionState
	submitted       bool
	onceStart       sync.Once
}

// NewClient returns a new TxSubmission client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config: cfg,
		// The peer cannot send another request until we reply, so one slot is enough
		requestChan: make(chan protocol.Message, 1),
	}
	c.callbackContext = CallbackContext{
		Client:       c,
		ConnectionId: protoOptions.ConnectionId,
	}
	// Update state map with timeout
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[stateIdle]; ok {
		entry.Timeout = c.config.IdleTimeout
		stateMap[stateIdle] = entry
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
		InitialState:        stateInit,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start starts the underlying protocol and sends the Init message
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Logger().
			Debug("starting client protocol",
				"component", "network",
				"protocol", ProtocolName,
				"connection_id", c.callbackContext.ConnectionId.String(),
			)
		c.Protocol.Start()
		if err := c.SendMessage(NewMsgInit()); err != nil {
			c.Fail(err)
		}
	})
}

// State returns the submission state
func (c *Client) State() SubmissionState {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	return c.state
}

func (c *Client) setState(state SubmissionState) {
	c.stateMutex.Lock()
	c.state = state
	c.stateMutex.Unlock()
}

// Submit offers the provided entries to the peer and serves its requests until it finishes with a
// blocking request we have nothing left for. It returns the IDs the peer acknowledged, in the
// order they were announced. A client can only submit once
func (c *Client) Submit(
	ctx context.Context,
	entries []ledger.MempoolEntry,
) ([]ledger.TxId, error) {
	c.stateMutex.Lock()
	if c.submitted {
		c.stateMutex.Unlock()
		return nil, ErrSubmissionStarted
	}
	c.submitted = true
	c.stateMutex.Unlock()
	c.Logger().
		Debug(
			fmt.Sprintf("calling Submit(entries: %d)", len(entries)),
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	relay := newRelay(entries)
	for {
		msg, err := protocol.WaitResult(ctx, c.Protocol, c.requestChan)
		if err != nil {
			return relay.acked, err
		}
		switch msg := msg.(type) {
		case *MsgRequestTxIds:
			done, err := c.handleRequestTxIds(relay, msg)
			if err != nil {
				return relay.acked, err
			}
			if done {
				return relay.acked, nil
			}
		case *MsgRequestTxs:
			if err := c.handleRequestTxs(relay, msg); err != nil {
				return relay.acked, err
			}
		}
	}
}

func (c *Client) handleRequestTxIds(r *relay, msg *MsgRequestTxIds) (bool, error) {
	if msg.Blocking {
		c.setState(SubmissionStateTxIdsBlocking)
	} else {
		c.setState(SubmissionStateTxIdsNonBlocking)
	}
	if err := r.ack(int(msg.Ack)); err != nil {
		return false, c.violation(err)
	}
	if msg.Blocking {
		if len(r.outstanding) > 0 {
			return false, c.violation(ErrBlockingWithUnacked)
		}
		if msg.Req == 0 || len(r.pending) == 0 {
			if err := c.SendMessage(NewMsgDone()); err != nil {
				return false, err
			}
			c.setState(SubmissionStateDone)
			return true, nil
		}
	} else {
		if len(r.outstanding) == 0 {
			return false, c.violation(ErrNonBlockingAllAcked)
		}
		if msg.Req == 0 {
			return false, c.violation(ErrNonBlockingZeroCount)
		}
	}
	announced := r.announce(int(msg.Req))
	txIds := make([]TxIdAndSize, 0, len(announced))
	for _, entry := range announced {
		txIds = append(
			txIds,
			TxIdAndSize{
				TxId: TxId{
					EraId: entry.Era,
					TxId:  entry.Id,
				},
				Size: entry.Size(),
			},
		)
	}
	return false, c.SendMessage(NewMsgReplyTxIds(txIds))
}

func (c *Client) handleRequestTxs(r *relay, msg *MsgRequestTxs) error {
	c.setState(SubmissionStateTxs)
	txs := make([]TxBody, 0, len(msg.TxIds))
	for _, txId := range msg.TxIds {
		entry, ok := r.lookup(ledger.TxId(txId.TxId))
		if !ok {
			return c.violation(
				fmt.Errorf("%w: %x", ErrUnknownTxRequested, txId.TxId),
			)
		}
		txs = append(
			txs,
			TxBody{
				EraId:  entry.Era,
				TxBody: entry.Body,
			},
		)
	}
	return c.SendMessage(NewMsgReplyTxs(txs))
}

func (c *Client) violation(cause error) error {
	err := relayViolation(cause)
	c.Fail(err)
	return err
}

func (c *Client) messageHandler(msg protocol.Message) error {
	switch msg.(type) {
	case *MsgRequestTxIds, *MsgRequestTxs:
		select {
		case c.requestChan <- msg:
			return nil
		case <-c.DoneChan():
			return protocol.ErrProtocolShuttingDown
		}
	default:
		return fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
}

// relay tracks which entries have been announced to the peer and not yet acknowledged
type relay struct {
	pending     []ledger.MempoolEntry
	outstanding []ledger.MempoolEntry
	acked       []ledger.TxId
}

func newRelay(entries []ledger.MempoolEntry) *relay {
	pending := make([]ledger.MempoolEntry, len(entries))
	copy(pending, entries)
	return &relay{
		pending: pending,
		acked:   []ledger.TxId{},
	}
}

// ack drops the oldest count outstanding entries
func (r *relay) ack(count int) error {
	if count > len(r.outstanding) {
		return fmt.Errorf(
			"%w: ack %d with %d outstanding",
			ErrAckTooLarge,
			count,
			len(r.outstanding),
		)
	}
	for _, entry := range r.outstanding[:count] {
		r.acked = append(r.acked, entry.Id)
	}
	r.outstanding = r.outstanding[count:]
	return nil
}

// announce moves up to count pending entries to outstanding and returns them
func (r *relay) announce(count int) []ledger.MempoolEntry {
	count = min(count, len(r.pending))
	announced := r.pending[:count]
	r.pending = r.pending[count:]
	r.outstanding = append(r.outstanding, announced...)
	return announced
}

func (r *relay) lookup(id ledger.TxId) (ledger.MempoolEntry, bool) {
	for _, entry := range r.outstanding {
		if entry.Id == id {
			return entry, true
		}
	}
	return ledger.MempoolEntry{}, false
}

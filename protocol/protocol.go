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

// Package protocol provides the common functionality for mini-protocols
package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/connection"
	"github.com/blinklabs-io/nodeclient/muxer"
)

// DefaultMaxPendingMessageBytes is the largest partial message buffered before the
// peer is considered to be sending garbage
const DefaultMaxPendingMessageBytes = 4 * 1024 * 1024

// Protocol implements the base functionality of a mini-protocol
type Protocol struct {
	config               ProtocolConfig
	doneChan             chan struct{}
	muxerSendChan        chan *muxer.Segment
	muxerRecvChan        chan *muxer.Segment
	muxerDoneChan        chan bool
	recvBuffer           *bytes.Buffer
	sendMutex            sync.Mutex
	currentState         State
	stateMutex           sync.Mutex
	stateTransitionTimer *time.Timer
	err                  error
	errMutex             sync.Mutex
	waitGroup            sync.WaitGroup
	onceStart            sync.Once
	onceShutdown         sync.Once
}

// ProtocolConfig provides the configuration for Protocol
type ProtocolConfig struct {
	Name                   string
	ProtocolId             uint16
	ErrorChan              chan error
	Muxer                  *muxer.Muxer
	Logger                 *slog.Logger
	Observer               MessageObserver
	Mode                   ProtocolMode
	Role                   ProtocolRole
	MessageHandlerFunc     MessageHandlerFunc
	MessageFromCborFunc    MessageFromCborFunc
	StateMap               StateMap
	StateContext           any
	InitialState           State
	MaxPendingMessageBytes int
}

// ProtocolMode is an enum of the protocol modes
type ProtocolMode uint

const (
	ProtocolModeNone         ProtocolMode = 0
	ProtocolModeNodeToClient ProtocolMode = 1
	ProtocolModeNodeToNode   ProtocolMode = 2
)

// ProtocolRole is an enum of the protocol roles
type ProtocolRole uint

// Protocol roles
const (
	ProtocolRoleNone   ProtocolRole = 0
	ProtocolRoleClient ProtocolRole = 1
	ProtocolRoleServer ProtocolRole = 2
)

// ProtocolOptions provides common arguments for all mini-protocols
type ProtocolOptions struct {
	ConnectionId connection.ConnectionId
	Muxer        *muxer.Muxer
	Logger       *slog.Logger
	Observer     MessageObserver
	ErrorChan    chan error
	Mode         ProtocolMode
	Role         ProtocolRole
	Version      uint16
}

// MessageObserver receives notifications about mini-protocol traffic
type MessageObserver interface {
	MessageSent(protocolName string, msgType uint8)
	MessageReceived(protocolName string, msgType uint8)
	ProtocolFailed(protocolName string, err error)
}

// MessageHandlerFunc represents a function that handles an incoming message
type MessageHandlerFunc func(Message) error

// MessageFromCborFunc represents a function that parses a mini-protocol message
type MessageFromCborFunc func(uint, []byte) (Message, error)

// New returns a new Protocol object
func New(config ProtocolConfig) *Protocol {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.MaxPendingMessageBytes <= 0 {
		config.MaxPendingMessageBytes = DefaultMaxPendingMessageBytes
	}
	p := &Protocol{
		config:       config,
		doneChan:     make(chan struct{}),
		recvBuffer:   bytes.NewBuffer(nil),
		currentState: config.InitialState,
	}
	return p
}

// Start initializes the mini-protocol
func (p *Protocol) Start() {
	p.onceStart.Do(func() {
		// Register protocol with muxer
		muxerProtocolRole := muxer.ProtocolRoleInitiator
		if p.config.Role == ProtocolRoleServer {
			muxerProtocolRole = muxer.ProtocolRoleResponder
		}
		p.muxerSendChan, p.muxerRecvChan, p.muxerDoneChan = p.config.Muxer.RegisterProtocol(
			p.config.ProtocolId,
			muxerProtocolRole,
		)
		if p.muxerSendChan == nil {
			p.fail(ErrProtocolShuttingDown)
			return
		}
		p.stateMutex.Lock()
		p.setState(p.config.InitialState)
		p.stateMutex.Unlock()
		p.waitGroup.Add(1)
		go p.recvLoop()
	})
}

// Stop shuts down the mini-protocol and waits for its receive loop to exit
func (p *Protocol) Stop() {
	p.shutdown()
	p.waitGroup.Wait()
}

func (p *Protocol) shutdown() {
	p.onceShutdown.Do(func() {
		p.stateMutex.Lock()
		if p.stateTransitionTimer != nil {
			p.stateTransitionTimer.Stop()
			p.stateTransitionTimer = nil
		}
		p.stateMutex.Unlock()
		close(p.doneChan)
	})
}

// Logger returns the protocol logger
func (p *Protocol) Logger() *slog.Logger {
	return p.config.Logger
}

// Mode returns the protocol mode
func (p *Protocol) Mode() ProtocolMode {
	return p.config.Mode
}

// Role returns the protocol role
func (p *Protocol) Role() ProtocolRole {
	return p.config.Role
}

// DoneChan returns the channel used to signal protocol shutdown
func (p *Protocol) DoneChan() <-chan struct{} {
	return p.doneChan
}

// IsDone returns whether the protocol has shut down
func (p *Protocol) IsDone() bool {
	select {
	case <-p.doneChan:
		return true
	default:
		return false
	}
}

// Err returns the error that caused the protocol to fail, if any
func (p *Protocol) Err() error {
	p.errMutex.Lock()
	defer p.errMutex.Unlock()
	return p.err
}

// ShutdownErr returns the error to report for operations on a stopped protocol
func (p *Protocol) ShutdownErr() error {
	if err := p.Err(); err != nil {
		return err
	}
	return ErrProtocolShuttingDown
}

// Fail marks the protocol as unusable with the provided error, reports it and shuts down
func (p *Protocol) Fail(err error) {
	p.fail(err)
}

func (p *Protocol) fail(err error) {
	p.errMutex.Lock()
	first := p.err == nil
	if first {
		p.err = err
	}
	p.errMutex.Unlock()
	if !first || p.IsDone() {
		return
	}
	p.config.Logger.Debug(
		"protocol failed",
		"component", "network",
		"protocol", p.config.Name,
		"error", err.Error(),
	)
	if p.config.Observer != nil {
		p.config.Observer.ProtocolFailed(p.config.Name, err)
	}
	if p.config.ErrorChan != nil {
		select {
		case p.config.ErrorChan <- err:
		default:
		}
	}
	p.shutdown()
}

// CurrentState returns the current protocol state
func (p *Protocol) CurrentState() State {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	return p.currentState
}

// HasAgency returns whether our side may send the next message
func (p *Protocol) HasAgency() bool {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	return p.config.StateMap[p.currentState].Agency == p.localAgency()
}

func (p *Protocol) localAgency() ProtocolStateAgency {
	if p.config.Role == ProtocolRoleServer {
		return AgencyServer
	}
	return AgencyClient
}

// SendMessage validates the message against the state map, updates the protocol state and
// sends the message to the muxer
func (p *Protocol) SendMessage(msg Message) error {
	if p.IsDone() {
		return p.ShutdownErr()
	}
	data, err := cbor.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s: encode error: %w", p.config.Name, err)
	}
	// Hold the send lock for the state change and all segments so that concurrent
	// senders cannot interleave
	p.sendMutex.Lock()
	defer p.sendMutex.Unlock()
	p.stateMutex.Lock()
	if p.config.StateMap[p.currentState].Agency != p.localAgency() {
		p.stateMutex.Unlock()
		err := fmt.Errorf(
			"%s: %w: attempted to send message type %d in protocol state %s",
			p.config.Name,
			ErrProtocolViolationAgency,
			msg.Type(),
			p.currentState,
		)
		p.fail(err)
		return err
	}
	newState, err := p.nextState(msg)
	if err != nil {
		p.stateMutex.Unlock()
		p.fail(err)
		return err
	}
	p.setState(newState)
	p.stateMutex.Unlock()
	// Send message in multiple segments (if needed)
	isResponse := p.config.Role == ProtocolRoleServer
	for {
		segmentPayload := data
		if len(segmentPayload) > muxer.SegmentMaxPayloadLength {
			segmentPayload = data[:muxer.SegmentMaxPayloadLength]
		}
		segment := muxer.NewSegment(p.config.ProtocolId, segmentPayload, isResponse)
		select {
		case p.muxerSendChan <- segment:
		case <-p.muxerDoneChan:
			p.shutdown()
			return p.ShutdownErr()
		case <-p.doneChan:
			return p.ShutdownErr()
		}
		if len(segmentPayload) == len(data) {
			break
		}
		data = data[len(segmentPayload):]
	}
	if p.config.Observer != nil {
		p.config.Observer.MessageSent(p.config.Name, msg.Type())
	}
	return nil
}

// nextState returns the state that the message transitions to from the current state.
// The state mutex must be held
func (p *Protocol) nextState(msg Message) (State, error) {
	for _, transition := range p.config.StateMap[p.currentState].Transitions {
		if transition.MsgType != msg.Type() {
			continue
		}
		if transition.MatchFunc != nil &&
			!transition.MatchFunc(p.config.StateContext, msg) {
			continue
		}
		return transition.NewState, nil
	}
	return State{}, fmt.Errorf(
		"%s: %w: message type %d in protocol state %s",
		p.config.Name,
		ErrProtocolViolationInvalidMessage,
		msg.Type(),
		p.currentState,
	)
}

// setState changes the current state and arms the state timeout, if any. The state
// mutex must be held
func (p *Protocol) setState(state State) {
	p.currentState = state
	if p.stateTransitionTimer != nil {
		p.stateTransitionTimer.Stop()
		p.stateTransitionTimer = nil
	}
	entry := p.config.StateMap[state]
	if entry.Timeout <= 0 || entry.Agency == p.localAgency() ||
		entry.Agency == AgencyNone {
		return
	}
	p.stateTransitionTimer = time.AfterFunc(entry.Timeout, func() {
		p.stateMutex.Lock()
		stillWaiting := p.currentState == state
		p.stateMutex.Unlock()
		if stillWaiting {
			p.fail(&TimeoutError{Protocol: p.config.Name, State: state})
		}
	})
}

func (p *Protocol) recvLoop() {
	defer p.waitGroup.Done()
	leftoverData := false
	for {
		// Don't grab the next segment from the muxer if we still have data in the buffer
		if !leftoverData {
			select {
			case <-p.doneChan:
				return
			case <-p.muxerDoneChan:
				p.shutdown()
				return
			case segment, ok := <-p.muxerRecvChan:
				if !ok {
					p.shutdown()
					return
				}
				p.recvBuffer.Write(segment.Payload)
			}
		}
		leftoverData = false
		if p.recvBuffer.Len() > p.config.MaxPendingMessageBytes {
			p.fail(
				&DecodeError{
					Protocol: p.config.Name,
					Err: fmt.Errorf(
						"pending message exceeds %d bytes",
						p.config.MaxPendingMessageBytes,
					),
				},
			)
			return
		}
		// Decode a single raw item so that we know how many bytes the message is
		var tmpMsg cbor.RawMessage
		numBytesRead, err := cbor.Decode(p.recvBuffer.Bytes(), &tmpMsg)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				// This is probably a multi-part message, so we wait until we get more of
				// the message before trying to process it
				continue
			}
			p.fail(&DecodeError{Protocol: p.config.Name, Err: err})
			return
		}
		msgData := p.recvBuffer.Bytes()[:numBytesRead]
		msg, err := p.decodeMessage(msgData)
		if err != nil {
			p.fail(err)
			return
		}
		if err := p.handleRecvTransition(msg); err != nil {
			p.fail(err)
			return
		}
		if p.config.Observer != nil {
			p.config.Observer.MessageReceived(p.config.Name, msg.Type())
		}
		if p.config.MessageHandlerFunc != nil {
			if err := p.config.MessageHandlerFunc(msg); err != nil {
				p.fail(err)
				return
			}
		}
		if numBytesRead < p.recvBuffer.Len() {
			// There is another message in the same muxer segment, so we reset the buffer with just
			// the remaining data
			remaining := make([]byte, p.recvBuffer.Len()-numBytesRead)
			copy(remaining, p.recvBuffer.Bytes()[numBytesRead:])
			p.recvBuffer = bytes.NewBuffer(remaining)
			leftoverData = true
		} else {
			// Empty out our buffer since we successfully processed the message
			p.recvBuffer.Reset()
		}
	}
}

func (p *Protocol) decodeMessage(msgData []byte) (Message, error) {
	msgType, err := cbor.DecodeIdFromList(msgData)
	if err != nil {
		return nil, &DecodeError{Protocol: p.config.Name, Err: err}
	}
	msg, err := p.config.MessageFromCborFunc(uint(msgType), msgData)
	if err != nil {
		return nil, &DecodeError{Protocol: p.config.Name, Err: err}
	}
	if msg == nil {
		return nil, &DecodeError{
			Protocol: p.config.Name,
			Err:      fmt.Errorf("received unknown message type: %d", msgType),
		}
	}
	return msg, nil
}

func (p *Protocol) handleRecvTransition(msg Message) error {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	agency := p.config.StateMap[p.currentState].Agency
	if agency != p.remoteAgency() {
		return fmt.Errorf(
			"%s: %w: received message type %d in protocol state %s",
			p.config.Name,
			ErrProtocolViolationUnexpectedMessage,
			msg.Type(),
			p.currentState,
		)
	}
	newState, err := p.nextState(msg)
	if err != nil {
		return err
	}
	p.setState(newState)
	return nil
}

func (p *Protocol) remoteAgency() ProtocolStateAgency {
	if p.config.Role == ProtocolRoleServer {
		return AgencyClient
	}
	return AgencyServer
}

// WaitResult blocks until a value arrives on resultChan, the protocol shuts down or the context
// is done. A context that ends first leaves the protocol failed, since a late reply would
// desynchronize it
func WaitResult[T any](
	ctx context.Context,
	p *Protocol,
	resultChan <-chan T,
) (T, error) {
	var zero T
	select {
	case result := <-resultChan:
		return result, nil
	case <-p.DoneChan():
		// Prefer a result that was delivered just before shutdown
		select {
		case result := <-resultChan:
			return result, nil
		default:
		}
		return zero, p.ShutdownErr()
	case <-ctx.Done():
		err := fmt.Errorf("%s: %w: %w", p.config.Name, ErrClientFailed, ctx.Err())
		p.fail(err)
		return zero, err
	}
}

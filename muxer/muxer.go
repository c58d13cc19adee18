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

// Package muxer implements the segment multiplexer that carries every
// mini-protocol over a single connection
package muxer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// Magic number chosen to represent unknown protocols
const ProtocolUnknown uint16 = 0xabcd

// ProtocolRole is the side of a mini-protocol a registration serves
type ProtocolRole uint

const (
	ProtocolRoleNone      ProtocolRole = 0
	ProtocolRoleInitiator ProtocolRole = 1
	ProtocolRoleResponder ProtocolRole = 2
)

// ErrMuxerShutdown is returned when sending on a stopped muxer
var ErrMuxerShutdown = errors.New("muxer is shutting down")

// Muxer wraps a connection to allow running multiple mini-protocols over a single connection
type Muxer struct {
	errorChan         chan error
	conn              net.Conn
	sendMutex         sync.Mutex
	doneChan          chan bool
	waitGroup         sync.WaitGroup
	protocolsMutex    sync.Mutex
	protocolSenders   map[uint16]map[ProtocolRole]chan *Segment
	protocolReceivers map[uint16]map[ProtocolRole]chan *Segment
	onceStart         sync.Once
	onceShutdown      sync.Once
}

// New creates a new Muxer object. The muxer takes ownership of the connection
func New(conn net.Conn) *Muxer {
	m := &Muxer{
		conn:              conn,
		doneChan:          make(chan bool),
		errorChan:         make(chan error, 1),
		protocolSenders:   make(map[uint16]map[ProtocolRole]chan *Segment),
		protocolReceivers: make(map[uint16]map[ProtocolRole]chan *Segment),
	}
	return m
}

// ErrorChan returns the channel for receiving the error that caused the muxer to stop
func (m *Muxer) ErrorChan() chan error {
	return m.errorChan
}

// Start begins reading segments from the connection
func (m *Muxer) Start() {
	m.onceStart.Do(func() {
		m.waitGroup.Add(1)
		go m.readLoop()
	})
}

// Stop shuts down the muxer, closes the connection and waits for the muxer goroutines to exit
func (m *Muxer) Stop() {
	m.shutdown()
	m.waitGroup.Wait()
}

func (m *Muxer) shutdown() {
	m.onceShutdown.Do(func() {
		close(m.doneChan)
		if m.conn != nil {
			_ = m.conn.Close()
		}
	})
}

// IsDone returns whether the muxer has been stopped
func (m *Muxer) IsDone() bool {
	select {
	case <-m.doneChan:
		return true
	default:
		return false
	}
}

func (m *Muxer) sendError(err error) {
	// Errors caused by our own shutdown are not interesting
	if m.IsDone() {
		return
	}
	select {
	case m.errorChan <- err:
	default:
	}
	m.shutdown()
}

// RegisterProtocol registers the provided protocol ID with the muxer. It returns a channel for sending,
// a channel for receiving, and a channel to know when the muxer is shutting down. Nil channels are
// returned if the muxer has already been stopped
func (m *Muxer) RegisterProtocol(
	protocolId uint16,
	protocolRole ProtocolRole,
) (chan *Segment, chan *Segment, chan bool) {
	m.protocolsMutex.Lock()
	defer m.protocolsMutex.Unlock()
	if m.IsDone() {
		return nil, nil, nil
	}
	senderChan := make(chan *Segment, 10)
	receiverChan := make(chan *Segment, 10)
	if _, ok := m.protocolSenders[protocolId]; !ok {
		m.protocolSenders[protocolId] = make(map[ProtocolRole]chan *Segment)
		m.protocolReceivers[protocolId] = make(map[ProtocolRole]chan *Segment)
	}
	m.protocolSenders[protocolId][protocolRole] = senderChan
	m.protocolReceivers[protocolId][protocolRole] = receiverChan
	// Start Goroutine to handle outbound messages
	m.waitGroup.Add(1)
	go func() {
		defer m.waitGroup.Done()
		for {
			select {
			case <-m.doneChan:
				return
			case msg, ok := <-senderChan:
				if !ok {
					return
				}
				if err := m.Send(msg); err != nil {
					m.sendError(err)
					return
				}
			}
		}
	}()
	return senderChan, receiverChan, m.doneChan
}

// UnregisterProtocol removes the receive channel for the protocol. Segments arriving for it
// afterward are treated as belonging to an unknown protocol
func (m *Muxer) UnregisterProtocol(protocolId uint16, protocolRole ProtocolRole) {
	m.protocolsMutex.Lock()
	defer m.protocolsMutex.Unlock()
	if receivers, ok := m.protocolReceivers[protocolId]; ok {
		delete(receivers, protocolRole)
	}
	if senders, ok := m.protocolSenders[protocolId]; ok {
		delete(senders, protocolRole)
	}
}

// Send writes a segment to the connection
func (m *Muxer) Send(msg *Segment) error {
	if m.IsDone() {
		return ErrMuxerShutdown
	}
	// We use a mutex to make sure only one protocol can send at a time
	m.sendMutex.Lock()
	defer m.sendMutex.Unlock()
	if _, err := m.conn.Write(msg.Bytes()); err != nil {
		return err
	}
	return nil
}

func (m *Muxer) receiverFor(header SegmentHeader) chan *Segment {
	m.protocolsMutex.Lock()
	defer m.protocolsMutex.Unlock()
	// Segments flagged as responses are for our initiator side
	protocolRole := ProtocolRoleResponder
	if header.IsResponse() {
		protocolRole = ProtocolRoleInitiator
	}
	if receivers, ok := m.protocolReceivers[header.GetProtocolId()]; ok {
		if recvChan, ok := receivers[protocolRole]; ok {
			return recvChan
		}
	}
	// Try the "unknown protocol" receiver if we didn't find an explicit one
	if receivers, ok := m.protocolReceivers[ProtocolUnknown]; ok {
		return receivers[protocolRole]
	}
	return nil
}

func (m *Muxer) readLoop() {
	defer m.waitGroup.Done()
	headerBuf := make([]byte, SegmentHeaderLength)
	for {
		if _, err := io.ReadFull(m.conn, headerBuf); err != nil {
			m.sendError(err)
			return
		}
		header := SegmentHeader{
			Timestamp:     binary.BigEndian.Uint32(headerBuf[0:4]),
			ProtocolId:    binary.BigEndian.Uint16(headerBuf[4:6]),
			PayloadLength: binary.BigEndian.Uint16(headerBuf[6:8]),
		}
		msg := &Segment{
			SegmentHeader: header,
			Payload:       make([]byte, header.PayloadLength),
		}
		// We use ReadFull because it guarantees to read the expected number of bytes or
		// return an error
		if _, err := io.ReadFull(m.conn, msg.Payload); err != nil {
			m.sendError(err)
			return
		}
		recvChan := m.receiverFor(header)
		if recvChan == nil {
			m.sendError(
				fmt.Errorf(
					"received message for unknown protocol ID %d",
					header.GetProtocolId(),
				),
			)
			return
		}
		select {
		case recvChan <- msg:
		case <-m.doneChan:
			return
		}
	}
}

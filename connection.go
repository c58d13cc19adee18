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

// Package nodeclient implements a client for the Ouroboros mini-protocols spoken by Cardano nodes.
//
// A Connection wraps one transport, runs the version handshake and multiplexes the
// mini-protocol clients over it. A Session selects the clients needed for a use case and
// exposes them as plain blocking calls.
package nodeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/blinklabs-io/nodeclient/connection"
	"github.com/blinklabs-io/nodeclient/muxer"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	"github.com/blinklabs-io/nodeclient/protocol/chainsync"
	"github.com/blinklabs-io/nodeclient/protocol/handshake"
	"github.com/blinklabs-io/nodeclient/protocol/keepalive"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
	"github.com/blinklabs-io/nodeclient/protocol/txsubmission"
)

// The Connection type is a wrapper around a net.Conn object that handles communication using the
// Ouroboros network protocol over that connection
type Connection struct {
	conn               net.Conn
	id                 connection.ConnectionId
	networkMagic       uint32
	useNodeToNodeProto bool
	logger             *slog.Logger
	observer           protocol.MessageObserver
	muxer              *muxer.Muxer
	errorChan          chan error
	protoErrorChan     chan error
	doneChan           chan struct{}
	waitGroup          sync.WaitGroup
	onceClose          sync.Once
	errMutex           sync.Mutex
	err                error
	sendKeepAlives     bool
	keepAlivePeriod    time.Duration
	handshakeTimeout   time.Duration
	protoOptions       protocol.ProtocolOptions
	version            uint16
	protocolVersion    protocol.ProtocolVersion
	protocolsMutex     sync.Mutex
	// Mini-protocols
	handshake             *handshake.Client
	blockFetch            *blockfetch.Client
	blockFetchConfig      *blockfetch.Config
	chainSync             *chainsync.Client
	chainSyncConfig       *chainsync.Config
	keepAlive             *keepalive.Client
	keepAliveConfig       *keepalive.Config
	localStateQuery       *localstatequery.Client
	localStateQueryConfig *localstatequery.Config
	txSubmission          *txsubmission.Client
	txSubmissionConfig    *txsubmission.Config
}

// NewConnection returns a new Connection object with the specified options. If a connection is
// provided, the handshake is performed before returning and an error is returned if it fails
func NewConnection(options ...ConnectionOptionFunc) (*Connection, error) {
	c := &Connection{
		protoErrorChan:   make(chan error, 10),
		errorChan:        make(chan error, 1),
		doneChan:         make(chan struct{}),
		keepAlivePeriod:  keepalive.DefaultKeepAlivePeriod * time.Second,
		handshakeTimeout: handshake.DefaultTimeout,
	}
	// Apply provided options functions
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.conn != nil {
		if err := c.setupConnection(context.Background()); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Dial establishes a connection using the specified protocol and address and performs the
// handshake. Use "unix" for a local node socket and "tcp" for a remote peer
func (c *Connection) Dial(proto string, address string) error {
	return c.DialContext(context.Background(), proto, address)
}

// DialContext is like Dial but the context bounds both the dial and the handshake
func (c *Connection) DialContext(
	ctx context.Context,
	proto string,
	address string,
) error {
	if c.conn != nil {
		return &ConnectionError{
			Op:  "dial",
			Err: errors.New("a connection was already established"),
		}
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, proto, address)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}
	c.conn = conn
	return c.setupConnection(ctx)
}

// Id returns the connection ID
func (c *Connection) Id() connection.ConnectionId {
	return c.id
}

// Muxer returns the muxer object for the Ouroboros connection
func (c *Connection) Muxer() *muxer.Muxer {
	return c.muxer
}

// ErrorChan returns the channel that receives the error that tore the connection down. The channel
// is closed once the connection has shut down
func (c *Connection) ErrorChan() <-chan error {
	return c.errorChan
}

// DoneChan returns a channel that is closed when the connection shuts down
func (c *Connection) DoneChan() <-chan struct{} {
	return c.doneChan
}

// Err returns the reason the connection shut down, or nil while it is open
func (c *Connection) Err() error {
	c.errMutex.Lock()
	defer c.errMutex.Unlock()
	return c.err
}

// NetworkMagic returns the network magic the connection was configured with
func (c *Connection) NetworkMagic() uint32 {
	return c.networkMagic
}

// NodeToNode returns whether the connection speaks the node-to-node protocols
func (c *Connection) NodeToNode() bool {
	return c.useNodeToNodeProto
}

// ProtocolVersion returns the negotiated protocol version, without the node-to-client flag
func (c *Connection) ProtocolVersion() uint16 {
	return c.protoOptions.Version
}

// Close shuts down the connection and every mini-protocol client and waits for background
// goroutines to exit. It is safe to call more than once
func (c *Connection) Close() error {
	c.shutdown(nil)
	c.waitGroup.Wait()
	return nil
}

func (c *Connection) isDone() bool {
	select {
	case <-c.doneChan:
		return true
	default:
		return false
	}
}

// shutdown tears down the connection, recording cause as the reason. A nil cause means the owner
// closed the connection
func (c *Connection) shutdown(cause error) {
	c.onceClose.Do(func() {
		c.errMutex.Lock()
		if cause != nil {
			c.err = cause
		} else {
			c.err = &ConnectionError{Op: "close", Err: ErrConnectionClosed}
		}
		c.errMutex.Unlock()
		close(c.doneChan)
		if cause != nil {
			c.logger.Debug(
				"connection failed",
				"component", "network",
				"connection_id", c.id.String(),
				"error", cause.Error(),
			)
			c.errorChan <- cause
		}
		c.protocolsMutex.Lock()
		for _, proto := range c.protocols() {
			proto.Stop()
		}
		c.protocolsMutex.Unlock()
		if c.muxer != nil {
			c.muxer.Stop()
		} else if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.errorChan)
	})
}

// protocols returns the started mini-protocols. The protocols mutex must be held
func (c *Connection) protocols() []*protocol.Protocol {
	ret := []*protocol.Protocol{}
	if c.handshake != nil {
		ret = append(ret, c.handshake.Protocol)
	}
	if c.chainSync != nil {
		ret = append(ret, c.chainSync.Protocol)
	}
	if c.blockFetch != nil {
		ret = append(ret, c.blockFetch.Protocol)
	}
	if c.keepAlive != nil {
		ret = append(ret, c.keepAlive.Protocol)
	}
	if c.localStateQuery != nil {
		ret = append(ret, c.localStateQuery.Protocol)
	}
	if c.txSubmission != nil {
		ret = append(ret, c.txSubmission.Protocol)
	}
	return ret
}

// setupConnection establishes the muxer and performs the handshake
func (c *Connection) setupConnection(ctx context.Context) error {
	if c.networkMagic == 0 {
		_ = c.conn.Close()
		return &ConnectionError{
			Op:  "setup",
			Err: fmt.Errorf("invalid network magic value provided: %d", c.networkMagic),
		}
	}
	c.id = connection.ConnectionId{
		LocalAddr:  c.conn.LocalAddr(),
		RemoteAddr: c.conn.RemoteAddr(),
	}
	c.muxer = muxer.New(c.conn)
	// Start goroutines to pass along errors from the muxer and the mini-protocols
	c.waitGroup.Add(2)
	go c.watchMuxer()
	go c.watchProtocols()
	mode := protocol.ProtocolModeNodeToClient
	if c.useNodeToNodeProto {
		mode = protocol.ProtocolModeNodeToNode
	}
	c.protoOptions = protocol.ProtocolOptions{
		ConnectionId: c.id,
		Muxer:        c.muxer,
		Logger:       c.logger,
		Observer:     c.observer,
		ErrorChan:    c.protoErrorChan,
		Mode:         mode,
		Role:         protocol.ProtocolRoleClient,
	}
	// Perform handshake
	handshakeConfig := handshake.NewConfig(
		handshake.WithProtocolVersionMap(
			protocol.GetProtocolVersionMap(mode, c.networkMagic),
		),
		handshake.WithTimeout(c.handshakeTimeout),
	)
	c.protocolsMutex.Lock()
	c.handshake = handshake.NewClient(c.protoOptions, &handshakeConfig)
	c.protocolsMutex.Unlock()
	c.handshake.Start()
	c.muxer.Start()
	result, err := c.handshake.Wait(ctx)
	if err != nil {
		// Prefer the transport failure when the handshake was cut short by one
		if cause := c.Err(); cause != nil && !c.closedByOwner() {
			c.waitGroup.Wait()
			return cause
		}
		connErr := &ConnectionError{Op: "handshake", Err: err}
		c.shutdown(connErr)
		c.waitGroup.Wait()
		return connErr
	}
	c.version = result.Version
	protoVersion, _ := protocol.GetProtocolVersion(result.Version)
	c.protocolVersion = protoVersion
	// Drop bit used to signify NtC protocol versions
	c.protoOptions.Version = result.Version
	if mode == protocol.ProtocolModeNodeToClient {
		c.protoOptions.Version -= protocol.ProtocolVersionNtCOffset
	}
	c.logger.Debug(
		"handshake complete",
		"component", "network",
		"connection_id", c.id.String(),
		"version", c.protoOptions.Version,
		"network_magic", c.networkMagic,
	)
	if c.useNodeToNodeProto && c.sendKeepAlives &&
		c.protocolVersion.EnableKeepAliveProtocol {
		if _, err := c.KeepAlive(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) closedByOwner() bool {
	return errors.Is(c.Err(), ErrConnectionClosed)
}

func (c *Connection) watchMuxer() {
	defer c.waitGroup.Done()
	select {
	case <-c.doneChan:
		return
	case err := <-c.muxer.ErrorChan():
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// Return a bare io.EOF error if error is EOF/ErrUnexpectedEOF
			err = io.EOF
		}
		c.shutdown(&ConnectionError{Op: "transport", Err: err})
	}
}

func (c *Connection) watchProtocols() {
	defer c.waitGroup.Done()
	select {
	case <-c.doneChan:
		return
	case err := <-c.protoErrorChan:
		c.shutdown(&ConnectionError{Op: "protocol", Err: err})
	}
}

// checkOpen returns the reason no new mini-protocol can be started. The protocols mutex must
// be held
func (c *Connection) checkOpen() error {
	if c.muxer == nil {
		return ErrNoConnection
	}
	if c.isDone() {
		return c.Err()
	}
	return nil
}

func (c *Connection) notAvailable(protocolName string) error {
	mode := "node-to-client"
	if c.useNodeToNodeProto {
		mode = "node-to-node"
	}
	return fmt.Errorf(
		"%w: %s (%s version %d)",
		ErrProtocolNotAvailable,
		protocolName,
		mode,
		c.protoOptions.Version,
	)
}

// ChainSync returns the chain-sync client, starting it on first use
func (c *Connection) ChainSync() (*chainsync.Client, error) {
	c.protocolsMutex.Lock()
	defer c.protocolsMutex.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.chainSync == nil {
		c.chainSync = chainsync.NewClient(c.protoOptions, c.chainSyncConfig)
		c.chainSync.Start()
	}
	return c.chainSync, nil
}

// BlockFetch returns the block-fetch client, starting it on first use. It is only available on
// node-to-node connections
func (c *Connection) BlockFetch() (*blockfetch.Client, error) {
	c.protocolsMutex.Lock()
	defer c.protocolsMutex.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if !c.useNodeToNodeProto {
		return nil, c.notAvailable(blockfetch.ProtocolName)
	}
	if c.blockFetch == nil {
		c.blockFetch = blockfetch.NewClient(c.protoOptions, c.blockFetchConfig)
		c.blockFetch.Start()
	}
	return c.blockFetch, nil
}

// LocalStateQuery returns the local-state-query client, starting it on first use. It is only
// available on node-to-client connections
func (c *Connection) LocalStateQuery() (*localstatequery.Client, error) {
	c.protocolsMutex.Lock()
	defer c.protocolsMutex.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.useNodeToNodeProto || !c.protocolVersion.EnableLocalQueryProtocol {
		return nil, c.notAvailable(localstatequery.ProtocolName)
	}
	if c.localStateQuery == nil {
		c.localStateQuery = localstatequery.NewClient(
			c.protoOptions,
			c.localStateQueryConfig,
		)
		c.localStateQuery.Start()
	}
	return c.localStateQuery, nil
}

// TxSubmission returns the tx-submission client, starting it on first use. Starting the client
// sends the Init message, after which the peer may begin requesting transactions. It is only
// available on node-to-node connections
func (c *Connection) TxSubmission() (*txsubmission.Client, error) {
	c.protocolsMutex.Lock()
	defer c.protocolsMutex.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if !c.useNodeToNodeProto {
		return nil, c.notAvailable(txsubmission.ProtocolName)
	}
	if c.txSubmission == nil {
		c.txSubmission = txsubmission.NewClient(
			c.protoOptions,
			c.txSubmissionConfig,
		)
		c.txSubmission.Start()
	}
	return c.txSubmission, nil
}

// KeepAlive returns the keep-alive client, starting it on first use. It is only available on
// node-to-node connections
func (c *Connection) KeepAlive() (*keepalive.Client, error) {
	c.protocolsMutex.Lock()
	defer c.protocolsMutex.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if !c.useNodeToNodeProto || !c.protocolVersion.EnableKeepAliveProtocol {
		return nil, c.notAvailable(keepalive.ProtocolName)
	}
	if c.keepAlive == nil {
		cfg := c.keepAliveConfig
		if cfg == nil {
			tmpCfg := keepalive.NewConfig(
				keepalive.WithPeriod(c.keepAlivePeriod),
				keepalive.WithCookie(uint16(rand.UintN(1<<16))), // #nosec G404
			)
			cfg = &tmpCfg
		}
		c.keepAlive = keepalive.NewClient(c.protoOptions, cfg)
		c.keepAlive.Start()
	}
	return c.keepAlive, nil
}

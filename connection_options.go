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

package nodeclient

import (
	"log/slog"
	"net"
	"time"

	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	"github.com/blinklabs-io/nodeclient/protocol/chainsync"
	"github.com/blinklabs-io/nodeclient/protocol/keepalive"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
	"github.com/blinklabs-io/nodeclient/protocol/txsubmission"
)

// ConnectionOptionFunc is a type that represents functions that modify the Connection config
type ConnectionOptionFunc func(*Connection)

// WithConnection specifies an existing connection to use. If none is provided, the Dial() function can be
// used to create one later
func WithConnection(conn net.Conn) ConnectionOptionFunc {
	return func(c *Connection) {
		c.conn = conn
	}
}

// WithNetwork specifies the network
func WithNetwork(network Network) ConnectionOptionFunc {
	return func(c *Connection) {
		c.networkMagic = network.NetworkMagic
	}
}

// WithNetworkMagic specifies the network magic value
func WithNetworkMagic(networkMagic uint32) ConnectionOptionFunc {
	return func(c *Connection) {
		c.networkMagic = networkMagic
	}
}

// WithNodeToNode specifies whether to use the node-to-node protocol. The default is to use node-to-client
func WithNodeToNode(nodeToNode bool) ConnectionOptionFunc {
	return func(c *Connection) {
		c.useNodeToNodeProto = nodeToNode
	}
}

// WithLogger specifies the logger for the connection and its mini-protocols. Nothing is logged by default
func WithLogger(logger *slog.Logger) ConnectionOptionFunc {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithMetrics specifies an observer that is told about every mini-protocol message and failure
func WithMetrics(observer protocol.MessageObserver) ConnectionOptionFunc {
	return func(c *Connection) {
		c.observer = observer
	}
}

// WithKeepAlive specifies whether to send keep-alives on node-to-node connections. This is disabled by default
func WithKeepAlive(keepAlive bool) ConnectionOptionFunc {
	return func(c *Connection) {
		c.sendKeepAlives = keepAlive
	}
}

// WithKeepAlivePeriod specifies the interval between keep-alives
func WithKeepAlivePeriod(period time.Duration) ConnectionOptionFunc {
	return func(c *Connection) {
		c.keepAlivePeriod = period
	}
}

// WithHandshakeTimeout specifies how long to wait for the peer to answer the handshake
func WithHandshakeTimeout(timeout time.Duration) ConnectionOptionFunc {
	return func(c *Connection) {
		c.handshakeTimeout = timeout
	}
}

// WithBlockFetchConfig specifies BlockFetch protocol config
func WithBlockFetchConfig(cfg blockfetch.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.blockFetchConfig = &cfg
	}
}

// WithChainSyncConfig specifies ChainSync protocol config
func WithChainSyncConfig(cfg chainsync.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.chainSyncConfig = &cfg
	}
}

// WithKeepAliveConfig specifies KeepAlive protocol config. It takes precedence over WithKeepAlivePeriod
func WithKeepAliveConfig(cfg keepalive.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.keepAliveConfig = &cfg
	}
}

// WithLocalStateQueryConfig specifies LocalStateQuery protocol config
func WithLocalStateQueryConfig(
	cfg localstatequery.Config,
) ConnectionOptionFunc {
	return func(c *Connection) {
		c.localStateQueryConfig = &cfg
	}
}

// WithTxSubmissionConfig specifies TxSubmission protocol config
func WithTxSubmissionConfig(cfg txsubmission.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.txSubmissionConfig = &cfg
	}
}

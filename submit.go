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
	"context"
	"errors"

	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
)

// SubmitTx connects to the peer, offers the entries over tx-submission until the peer has nothing
// more to ask for and returns the IDs it acknowledged. The connection is closed before returning
func SubmitTx(
	ctx context.Context,
	address string,
	networkMagic uint32,
	entries []ledger.MempoolEntry,
	opts ...ConnectionOptionFunc,
) ([]ledger.TxId, error) {
	connOpts := append(
		[]ConnectionOptionFunc{
			WithNetworkMagic(networkMagic),
			WithNodeToNode(true),
		},
		opts...,
	)
	conn, err := dialConnection(ctx, "tcp", address, connOpts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.SubmitTx(ctx, entries)
}

// SubmitTx offers the entries to the peer over tx-submission. The tx-submission client can only
// submit once per connection
func (c *Connection) SubmitTx(
	ctx context.Context,
	entries []ledger.MempoolEntry,
) ([]ledger.TxId, error) {
	client, err := c.TxSubmission()
	if err != nil {
		return nil, err
	}
	acked, err := client.Submit(ctx, entries)
	if err != nil && errors.Is(err, protocol.ErrProtocolShuttingDown) {
		if cause := c.Err(); cause != nil {
			err = cause
		}
	}
	return acked, err
}

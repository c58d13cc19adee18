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

package nodeclient_test

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/internal/test/ouroboros_mock"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/txsubmission"
)

// unusedAddress returns a TCP address that nothing listens on
func unusedAddress(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

// TestConnectionErrorPropagated tests that losing the transport is reported on the error channel
func TestConnectionErrorPropagated(t *testing.T) {
	defer goleak.VerifyNone(t)
	peer, opts := newMockPeer(
		true,
		[]ouroboros_mock.ConversationEntry{
			ouroboros_mock.ConversationEntrySleep{Duration: 50 * time.Millisecond},
			ouroboros_mock.ConversationEntryClose{},
		},
	)
	oConn, err := nodeclient.NewConnection(opts...)
	require.NoError(t, err)
	select {
	case err, ok := <-oConn.ErrorChan():
		require.True(t, ok, "error channel closed without an error")
		var connErr *nodeclient.ConnectionError
		require.True(t, errors.As(err, &connErr), "unexpected error: %s", err)
		assert.Equal(t, "transport", connErr.Op)
		assert.True(t, nodeclient.IsRetryable(err))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection error")
	}
	select {
	case <-oConn.DoneChan():
	case <-time.After(time.Second):
		t.Fatal("connection was not marked done")
	}
	assert.Error(t, oConn.Err())
	peer.wait(t)
	require.NoError(t, oConn.Close())
	// The error channel is closed once the connection is down
	_, ok := <-oConn.ErrorChan()
	assert.False(t, ok)
}

// TestConnectionClosedByOwner tests that an owner close is not reported as an error
func TestConnectionClosedByOwner(t *testing.T) {
	defer goleak.VerifyNone(t)
	peer, opts := newMockPeer(false, nil)
	oConn, err := nodeclient.NewConnection(opts...)
	require.NoError(t, err)
	assert.Equal(t, ouroboros_mock.MockNetworkMagic, oConn.NetworkMagic())
	assert.False(t, oConn.NodeToNode())
	assert.Equal(t, uint16(16), oConn.ProtocolVersion())
	peer.wait(t)
	require.NoError(t, oConn.Close())
	for err := range oConn.ErrorChan() {
		t.Errorf("unexpected connection error: %s", err)
	}
	assert.ErrorIs(t, oConn.Err(), nodeclient.ErrConnectionClosed)
	_, err = oConn.ChainSync()
	assert.ErrorIs(t, err, nodeclient.ErrConnectionClosed)
}

func TestConnectionProtocolAvailability(t *testing.T) {
	defer goleak.VerifyNone(t)
	t.Run("NodeToClient", func(t *testing.T) {
		peer, opts := newMockPeer(false, nil)
		oConn, err := nodeclient.NewConnection(opts...)
		require.NoError(t, err)
		defer oConn.Close()
		_, err = oConn.BlockFetch()
		assert.ErrorIs(t, err, nodeclient.ErrProtocolNotAvailable)
		_, err = oConn.TxSubmission()
		assert.ErrorIs(t, err, nodeclient.ErrProtocolNotAvailable)
		_, err = oConn.KeepAlive()
		assert.ErrorIs(t, err, nodeclient.ErrProtocolNotAvailable)
		peer.wait(t)
	})
	t.Run("NodeToNode", func(t *testing.T) {
		peer, opts := newMockPeer(true, nil)
		oConn, err := nodeclient.NewConnection(opts...)
		require.NoError(t, err)
		defer oConn.Close()
		_, err = oConn.LocalStateQuery()
		assert.ErrorIs(t, err, nodeclient.ErrProtocolNotAvailable)
		assert.False(t, nodeclient.IsFatal(err))
		peer.wait(t)
	})
}

func TestBasicErrorHandling(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("DialFailure", func(t *testing.T) {
		oConn, err := nodeclient.NewConnection(
			nodeclient.WithNetworkMagic(ouroboros_mock.MockNetworkMagic),
		)
		require.NoError(t, err)
		err = oConn.Dial("tcp", unusedAddress(t))
		require.Error(t, err)
		var connErr *nodeclient.ConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, "dial", connErr.Op)
		assert.True(t, nodeclient.IsRetryable(err))
		require.NoError(t, oConn.Close())
	})

	t.Run("NotConnected", func(t *testing.T) {
		oConn, err := nodeclient.NewConnection(
			nodeclient.WithNetworkMagic(ouroboros_mock.MockNetworkMagic),
		)
		require.NoError(t, err)
		_, err = oConn.ChainSync()
		assert.ErrorIs(t, err, nodeclient.ErrNoConnection)
		// The error channel stays open until the connection is closed
		select {
		case err, ok := <-oConn.ErrorChan():
			t.Fatalf("unexpected error channel activity: %v, %v", err, ok)
		default:
		}
		require.NoError(t, oConn.Close())
	})

	t.Run("DoubleClose", func(t *testing.T) {
		oConn, err := nodeclient.NewConnection(
			nodeclient.WithNetworkMagic(ouroboros_mock.MockNetworkMagic),
		)
		require.NoError(t, err)
		require.NoError(t, oConn.Close())
		require.NoError(t, oConn.Close())
	})
}

func TestConnectionSubmitTx(t *testing.T) {
	defer goleak.VerifyNone(t)
	txCbor, err := hex.DecodeString("84a10300a0f5f6")
	require.NoError(t, err)
	entry, err := ledger.NewMempoolEntry(ledger.EraIdConway, txCbor)
	require.NoError(t, err)
	requestTxIds := func(blocking bool, ack uint16, req uint16) ouroboros_mock.ConversationEntryOutput {
		return ouroboros_mock.ConversationEntryOutput{
			ProtocolId: txsubmission.ProtocolId,
			IsResponse: true,
			Messages: []protocol.Message{
				txsubmission.NewMsgRequestTxIds(blocking, ack, req),
			},
		}
	}
	peer, opts := newMockPeer(
		true,
		[]ouroboros_mock.ConversationEntry{
			ouroboros_mock.ConversationEntryInput{
				ProtocolId: txsubmission.ProtocolId,
				Message:    txsubmission.NewMsgInit(),
			},
			requestTxIds(true, 0, 5),
			ouroboros_mock.ConversationEntryInput{
				ProtocolId: txsubmission.ProtocolId,
				Message: txsubmission.NewMsgReplyTxIds(
					[]txsubmission.TxIdAndSize{
						{
							TxId: txsubmission.TxId{
								EraId: entry.Era,
								TxId:  entry.Id,
							},
							Size: entry.Size(),
						},
					},
				),
			},
			requestTxIds(true, 1, 5),
			ouroboros_mock.ConversationEntryInput{
				ProtocolId: txsubmission.ProtocolId,
				Message:    txsubmission.NewMsgDone(),
			},
		},
	)
	oConn, err := nodeclient.NewConnection(opts...)
	require.NoError(t, err)
	acked, err := oConn.SubmitTx(context.Background(), []ledger.MempoolEntry{entry})
	require.NoError(t, err)
	require.Len(t, acked, 1)
	assert.Equal(t, entry.Id, acked[0])
	peer.wait(t)
	require.NoError(t, oConn.Close())
}

func TestSubmitTxDialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	_, err := nodeclient.SubmitTx(
		context.Background(),
		unusedAddress(t),
		ouroboros_mock.MockNetworkMagic,
		nil,
	)
	var connErr *nodeclient.ConnectionError
	require.True(t, errors.As(err, &connErr), "unexpected error: %v", err)
	assert.Equal(t, "dial", connErr.Op)
}

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

package blockfetch_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/internal/test"
	"github.com/blinklabs-io/nodeclient/internal/test/ouroboros_mock"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	pcommon "github.com/blinklabs-io/nodeclient/protocol/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	testPointA = pcommon.NewPoint(100, test.FillHash(0xaa))
	testPointB = pcommon.NewPoint(200, test.FillHash(0xbb))
)

type testInnerFunc func(*testing.T, *nodeclient.Connection)

func runTest(
	t *testing.T,
	conversation []ouroboros_mock.ConversationEntry,
	innerFunc testInnerFunc,
	options ...nodeclient.ConnectionOptionFunc,
) {
	defer goleak.VerifyNone(t)
	mockConn := ouroboros_mock.NewConnection(
		ouroboros_mock.ProtocolRoleClient,
		append(
			[]ouroboros_mock.ConversationEntry{
				ouroboros_mock.ConversationEntryHandshakeRequestGeneric,
				ouroboros_mock.ConversationEntryHandshakeNtNResponse,
			},
			conversation...,
		),
	)
	asyncErrChan := make(chan error, 1)
	go func() {
		err := <-mockConn.(*ouroboros_mock.Connection).ErrorChan()
		if err != nil {
			asyncErrChan <- fmt.Errorf("received unexpected error: %w", err)
		}
		close(asyncErrChan)
	}()
	opts := []nodeclient.ConnectionOptionFunc{
		nodeclient.WithConnection(mockConn),
		nodeclient.WithNetworkMagic(ouroboros_mock.MockNetworkMagic),
		nodeclient.WithNodeToNode(true),
	}
	opts = append(opts, options...)
	oConn, err := nodeclient.NewConnection(opts...)
	require.NoError(t, err)
	innerFunc(t, oConn)
	select {
	case err, ok := <-asyncErrChan:
		if ok {
			t.Fatal(err.Error())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("did not complete within timeout")
	}
	require.NoError(t, oConn.Close())
	for err := range oConn.ErrorChan() {
		t.Errorf("unexpected connection error: %s", err)
	}
}

func requestRange(start, end pcommon.Point) ouroboros_mock.ConversationEntryInput {
	return ouroboros_mock.ConversationEntryInput{
		ProtocolId: blockfetch.ProtocolId,
		Message:    blockfetch.NewMsgRequestRange(start, end),
	}
}

func blockReply(t *testing.T, blocks ...[]byte) ouroboros_mock.ConversationEntryOutput {
	msgs := []protocol.Message{blockfetch.NewMsgStartBatch()}
	for _, blockCbor := range blocks {
		msg, err := blockfetch.NewMsgBlock(ledger.BlockTypeConway, blockCbor)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	msgs = append(msgs, blockfetch.NewMsgBatchDone())
	return ouroboros_mock.ConversationEntryOutput{
		ProtocolId: blockfetch.ProtocolId,
		IsResponse: true,
		Messages:   msgs,
	}
}

func testBlockCbor(t *testing.T, filler byte, size int) []byte {
	data, err := cbor.Encode([]any{bytes.Repeat([]byte{filler}, size)})
	require.NoError(t, err)
	return data
}

func blockFetchClient(t *testing.T, oConn *nodeclient.Connection) *blockfetch.Client {
	client, err := oConn.BlockFetch()
	require.NoError(t, err)
	return client
}

func TestFetchSingle(t *testing.T) {
	blockCbor := testBlockCbor(t, 0x01, 64)
	runTest(
		t,
		[]ouroboros_mock.ConversationEntry{
			requestRange(testPointA, testPointA),
			blockReply(t, blockCbor),
		},
		func(t *testing.T, oConn *nodeclient.Connection) {
			block, err := blockFetchClient(t, oConn).FetchSingle(
				context.Background(),
				testPointA,
			)
			require.NoError(t, err)
			assert.Equal(t, uint(ledger.BlockTypeConway), block.Type)
			assert.Equal(t, uint(ledger.EraIdConway), block.Era)
			assert.Equal(t, blockCbor, block.Cbor)
		},
	)
}

func TestFetchNotFoundStaysUsable(t *testing.T) {
	blockCbor := testBlockCbor(t, 0x02, 64)
	runTest(
		t,
		[]ouroboros_mock.ConversationEntry{
			requestRange(testPointA, testPointA),
			ouroboros_mock.ConversationEntryOutput{
				ProtocolId: blockfetch.ProtocolId,
				IsResponse: true,
				Messages:   []protocol.Message{blockfetch.NewMsgNoBlocks()},
			},
			requestRange(testPointB, testPointB),
			blockReply(t, blockCbor),
		},
		func(t *testing.T, oConn *nodeclient.Connection) {
			client := blockFetchClient(t, oConn)
			_, err := client.FetchSingle(context.Background(), testPointA)
			require.ErrorIs(t, err, blockfetch.ErrBlockNotFound)
			assert.True(t, nodeclient.IsNotFound(err))
			assert.False(t, nodeclient.IsFatal(err))
			block, err := client.FetchSingle(context.Background(), testPointB)
			require.NoError(t, err)
			assert.Equal(t, blockCbor, block.Cbor)
		},
	)
}

func TestFetchRange(t *testing.T) {
	blocks := [][]byte{
		testBlockCbor(t, 0x03, 32),
		testBlockCbor(t, 0x04, 32),
		testBlockCbor(t, 0x05, 32),
	}
	runTest(
		t,
		[]ouroboros_mock.ConversationEntry{
			requestRange(testPointA, testPointB),
			blockReply(t, blocks...),
		},
		func(t *testing.T, oConn *nodeclient.Connection) {
			ret, err := blockFetchClient(t, oConn).FetchRange(
				context.Background(),
				testPointA,
				testPointB,
			)
			require.NoError(t, err)
			require.Len(t, ret, len(blocks))
			for idx, block := range ret {
				assert.Equal(t, blocks[idx], block.Cbor, "block %d", idx)
			}
		},
	)
}

func TestFetchLargeBlock(t *testing.T) {
	// Larger than a single segment, so the peer must split it
	blockCbor := testBlockCbor(t, 0x06, 150000)
	runTest(
		t,
		[]ouroboros_mock.ConversationEntry{
			requestRange(testPointA, testPointA),
			blockReply(t, blockCbor),
		},
		func(t *testing.T, oConn *nodeclient.Connection) {
			block, err := blockFetchClient(t, oConn).FetchSingle(
				context.Background(),
				testPointA,
			)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(blockCbor, block.Cbor))
		},
	)
}

func TestFetchBatchLimit(t *testing.T) {
	runTest(
		t,
		[]ouroboros_mock.ConversationEntry{
			requestRange(testPointA, testPointB),
			blockReply(
				t,
				testBlockCbor(t, 0x07, 8),
				testBlockCbor(t, 0x08, 8),
			),
		},
		func(t *testing.T, oConn *nodeclient.Connection) {
			_, err := blockFetchClient(t, oConn).FetchRange(
				context.Background(),
				testPointA,
				testPointB,
			)
			require.ErrorIs(t, err, protocol.ErrProtocolViolation)
			connErr := <-oConn.ErrorChan()
			var target *nodeclient.ConnectionError
			require.True(t, errors.As(connErr, &target))
			assert.Equal(t, "protocol", target.Op)
		},
		nodeclient.WithBlockFetchConfig(
			blockfetch.NewConfig(blockfetch.WithMaxBatchBlocks(1)),
		),
	)
}

func TestBlockFetchNotAvailableNodeToClient(t *testing.T) {
	defer goleak.VerifyNone(t)
	mockConn := ouroboros_mock.NewConnection(
		ouroboros_mock.ProtocolRoleClient,
		ouroboros_mock.ConversationHandshakeNtC,
	)
	oConn, err := nodeclient.NewConnection(
		nodeclient.WithConnection(mockConn),
		nodeclient.WithNetworkMagic(ouroboros_mock.MockNetworkMagic),
	)
	require.NoError(t, err)
	_, err = oConn.BlockFetch()
	require.ErrorIs(t, err, nodeclient.ErrProtocolNotAvailable)
	require.NoError(t, oConn.Close())
	<-mockConn.(*ouroboros_mock.Connection).ErrorChan()
}

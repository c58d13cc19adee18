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
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/internal/test/ouroboros_mock"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	"github.com/blinklabs-io/nodeclient/protocol/chainsync"
	pcommon "github.com/blinklabs-io/nodeclient/protocol/common"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
)

const testAddress = "addr_test1vz2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzerspjrlsz"

func lsqInput(msgType uint) ouroboros_mock.ConversationEntryInput {
	return ouroboros_mock.ConversationEntryInput{
		ProtocolId:  localstatequery.ProtocolId,
		MessageType: msgType,
	}
}

func lsqOutput(msgs ...protocol.Message) ouroboros_mock.ConversationEntryOutput {
	return ouroboros_mock.ConversationEntryOutput{
		ProtocolId: localstatequery.ProtocolId,
		IsResponse: true,
		Messages:   msgs,
	}
}

func lsqResult(t *testing.T, value any) ouroboros_mock.ConversationEntryOutput {
	data, err := cbor.Encode(value)
	require.NoError(t, err)
	return lsqOutput(localstatequery.NewMsgResult(data))
}

func TestSessionClosedHandle(t *testing.T) {
	defer goleak.VerifyNone(t)
	session, peer := newTestSession(t, false, nil)
	peer.wait(t)
	require.NoError(t, session.Close())
	// Closing again is harmless
	require.NoError(t, session.Close())
	ctx := context.Background()
	addr, err := ledger.NewAddress(testAddress)
	require.NoError(t, err)
	testDefs := []struct {
		name string
		call func() error
	}{
		{"FindIntersect", func() error {
			_, _, err := session.FindIntersect(ctx, []pcommon.Point{testPoint})
			return err
		}},
		{"Next", func() error {
			_, err := session.Next(ctx)
			return err
		}},
		{"HasAgency", func() error {
			_, err := session.HasAgency()
			return err
		}},
		{"GetTip", func() error {
			_, err := session.GetTip(ctx)
			return err
		}},
		{"FetchBlock", func() error {
			_, err := session.FetchBlock(ctx, testPoint)
			return err
		}},
		{"Acquire", func() error {
			return session.Acquire(ctx, nil)
		}},
		{"Reacquire", func() error {
			return session.Reacquire(ctx, &testPoint)
		}},
		{"Release", session.Release},
		{"CurrentEra", func() error {
			_, err := session.CurrentEra(ctx)
			return err
		}},
		{"GetUtxoByAddress", func() error {
			_, err := session.GetUtxoByAddress(ctx, []ledger.Address{addr})
			return err
		}},
		{"ChainPoint", func() error {
			_, err := session.ChainPoint(ctx)
			return err
		}},
		{"ChainBlockNo", func() error {
			_, err := session.ChainBlockNo(ctx)
			return err
		}},
		{"SystemStart", func() error {
			_, err := session.SystemStart(ctx)
			return err
		}},
	}
	for _, test := range testDefs {
		t.Run(test.name, func(t *testing.T) {
			err := test.call()
			assert.ErrorIs(t, err, nodeclient.ErrClosedHandle)
			assert.True(t, nodeclient.IsFatal(err))
			assert.False(t, nodeclient.IsRetryable(err))
		})
	}
}

func TestSessionRollbackThenFetchBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	blockCbor, _ := buildTestBlock(t, 4000, testPoint.Slot)
	blockMsg, err := blockfetch.NewMsgBlock(ledger.BlockTypeBabbage, blockCbor)
	require.NoError(t, err)
	session, peer := newTestSession(
		t,
		true,
		[]ouroboros_mock.ConversationEntry{
			ouroboros_mock.ConversationEntryInput{
				ProtocolId:  chainsync.ProtocolIdNtN,
				MessageType: chainsync.MessageTypeRequestNext,
			},
			ouroboros_mock.ConversationEntryOutput{
				ProtocolId: chainsync.ProtocolIdNtN,
				IsResponse: true,
				Messages: []protocol.Message{
					chainsync.NewMsgRollBackward(testPoint, testTip),
				},
			},
			ouroboros_mock.ConversationEntryInput{
				ProtocolId: blockfetch.ProtocolId,
				Message:    blockfetch.NewMsgRequestRange(testPoint, testPoint),
			},
			ouroboros_mock.ConversationEntryOutput{
				ProtocolId: blockfetch.ProtocolId,
				IsResponse: true,
				Messages: []protocol.Message{
					blockfetch.NewMsgStartBatch(),
					blockMsg,
					blockfetch.NewMsgBatchDone(),
				},
			},
		},
	)
	ctx := context.Background()
	hasAgency, err := session.HasAgency()
	require.NoError(t, err)
	assert.True(t, hasAgency)
	outcome, err := session.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, chainsync.NextOutcomeRollBackward, outcome.Type)
	assert.True(t, outcome.Point.Equal(testPoint))
	assert.True(t, outcome.Tip.Point.Equal(testTip.Point))
	block, err := session.FetchBlock(ctx, outcome.Point)
	require.NoError(t, err)
	assert.Equal(t, uint(ledger.BlockTypeBabbage), block.Type)
	assert.Equal(t, blockCbor, block.Cbor)
	peer.wait(t)
	// The peer has nothing more to say, so this must come from the cache
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	cached, err := session.FetchBlock(cacheCtx, testPoint)
	require.NoError(t, err)
	assert.Equal(t, block, cached)
	// Ledger queries are not part of node-to-node
	err = session.Acquire(ctx, nil)
	assert.ErrorIs(t, err, nodeclient.ErrProtocolNotAvailable)
	assert.False(t, nodeclient.IsFatal(err))
	require.NoError(t, session.Close())
}

func TestSessionFetchBlockWithoutCache(t *testing.T) {
	defer goleak.VerifyNone(t)
	blockCbor, _ := buildTestBlock(t, 4000, testPoint.Slot)
	blockMsg, err := blockfetch.NewMsgBlock(ledger.BlockTypeBabbage, blockCbor)
	require.NoError(t, err)
	fetchEntries := []ouroboros_mock.ConversationEntry{
		ouroboros_mock.ConversationEntryInput{
			ProtocolId: blockfetch.ProtocolId,
			Message:    blockfetch.NewMsgRequestRange(testPoint, testPoint),
		},
		ouroboros_mock.ConversationEntryOutput{
			ProtocolId: blockfetch.ProtocolId,
			IsResponse: true,
			Messages: []protocol.Message{
				blockfetch.NewMsgStartBatch(),
				blockMsg,
				blockfetch.NewMsgBatchDone(),
			},
		},
	}
	session, peer := newTestSession(
		t,
		true,
		append(append([]ouroboros_mock.ConversationEntry{}, fetchEntries...), fetchEntries...),
		nodeclient.WithBlockCacheSize(0),
	)
	for range 2 {
		block, err := session.FetchBlock(context.Background(), testPoint)
		require.NoError(t, err)
		assert.Equal(t, blockCbor, block.Cbor)
	}
	peer.wait(t)
	require.NoError(t, session.Close())
}

func TestSessionQuery(t *testing.T) {
	defer goleak.VerifyNone(t)
	txIn, err := cbor.Encode([]any{bytes.Repeat([]byte{0x07}, 32), 1})
	require.NoError(t, err)
	txOut, err := cbor.Encode([]any{[]byte{0x60, 0x02}, 2000000})
	require.NoError(t, err)
	utxoMap := append([]byte{0xa1}, txIn...)
	utxoMap = append(utxoMap, txOut...)
	session, peer := newTestSession(
		t,
		false,
		[]ouroboros_mock.ConversationEntry{
			lsqInput(localstatequery.MessageTypeAcquireVolatileTip),
			lsqOutput(localstatequery.NewMsgAcquired()),
			lsqInput(localstatequery.MessageTypeQuery),
			lsqResult(t, ledger.EraIdConway),
			lsqInput(localstatequery.MessageTypeQuery),
			lsqResult(t, []any{cbor.RawMessage(utxoMap)}),
			lsqInput(localstatequery.MessageTypeRelease),
		},
	)
	ctx := context.Background()
	_, err = session.CurrentEra(ctx)
	require.ErrorIs(t, err, localstatequery.ErrNotAcquired)
	require.NoError(t, session.Acquire(ctx, nil))
	era, err := session.CurrentEra(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(ledger.EraIdConway), era)
	addr, err := ledger.NewAddress(testAddress)
	require.NoError(t, err)
	utxos, err := session.GetUtxoByAddress(ctx, []ledger.Address{addr})
	require.NoError(t, err)
	assert.Equal(t, utxoMap, []byte(utxos.Raw))
	require.Len(t, utxos.Entries, 1)
	assert.Equal(t, txIn, []byte(utxos.Entries[0].Input))
	assert.Equal(t, txOut, []byte(utxos.Entries[0].Output))
	require.NoError(t, session.Release())
	_, err = session.ChainBlockNo(ctx)
	require.ErrorIs(t, err, localstatequery.ErrNotAcquired)
	// Block fetch is not part of node-to-client
	_, err = session.FetchBlock(ctx, testPoint)
	assert.ErrorIs(t, err, nodeclient.ErrProtocolNotAvailable)
	peer.wait(t)
	require.NoError(t, session.Close())
}

func TestSessionGetTipWhileAwaiting(t *testing.T) {
	defer goleak.VerifyNone(t)
	session, peer := newTestSession(
		t,
		false,
		[]ouroboros_mock.ConversationEntry{
			ouroboros_mock.ConversationEntryInput{
				ProtocolId:  chainsync.ProtocolIdNtC,
				MessageType: chainsync.MessageTypeFindIntersect,
			},
			ouroboros_mock.ConversationEntryOutput{
				ProtocolId: chainsync.ProtocolIdNtC,
				IsResponse: true,
				Messages: []protocol.Message{
					chainsync.NewMsgIntersectFound(testPoint, testTip),
				},
			},
			ouroboros_mock.ConversationEntryInput{
				ProtocolId:  chainsync.ProtocolIdNtC,
				MessageType: chainsync.MessageTypeRequestNext,
			},
			ouroboros_mock.ConversationEntryOutput{
				ProtocolId: chainsync.ProtocolIdNtC,
				IsResponse: true,
				Messages:   []protocol.Message{chainsync.NewMsgAwaitReply()},
			},
		},
	)
	ctx := context.Background()
	point, _, err := session.FindIntersect(ctx, []pcommon.Point{testPoint})
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.True(t, point.Equal(testPoint))
	outcome, err := session.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, chainsync.NextOutcomeAwaitReply, outcome.Type)
	hasAgency, err := session.HasAgency()
	require.NoError(t, err)
	assert.False(t, hasAgency)
	// The peer cannot be asked while a reply is outstanding, so the last seen tip is returned
	tip, err := session.GetTip(ctx)
	require.NoError(t, err)
	assert.Equal(t, testTip.BlockNumber, tip.BlockNumber)
	assert.True(t, tip.Point.Equal(testTip.Point))
	peer.wait(t)
	require.NoError(t, session.Close())
}

func TestSessionCloseUnblocksAwait(t *testing.T) {
	defer goleak.VerifyNone(t)
	session, peer := newTestSession(
		t,
		false,
		[]ouroboros_mock.ConversationEntry{
			ouroboros_mock.ConversationEntryInput{
				ProtocolId:  chainsync.ProtocolIdNtC,
				MessageType: chainsync.MessageTypeRequestNext,
			},
			ouroboros_mock.ConversationEntryOutput{
				ProtocolId: chainsync.ProtocolIdNtC,
				IsResponse: true,
				Messages:   []protocol.Message{chainsync.NewMsgAwaitReply()},
			},
		},
	)
	outcome, err := session.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, chainsync.NextOutcomeAwaitReply, outcome.Type)
	peer.wait(t)
	// The peer never pushes an update, so this waits until the session is closed
	nextErrChan := make(chan error, 1)
	go func() {
		_, err := session.Next(context.Background())
		nextErrChan <- err
	}()
	select {
	case err := <-nextErrChan:
		t.Fatalf("Next returned before Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	// Agency is a state read and does not wait for the pending Next
	hasAgencyChan := make(chan bool, 1)
	go func() {
		hasAgency, _ := session.HasAgency()
		hasAgencyChan <- hasAgency
	}()
	select {
	case hasAgency := <-hasAgencyChan:
		assert.False(t, hasAgency)
	case <-time.After(time.Second):
		t.Fatal("HasAgency blocked behind a pending Next")
	}
	closeErrChan := make(chan error, 1)
	go func() {
		closeErrChan <- session.Close()
	}()
	select {
	case err := <-closeErrChan:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a pending Next")
	}
	select {
	case err := <-nextErrChan:
		assert.ErrorIs(t, err, nodeclient.ErrClosedHandle)
	case <-time.After(2 * time.Second):
		t.Fatal("pending Next was not unblocked by Close")
	}
	_, err = session.HasAgency()
	assert.ErrorIs(t, err, nodeclient.ErrClosedHandle)
	assert.NoError(t, session.Close())
}

func TestSessionConnectionLost(t *testing.T) {
	defer goleak.VerifyNone(t)
	session, peer := newTestSession(
		t,
		true,
		[]ouroboros_mock.ConversationEntry{
			ouroboros_mock.ConversationEntryInput{
				ProtocolId:  chainsync.ProtocolIdNtN,
				MessageType: chainsync.MessageTypeRequestNext,
			},
			ouroboros_mock.ConversationEntryClose{},
		},
	)
	_, err := session.Next(context.Background())
	require.Error(t, err)
	var connErr *nodeclient.ConnectionError
	require.True(t, errors.As(err, &connErr), "unexpected error: %s", err)
	assert.Equal(t, "transport", connErr.Op)
	assert.True(t, nodeclient.IsFatal(err))
	assert.True(t, nodeclient.IsRetryable(err))
	assert.False(t, nodeclient.IsNotFound(err))
	select {
	case <-session.Connection().DoneChan():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection did not shut down")
	}
	// Later calls report the same cause
	_, err = session.FetchBlock(context.Background(), testPoint)
	require.True(t, errors.As(err, &connErr), "unexpected error: %s", err)
	assert.Equal(t, "transport", connErr.Op)
	peer.wait(t)
	require.NoError(t, session.Close())
}

func TestNewNodeSessionDialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	socketPath := filepath.Join(t.TempDir(), "node.socket")
	_, err := nodeclient.NewNodeSession(
		context.Background(),
		socketPath,
		ouroboros_mock.MockNetworkMagic,
	)
	require.Error(t, err)
	var connErr *nodeclient.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "dial", connErr.Op)
	assert.True(t, nodeclient.IsRetryable(err))
}

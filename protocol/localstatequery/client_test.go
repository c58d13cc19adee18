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

package localstatequery_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/internal/test"
	"github.com/blinklabs-io/nodeclient/internal/test/ouroboros_mock"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
	pcommon "github.com/blinklabs-io/nodeclient/protocol/common"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testAddress = "addr_test1vz2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzerspjrlsz"

var testPoint = pcommon.NewPoint(4242, test.FillHash(0x42))

type testInnerFunc func(*testing.T, *localstatequery.Client)

func runTest(
	t *testing.T,
	conversation []ouroboros_mock.ConversationEntry,
	innerFunc testInnerFunc,
) {
	defer goleak.VerifyNone(t)
	mockConn := ouroboros_mock.NewConnection(
		ouroboros_mock.ProtocolRoleClient,
		append(
			[]ouroboros_mock.ConversationEntry{
				ouroboros_mock.ConversationEntryHandshakeRequestGeneric,
				ouroboros_mock.ConversationEntryHandshakeNtCResponse,
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
	oConn, err := nodeclient.NewConnection(
		nodeclient.WithConnection(mockConn),
		nodeclient.WithNetworkMagic(ouroboros_mock.MockNetworkMagic),
	)
	require.NoError(t, err)
	client, err := oConn.LocalStateQuery()
	require.NoError(t, err)
	innerFunc(t, client)
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

func input(msgType uint) ouroboros_mock.ConversationEntryInput {
	return ouroboros_mock.ConversationEntryInput{
		ProtocolId:  localstatequery.ProtocolId,
		MessageType: msgType,
	}
}

func output(msgs ...protocol.Message) ouroboros_mock.ConversationEntryOutput {
	return ouroboros_mock.ConversationEntryOutput{
		ProtocolId: localstatequery.ProtocolId,
		IsResponse: true,
		Messages:   msgs,
	}
}

func result(t *testing.T, value any) ouroboros_mock.ConversationEntryOutput {
	data, err := cbor.Encode(value)
	require.NoError(t, err)
	return output(localstatequery.NewMsgResult(data))
}

func TestAcquireAndQuery(t *testing.T) {
	// Build a single-entry UTxO map by hand since Go maps cannot have array keys
	txIn, err := cbor.Encode([]any{bytes.Repeat([]byte{0x01}, 32), 3})
	require.NoError(t, err)
	txOut, err := cbor.Encode(map[uint]any{0: []byte{0x60, 0x01}, 1: 5000000})
	require.NoError(t, err)
	utxoMap := append([]byte{0xa1}, txIn...)
	utxoMap = append(utxoMap, txOut...)
	runTest(
		t,
		[]ouroboros_mock.ConversationEntry{
			input(localstatequery.MessageTypeAcquireVolatileTip),
			output(localstatequery.NewMsgAcquired()),
			input(localstatequery.MessageTypeQuery),
			result(t, ledger.EraIdConway),
			input(localstatequery.MessageTypeQuery),
			result(t, []any{cbor.RawMessage(utxoMap)}),
			input(localstatequery.MessageTypeQuery),
			result(t, []any{1, 987}),
			input(localstatequery.MessageTypeRelease),
		},
		func(t *testing.T, client *localstatequery.Client) {
			ctx := context.Background()
			handle, err := client.Acquire(ctx, nil)
			require.NoError(t, err)
			assert.Nil(t, handle.Point())
			assert.True(t, handle.Valid())
			era, err := handle.CurrentEra(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint(ledger.EraIdConway), era)
			addr, err := ledger.NewAddress(testAddress)
			require.NoError(t, err)
			utxos, err := handle.GetUtxoByAddress(ctx, []ledger.Address{addr})
			require.NoError(t, err)
			// Results are passed through byte for byte
			assert.Equal(t, utxoMap, []byte(utxos.Raw))
			require.Len(t, utxos.Entries, 1)
			assert.Equal(t, txIn, []byte(utxos.Entries[0].Input))
			assert.Equal(t, txOut, []byte(utxos.Entries[0].Output))
			blockNo, err := handle.ChainBlockNo(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(987), blockNo)
			require.NoError(t, client.Release())
			assert.False(t, handle.Valid())
		},
	)
}

func TestAcquireFailureIsNotFatal(t *testing.T) {
	runTest(
		t,
		[]ouroboros_mock.ConversationEntry{
			ouroboros_mock.ConversationEntryInput{
				ProtocolId: localstatequery.ProtocolId,
				Message:    localstatequery.NewMsgAcquire(testPoint),
			},
			output(
				localstatequery.NewMsgFailure(
					localstatequery.AcquireFailurePointTooOld,
				),
			),
			input(localstatequery.MessageTypeAcquireVolatileTip),
			output(localstatequery.NewMsgAcquired()),
		},
		func(t *testing.T, client *localstatequery.Client) {
			point := testPoint
			_, err := client.Acquire(context.Background(), &point)
			require.ErrorIs(t, err, localstatequery.ErrAcquireFailurePointTooOld)
			assert.True(t, nodeclient.IsNotFound(err))
			assert.False(t, nodeclient.IsFatal(err))
			handle, err := client.Acquire(context.Background(), nil)
			require.NoError(t, err)
			assert.True(t, handle.Valid())
		},
	)
}

func TestQueryWithoutAcquire(t *testing.T) {
	runTest(
		t,
		nil,
		func(t *testing.T, client *localstatequery.Client) {
			_, err := client.Query(context.Background(), []any{1})
			require.ErrorIs(t, err, localstatequery.ErrNotAcquired)
			// Nothing is sent, so the release is a no-op too
			require.NoError(t, client.Release())
		},
	)
}

func TestReacquireInvalidatesHandle(t *testing.T) {
	runTest(
		t,
		[]ouroboros_mock.ConversationEntry{
			ouroboros_mock.ConversationEntryInput{
				ProtocolId: localstatequery.ProtocolId,
				Message:    localstatequery.NewMsgAcquire(testPoint),
			},
			output(localstatequery.NewMsgAcquired()),
			input(localstatequery.MessageTypeReacquireVolatileTip),
			output(localstatequery.NewMsgAcquired()),
			input(localstatequery.MessageTypeQuery),
			result(t, []any{2020, 100, 0}),
		},
		func(t *testing.T, client *localstatequery.Client) {
			ctx := context.Background()
			point := testPoint
			first, err := client.Acquire(ctx, &point)
			require.NoError(t, err)
			chainPoint, err := first.ChainPoint(ctx)
			require.NoError(t, err)
			assert.True(t, chainPoint.Equal(testPoint))
			second, err := client.Reacquire(ctx, nil)
			require.NoError(t, err)
			assert.False(t, first.Valid())
			_, err = first.CurrentEra(ctx)
			require.ErrorIs(t, err, localstatequery.ErrHandleReleased)
			systemStart, err := second.SystemStart(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2020, systemStart.Year)
			assert.Equal(t, 100, systemStart.Day)
		},
	)
}

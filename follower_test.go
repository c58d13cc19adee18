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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/checkpoint"
	"github.com/blinklabs-io/nodeclient/internal/test"
	"github.com/blinklabs-io/nodeclient/internal/test/ouroboros_mock"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/chainsync"
	pcommon "github.com/blinklabs-io/nodeclient/protocol/common"
)

func chainSyncOutput(msgs ...protocol.Message) ouroboros_mock.ConversationEntryOutput {
	return ouroboros_mock.ConversationEntryOutput{
		ProtocolId: chainsync.ProtocolIdNtC,
		IsResponse: true,
		Messages:   msgs,
	}
}

var chainSyncRequestNext = ouroboros_mock.ConversationEntryInput{
	ProtocolId:  chainsync.ProtocolIdNtC,
	MessageType: chainsync.MessageTypeRequestNext,
}

// runFollower runs the follower in the background and returns a function that stops it and
// returns the result of Run
func runFollower(t *testing.T, follower *nodeclient.Follower) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	runErrChan := make(chan error, 1)
	go func() {
		runErrChan <- follower.Run(ctx)
	}()
	return func() error {
		cancel()
		select {
		case err := <-runErrChan:
			return err
		case <-time.After(2 * time.Second):
			t.Fatalf("follower did not stop within timeout")
		}
		return nil
	}
}

func nextEvent(t *testing.T, follower *nodeclient.Follower) nodeclient.FollowEvent {
	select {
	case event, ok := <-follower.Events():
		require.True(t, ok, "event channel closed early")
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("did not receive event within timeout")
	}
	return nodeclient.FollowEvent{}
}

func TestFollowerForwardThenRollback(t *testing.T) {
	defer goleak.VerifyNone(t)
	blockCbor, headerCbor := buildTestBlock(t, 777, 8888)
	rollForward, err := chainsync.NewMsgRollForwardNtC(
		ledger.BlockTypeBabbage,
		blockCbor,
		testTip,
	)
	require.NoError(t, err)
	var peer *mockPeer
	var factoryCalls atomic.Int32
	factory := func(ctx context.Context) (*nodeclient.Session, error) {
		// The first attempt fails to exercise the reconnect path
		if factoryCalls.Add(1) == 1 {
			return nil, errors.New("peer unavailable")
		}
		var connOpts []nodeclient.ConnectionOptionFunc
		peer, connOpts = newMockPeer(
			false,
			[]ouroboros_mock.ConversationEntry{
				ouroboros_mock.ConversationEntryInput{
					ProtocolId: chainsync.ProtocolIdNtC,
					Message: chainsync.NewMsgFindIntersect(
						[]pcommon.Point{pcommon.NewPointOrigin()},
					),
				},
				chainSyncOutput(
					chainsync.NewMsgIntersectFound(pcommon.NewPointOrigin(), testTip),
				),
				chainSyncRequestNext,
				chainSyncOutput(rollForward),
				chainSyncRequestNext,
				chainSyncOutput(chainsync.NewMsgRollBackward(testPoint, testTip)),
			},
		)
		conn, err := nodeclient.NewConnection(connOpts...)
		if err != nil {
			return nil, err
		}
		return nodeclient.NewSession(conn)
	}
	store := checkpoint.NewMemoryStore()
	follower, err := nodeclient.NewFollower(
		nodeclient.FollowerConfig{
			SessionFactory: factory,
			Store:          store,
			ReconnectDelay: 10 * time.Millisecond,
		},
	)
	require.NoError(t, err)
	stop := runFollower(t, follower)
	event := nextEvent(t, follower)
	require.Equal(t, chainsync.NextOutcomeRollForward, event.Type)
	expectedPoint := pcommon.NewPoint(8888, ledger.Blake2b256Hash(headerCbor).Bytes())
	assert.True(t, event.Point.Equal(expectedPoint), "got point %s", event.Point)
	assert.Equal(t, blockCbor, event.Outcome.Payload)
	event = nextEvent(t, follower)
	require.Equal(t, chainsync.NextOutcomeRollBackward, event.Type)
	assert.True(t, event.Point.Equal(testPoint))
	assert.Nil(t, event.Block)
	peer.wait(t)
	require.NoError(t, stop())
	// The event channel is closed once Run returns
	for range follower.Events() {
	}
	assert.Equal(t, int32(2), factoryCalls.Load())
	saved, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.Equal(testPoint), "got saved point %s", saved)
}

func TestFollowerResumesFromStore(t *testing.T) {
	defer goleak.VerifyNone(t)
	startPoint := pcommon.NewPoint(
		10,
		test.FillHash(0x0a),
	)
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save(testPoint))
	var peerPtr atomic.Pointer[mockPeer]
	factory := func(ctx context.Context) (*nodeclient.Session, error) {
		peer, connOpts := newMockPeer(
			false,
			[]ouroboros_mock.ConversationEntry{
				ouroboros_mock.ConversationEntryInput{
					ProtocolId: chainsync.ProtocolIdNtC,
					// Saved point first, then the configured points, then the origin
					Message: chainsync.NewMsgFindIntersect(
						[]pcommon.Point{
							testPoint,
							startPoint,
							pcommon.NewPointOrigin(),
						},
					),
				},
				chainSyncOutput(chainsync.NewMsgIntersectFound(testPoint, testTip)),
				chainSyncRequestNext,
				chainSyncOutput(chainsync.NewMsgAwaitReply()),
			},
		)
		peerPtr.Store(peer)
		conn, err := nodeclient.NewConnection(connOpts...)
		if err != nil {
			return nil, err
		}
		return nodeclient.NewSession(conn)
	}
	follower, err := nodeclient.NewFollower(
		nodeclient.FollowerConfig{
			SessionFactory: factory,
			Store:          store,
			StartPoints:    []pcommon.Point{startPoint},
			// Any reconnect would make the mock conversation fail
			ReconnectDelay: time.Hour,
		},
	)
	require.NoError(t, err)
	stop := runFollower(t, follower)
	// Wait for the follower to consume the scripted conversation
	require.Eventually(
		t,
		func() bool { return peerPtr.Load() != nil },
		2*time.Second,
		10*time.Millisecond,
	)
	peerPtr.Load().wait(t)
	require.NoError(t, stop())
	// AwaitReply is not reported as an event
	for event := range follower.Events() {
		t.Errorf("unexpected event: %#v", event)
	}
}

func TestNewFollowerRequiresFactory(t *testing.T) {
	_, err := nodeclient.NewFollower(nodeclient.FollowerConfig{})
	assert.Error(t, err)
}

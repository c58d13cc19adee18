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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/internal/test"
	"github.com/blinklabs-io/nodeclient/internal/test/ouroboros_mock"
	pcommon "github.com/blinklabs-io/nodeclient/protocol/common"
)

var (
	testPoint = pcommon.NewPoint(
		50005,
		test.FillHash(0x5a),
	)
	testTip = pcommon.Tip{
		Point: pcommon.NewPoint(
			60006,
			test.FillHash(0x6b),
		),
		BlockNumber: 4321,
	}
)

// mockPeer is a scripted peer on the other end of a Connection
type mockPeer struct {
	conn     *ouroboros_mock.Connection
	errChan  chan error
	finished bool
}

func newMockPeer(
	nodeToNode bool,
	conversation []ouroboros_mock.ConversationEntry,
) (*mockPeer, []nodeclient.ConnectionOptionFunc) {
	handshake := ouroboros_mock.ConversationHandshakeNtC
	if nodeToNode {
		handshake = ouroboros_mock.ConversationHandshakeNtN
	}
	fullConversation := append(
		append([]ouroboros_mock.ConversationEntry{}, handshake...),
		conversation...,
	)
	mockConn := ouroboros_mock.NewConnection(
		ouroboros_mock.ProtocolRoleClient,
		fullConversation,
	).(*ouroboros_mock.Connection)
	p := &mockPeer{
		conn:    mockConn,
		errChan: make(chan error, 1),
	}
	go func() {
		if err := <-mockConn.ErrorChan(); err != nil {
			p.errChan <- fmt.Errorf("mock peer: %w", err)
		}
		close(p.errChan)
	}()
	opts := []nodeclient.ConnectionOptionFunc{
		nodeclient.WithConnection(mockConn),
		nodeclient.WithNetworkMagic(ouroboros_mock.MockNetworkMagic),
		nodeclient.WithNodeToNode(nodeToNode),
	}
	return p, opts
}

// wait fails the test if the peer did not get through its conversation
func (p *mockPeer) wait(t *testing.T) {
	t.Helper()
	if p.finished {
		return
	}
	select {
	case err, ok := <-p.errChan:
		if ok {
			t.Fatal(err.Error())
		}
		p.finished = true
	case <-time.After(2 * time.Second):
		t.Fatalf("mock peer did not complete within timeout")
	}
}

// newTestSession returns a Session talking to a scripted peer
func newTestSession(
	t *testing.T,
	nodeToNode bool,
	conversation []ouroboros_mock.ConversationEntry,
	opts ...nodeclient.SessionOptionFunc,
) (*nodeclient.Session, *mockPeer) {
	t.Helper()
	peer, connOpts := newMockPeer(nodeToNode, conversation)
	conn, err := nodeclient.NewConnection(connOpts...)
	require.NoError(t, err)
	session, err := nodeclient.NewSession(conn, opts...)
	require.NoError(t, err)
	return session, peer
}

// buildTestBlock returns a minimal Babbage block and its header
func buildTestBlock(t *testing.T, blockNumber uint64, slot uint64) ([]byte, []byte) {
	t.Helper()
	headerCbor, err := cbor.Encode(
		[]any{
			[]any{blockNumber, slot, []byte{0xab}},
			[]byte{0xcd},
		},
	)
	require.NoError(t, err)
	blockCbor, err := cbor.Encode(
		[]any{
			cbor.RawMessage(headerCbor),
			[]any{},
			[]any{},
			map[uint]any{},
		},
	)
	require.NoError(t, err)
	return blockCbor, headerCbor
}

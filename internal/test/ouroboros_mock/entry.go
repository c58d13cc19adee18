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

package ouroboros_mock

import (
	"time"

	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/handshake"
)

const (
	MockNetworkMagic       uint32 = 999999
	MockProtocolVersionNtC uint16 = 16 + protocol.ProtocolVersionNtCOffset
	MockProtocolVersionNtN uint16 = 13
)

// ConversationEntry is a single step of a scripted conversation
type ConversationEntry interface {
	isConversationEntry()
}

// ConversationEntryInput expects a message from the client under test. When Message is set,
// the received payload must match its encoding exactly. Otherwise only MessageType is checked,
// followed by MatchFunc if provided
type ConversationEntryInput struct {
	ProtocolId  uint16
	IsResponse  bool
	MessageType uint
	Message     protocol.Message
	MatchFunc   func(payload []byte) error
}

func (ConversationEntryInput) isConversationEntry() {}

// ConversationEntryOutput sends one or more messages in a single segment
type ConversationEntryOutput struct {
	ProtocolId uint16
	IsResponse bool
	Messages   []protocol.Message
}

func (ConversationEntryOutput) isConversationEntry() {}

// ConversationEntrySleep pauses the conversation
type ConversationEntrySleep struct {
	Duration time.Duration
}

func (ConversationEntrySleep) isConversationEntry() {}

// ConversationEntryClose closes the connection
type ConversationEntryClose struct{}

func (ConversationEntryClose) isConversationEntry() {}

// ConversationEntryHandshakeRequestGeneric is a pre-defined conversation event that matches a generic
// handshake request from a client
var ConversationEntryHandshakeRequestGeneric = ConversationEntryInput{
	ProtocolId:  handshake.ProtocolId,
	MessageType: handshake.MessageTypeProposeVersions,
}

// ConversationEntryHandshakeNtCResponse is a pre-defined conversation entry for a server NtC handshake response
var ConversationEntryHandshakeNtCResponse = ConversationEntryOutput{
	ProtocolId: handshake.ProtocolId,
	IsResponse: true,
	Messages: []protocol.Message{
		mustAcceptVersion(
			MockProtocolVersionNtC,
			protocol.VersionDataNtC15andUp{
				CborNetworkMagic: MockNetworkMagic,
				CborQuery:        protocol.QueryModeDisabled,
			},
		),
	},
}

// ConversationEntryHandshakeNtNResponse is a pre-defined conversation entry for a server NtN handshake response
var ConversationEntryHandshakeNtNResponse = ConversationEntryOutput{
	ProtocolId: handshake.ProtocolId,
	IsResponse: true,
	Messages: []protocol.Message{
		mustAcceptVersion(
			MockProtocolVersionNtN,
			protocol.VersionDataNtN11andUp{
				CborNetworkMagic:               MockNetworkMagic,
				CborInitiatorOnlyDiffusionMode: protocol.DiffusionModeInitiatorOnly,
				CborPeerSharing:                protocol.PeerSharingModeNoPeerSharing,
				CborQuery:                      protocol.QueryModeDisabled,
			},
		),
	},
}

// ConversationEntryHandshakeRefuse is a pre-defined conversation entry for a server refusing the
// client's proposal
var ConversationEntryHandshakeRefuse = ConversationEntryOutput{
	ProtocolId: handshake.ProtocolId,
	IsResponse: true,
	Messages: []protocol.Message{
		handshake.NewMsgRefuse(
			[]any{
				handshake.RefuseReasonRefused,
				uint64(MockProtocolVersionNtC),
				"refused by mock",
			},
		),
	},
}

// ConversationHandshakeNtC is a conversation containing only a successful NtC handshake
var ConversationHandshakeNtC = []ConversationEntry{
	ConversationEntryHandshakeRequestGeneric,
	ConversationEntryHandshakeNtCResponse,
}

// ConversationHandshakeNtN is a conversation containing only a successful NtN handshake
var ConversationHandshakeNtN = []ConversationEntry{
	ConversationEntryHandshakeRequestGeneric,
	ConversationEntryHandshakeNtNResponse,
}

func mustAcceptVersion(
	version uint16,
	versionData protocol.VersionData,
) *handshake.MsgAcceptVersion {
	msg, err := handshake.NewMsgAcceptVersion(version, versionData)
	if err != nil {
		panic(err)
	}
	return msg
}

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

package chainsync

import (
	"errors"

	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

// NextOutcomeType identifies the kind of reply to a request for the next update
type NextOutcomeType uint8

const (
	NextOutcomeRollForward  NextOutcomeType = 1
	NextOutcomeRollBackward NextOutcomeType = 2
	NextOutcomeAwaitReply   NextOutcomeType = 3
)

func (t NextOutcomeType) String() string {
	switch t {
	case NextOutcomeRollForward:
		return "RollForward"
	case NextOutcomeRollBackward:
		return "RollBackward"
	case NextOutcomeAwaitReply:
		return "AwaitReply"
	default:
		return "Unknown"
	}
}

// NextOutcome is the result of a single step of chain sync
type NextOutcome struct {
	Type NextOutcomeType
	// Ledger era of the payload (RollForward)
	Era uint
	// Block type of a node-to-client block (RollForward)
	BlockType uint
	// Byron header subtype of a node-to-node header (RollForward)
	ByronType uint
	// Whether Payload is a header (node-to-node) rather than a full block (node-to-client)
	IsHeader bool
	// Opaque block or header CBOR (RollForward)
	Payload []byte
	// Rollback target (RollBackward)
	Point common.Point
	// Peer tip (RollForward and RollBackward)
	Tip common.Tip
}

// BlockPoint returns the chain point and block number of a RollForward payload
func (o NextOutcome) BlockPoint() (common.Point, uint64, error) {
	if o.Type != NextOutcomeRollForward {
		return common.Point{}, 0, errors.New("outcome is not a RollForward")
	}
	if o.IsHeader {
		return ledger.HeaderPoint(o.Era, o.Payload)
	}
	return ledger.BlockPoint(o.BlockType, o.Payload)
}

// AgencyState describes which branch the next call to Next will take
type AgencyState struct {
	// The client may send the next request
	HasAgency bool
	// An AwaitReply was returned and the pushed update has not been consumed yet
	AwaitingReply bool
}

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

package ledger

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

// ErrByronHeader is returned when point extraction is attempted for a Byron header
var ErrByronHeader = errors.New("point extraction is not supported for Byron headers")

type shelleyHeader struct {
	cbor.StructAsArray
	Body      shelleyHeaderBodyPrefix
	Signature cbor.RawMessage
}

// Only the leading fields of the header body are needed to locate the block
type shelleyHeaderBodyPrefix struct {
	BlockNumber uint64
	Slot        uint64
}

func (h *shelleyHeaderBodyPrefix) UnmarshalCBOR(data []byte) error {
	var tmp []cbor.RawMessage
	if _, err := cbor.Decode(data, &tmp); err != nil {
		return err
	}
	if len(tmp) < 2 {
		return errors.New("header body too short")
	}
	if _, err := cbor.Decode(tmp[0], &h.BlockNumber); err != nil {
		return err
	}
	if _, err := cbor.Decode(tmp[1], &h.Slot); err != nil {
		return err
	}
	return nil
}

// HeaderPoint returns the chain point and block number for a Shelley-or-later block header
func HeaderPoint(eraId uint, headerCbor []byte) (common.Point, uint64, error) {
	if eraId == EraIdByron {
		return common.Point{}, 0, ErrByronHeader
	}
	var header shelleyHeader
	if _, err := cbor.Decode(headerCbor, &header); err != nil {
		return common.Point{}, 0, fmt.Errorf("decode header: %w", err)
	}
	hash := Blake2b256Hash(headerCbor)
	return common.NewPoint(header.Body.Slot, hash.Bytes()), header.Body.BlockNumber, nil
}

// BlockPoint returns the chain point and block number for a node-to-client wrapped block
func BlockPoint(blockType uint, blockCbor []byte) (common.Point, uint64, error) {
	era, err := BlockTypeToEra(blockType)
	if err != nil {
		return common.Point{}, 0, err
	}
	var block []cbor.RawMessage
	if _, err := cbor.Decode(blockCbor, &block); err != nil {
		return common.Point{}, 0, fmt.Errorf("decode block: %w", err)
	}
	if len(block) == 0 {
		return common.Point{}, 0, errors.New("decode block: empty block")
	}
	return HeaderPoint(uint(era.Id), block[0])
}

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

// The common package contains types used by multiple mini-protocols
package common

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/blinklabs-io/nodeclient/cbor"
)

// BlockHashLength is the size of a block header hash
const BlockHashLength = 32

// The Point type represents a point on the blockchain. It consists of a slot number and block hash.
// The zero value represents the origin of the chain
type Point struct {
	// Tells the CBOR decoder to convert to/from a struct and a CBOR array
	_    struct{} `cbor:",toarray"`
	Slot uint64
	Hash []byte
}

// NewPoint returns a Point object with the specified slot number and block hash
func NewPoint(slot uint64, blockHash []byte) Point {
	return Point{
		Slot: slot,
		Hash: blockHash,
	}
}

// NewPointOrigin returns an "empty" Point object which represents the origin of the blockchain
func NewPointOrigin() Point {
	return Point{}
}

// IsOrigin returns whether the point refers to the origin of the chain
func (p Point) IsOrigin() bool {
	return p.Slot == 0 && len(p.Hash) == 0
}

// Equal returns whether two points refer to the same position on the chain
func (p Point) Equal(other Point) bool {
	return p.Slot == other.Slot && bytes.Equal(p.Hash, other.Hash)
}

func (p Point) String() string {
	if p.IsOrigin() {
		return "origin"
	}
	return fmt.Sprintf("%d.%s", p.Slot, hex.EncodeToString(p.Hash))
}

// UnmarshalCBOR is a helper function for decoding a Point object from CBOR. The object content can vary,
// so we need to do some special handling when decoding. It is not intended to be called directly.
func (p *Point) UnmarshalCBOR(data []byte) error {
	var tmp []cbor.RawMessage
	if _, err := cbor.Decode(data, &tmp); err != nil {
		return err
	}
	switch len(tmp) {
	case 0:
		*p = NewPointOrigin()
		return nil
	case 2:
		if _, err := cbor.Decode(tmp[0], &p.Slot); err != nil {
			return fmt.Errorf("invalid point slot: %w", err)
		}
		if _, err := cbor.Decode(tmp[1], &p.Hash); err != nil {
			return fmt.Errorf("invalid point hash: %w", err)
		}
		return nil
	default:
		return errors.New("invalid point: expected 0 or 2 items")
	}
}

// MarshalCBOR is a helper function for encoding a Point object to CBOR. The object content can vary, so we
// need to do some special handling when encoding. It is not intended to be called directly.
func (p Point) MarshalCBOR() ([]byte, error) {
	var data []any
	if p.IsOrigin() {
		// Return an empty list if values are zero
		data = make([]any, 0)
	} else {
		data = []any{p.Slot, p.Hash}
	}
	return cbor.Encode(data)
}

// Tip represents a Point combined with a block number
type Tip struct {
	cbor.StructAsArray
	Point       Point
	BlockNumber uint64
}

func (t Tip) String() string {
	return fmt.Sprintf("%s (block %d)", t.Point, t.BlockNumber)
}

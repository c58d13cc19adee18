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
	"encoding/hex"
	"fmt"

	"github.com/blinklabs-io/nodeclient/cbor"
	"golang.org/x/crypto/blake2b"
)

const Blake2b256Size = 32

// Blake2b256 is the hash type used for transaction IDs and block header hashes
type Blake2b256 [Blake2b256Size]byte

// NewBlake2b256 returns a hash from the provided bytes, which must be the correct size
func NewBlake2b256(data []byte) (Blake2b256, error) {
	var ret Blake2b256
	if len(data) != Blake2b256Size {
		return ret, fmt.Errorf(
			"invalid hash length: expected %d bytes, got %d",
			Blake2b256Size,
			len(data),
		)
	}
	copy(ret[:], data)
	return ret, nil
}

func (b Blake2b256) String() string {
	return hex.EncodeToString(b[:])
}

// Bytes returns a copy of the hash as a byte slice
func (b Blake2b256) Bytes() []byte {
	ret := make([]byte, Blake2b256Size)
	copy(ret, b[:])
	return ret
}

func (b Blake2b256) MarshalCBOR() ([]byte, error) {
	return cbor.Encode(b[:])
}

func (b *Blake2b256) UnmarshalCBOR(data []byte) error {
	var tmp []byte
	if _, err := cbor.Decode(data, &tmp); err != nil {
		return err
	}
	hash, err := NewBlake2b256(tmp)
	if err != nil {
		return err
	}
	*b = hash
	return nil
}

// Blake2b256Hash generates a Blake2b-256 hash from the provided data
func Blake2b256Hash(data []byte) Blake2b256 {
	return Blake2b256(blake2b.Sum256(data))
}

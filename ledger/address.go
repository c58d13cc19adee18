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
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Address header types, from the upper nibble of the first address byte
const (
	AddressTypeKeyKey        = 0b0000
	AddressTypeScriptKey     = 0b0001
	AddressTypeKeyScript     = 0b0010
	AddressTypeScriptScript  = 0b0011
	AddressTypeKeyPointer    = 0b0100
	AddressTypeScriptPointer = 0b0101
	AddressTypeKeyNone       = 0b0110
	AddressTypeScriptNone    = 0b0111
	AddressTypeByron         = 0b1000
	AddressTypeNoneKey       = 0b1110
	AddressTypeNoneScript    = 0b1111
)

const (
	AddressNetworkTestnet = 0
	AddressNetworkMainnet = 1
)

// Address is an encoded address. Only the header byte is interpreted, to pick the text encoding
type Address []byte

// NewAddress parses a bech32 or base58 address string. Strings with mixed case are assumed
// to be base58 encoded Byron addresses
func NewAddress(addr string) (Address, error) {
	if addr == "" {
		return nil, errors.New("empty address")
	}
	if strings.ToLower(addr) != addr {
		decoded := base58.Decode(addr)
		if len(decoded) == 0 {
			return nil, errors.New("invalid base58 address")
		}
		return Address(decoded), nil
	}
	_, data, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid bech32 address: %w", err)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("invalid bech32 address: %w", err)
	}
	return NewAddressFromBytes(decoded)
}

// NewAddressFromBytes returns an Address for the raw bytes provided
func NewAddressFromBytes(addrBytes []byte) (Address, error) {
	if len(addrBytes) == 0 {
		return nil, errors.New("empty address")
	}
	ret := make(Address, len(addrBytes))
	copy(ret, addrBytes)
	return ret, nil
}

// Type returns the address type from the header byte
func (a Address) Type() uint8 {
	if len(a) == 0 {
		return 0
	}
	return a[0] >> 4
}

// NetworkId returns the network ID from the header byte. Byron addresses carry their network in
// attributes, which are not interpreted here
func (a Address) NetworkId() uint8 {
	if len(a) == 0 {
		return 0
	}
	return a[0] & 0x0f
}

// Bytes returns the raw address bytes
func (a Address) Bytes() []byte {
	return []byte(a)
}

// String returns the bech32 encoding of the address, or base58 for Byron addresses
func (a Address) String() string {
	if len(a) == 0 {
		return ""
	}
	if a.Type() == AddressTypeByron {
		return base58.Encode(a)
	}
	convData, err := bech32.ConvertBits(a, 8, 5, true)
	if err != nil {
		panic(fmt.Sprintf("unexpected error converting data to base32: %s", err))
	}
	encoded, err := bech32.Encode(a.hrp(), convData)
	if err != nil {
		panic(fmt.Sprintf("unexpected error encoding data as bech32: %s", err))
	}
	return encoded
}

func (a Address) hrp() string {
	ret := "addr"
	if a.Type() == AddressTypeNoneKey || a.Type() == AddressTypeNoneScript {
		ret = "stake"
	}
	if a.NetworkId() == AddressNetworkTestnet {
		ret += "_test"
	}
	return ret
}

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
	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/ledger"
)

// WrappedBlock represents a block returned via a NtC RollForward message
type WrappedBlock struct {
	cbor.StructAsArray
	cbor.DecodeStoreCbor
	BlockType uint
	BlockCbor cbor.RawMessage
}

// NewWrappedBlock returns a new WrappedBlock
func NewWrappedBlock(blockType uint, blockCbor []byte) *WrappedBlock {
	return &WrappedBlock{
		BlockType: blockType,
		BlockCbor: blockCbor,
	}
}

func (w *WrappedBlock) UnmarshalCBOR(data []byte) error {
	return w.UnmarshalCborGeneric(data, w)
}

// WrappedHeader represents a block header returned via NtN RollForward message
type WrappedHeader struct {
	cbor.DecodeStoreCbor
	Era        uint
	byronType  uint
	byronSize  uint
	headerCbor []byte
}

// NewWrappedHeader returns a new WrappedHeader
func NewWrappedHeader(era uint, byronType uint, headerCbor []byte) *WrappedHeader {
	w := &WrappedHeader{
		Era:        era,
		byronType:  byronType,
		headerCbor: headerCbor,
	}
	if era == ledger.EraIdByron {
		w.byronSize = uint(len(headerCbor))
	}
	return w
}

func (w *WrappedHeader) UnmarshalCBOR(data []byte) error {
	var tmpHeader struct {
		cbor.StructAsArray
		Era       uint
		HeaderRaw cbor.RawMessage
	}
	if _, err := cbor.Decode(data, &tmpHeader); err != nil {
		return err
	}
	w.Era = tmpHeader.Era
	switch w.Era {
	case ledger.EraIdByron:
		var wrappedHeaderByron wrappedHeaderByron
		if _, err := cbor.Decode(tmpHeader.HeaderRaw, &wrappedHeaderByron); err != nil {
			return err
		}
		w.byronType = wrappedHeaderByron.Metadata.Type
		w.byronSize = wrappedHeaderByron.Metadata.Size
		w.headerCbor = wrappedHeaderByron.RawHeader.Bytes()
	default:
		var wrapped cbor.WrappedCbor
		if _, err := cbor.Decode(tmpHeader.HeaderRaw, &wrapped); err != nil {
			return err
		}
		w.headerCbor = wrapped.Bytes()
	}
	w.SetCbor(data)
	return nil
}

func (w *WrappedHeader) MarshalCBOR() ([]byte, error) {
	ret := []any{
		w.Era,
	}
	switch w.Era {
	case ledger.EraIdByron:
		ret = append(
			ret,
			[]any{
				[]any{
					w.byronType,
					w.byronSize,
				},
				cbor.WrappedCbor(w.headerCbor),
			},
		)
	default:
		ret = append(ret, cbor.WrappedCbor(w.headerCbor))
	}
	return cbor.Encode(ret)
}

// HeaderCbor returns the header CBOR
func (w *WrappedHeader) HeaderCbor() []byte {
	return w.headerCbor
}

// ByronType returns the block type for Byron blocks
func (w *WrappedHeader) ByronType() uint {
	return w.byronType
}

type wrappedHeaderByron struct {
	cbor.StructAsArray
	Metadata struct {
		cbor.StructAsArray
		Type uint
		Size uint
	}
	RawHeader cbor.WrappedCbor
}

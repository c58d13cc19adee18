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

package protocol

import "github.com/blinklabs-io/nodeclient/cbor"

// Diffusion modes
const (
	DiffusionModeInitiatorOnly         = true
	DiffusionModeInitiatorAndResponder = false
)

// Peer sharing modes
const (
	PeerSharingModeNoPeerSharing = 0
)

// Query modes
const (
	QueryModeDisabled = false
	QueryModeEnabled  = true
)

// VersionData is the handshake payload that accompanies each protocol version
type VersionData interface {
	NetworkMagic() uint32
	// NtN only
	DiffusionMode() bool
}

type VersionDataNtC9to14 uint32

func NewVersionDataNtC9to14FromCbor(cborData []byte) (VersionData, error) {
	var v VersionDataNtC9to14
	if _, err := cbor.Decode(cborData, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (v VersionDataNtC9to14) NetworkMagic() uint32 {
	return uint32(v)
}

func (v VersionDataNtC9to14) DiffusionMode() bool {
	return DiffusionModeInitiatorOnly
}

type VersionDataNtC15andUp struct {
	cbor.StructAsArray
	CborNetworkMagic uint32
	CborQuery        bool
}

func NewVersionDataNtC15andUpFromCbor(cborData []byte) (VersionData, error) {
	var v VersionDataNtC15andUp
	if _, err := cbor.Decode(cborData, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (v VersionDataNtC15andUp) NetworkMagic() uint32 {
	return v.CborNetworkMagic
}

func (v VersionDataNtC15andUp) DiffusionMode() bool {
	return DiffusionModeInitiatorOnly
}

type VersionDataNtN7to10 struct {
	cbor.StructAsArray
	CborNetworkMagic               uint32
	CborInitiatorOnlyDiffusionMode bool
}

func NewVersionDataNtN7to10FromCbor(cborData []byte) (VersionData, error) {
	var v VersionDataNtN7to10
	if _, err := cbor.Decode(cborData, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (v VersionDataNtN7to10) NetworkMagic() uint32 {
	return v.CborNetworkMagic
}

func (v VersionDataNtN7to10) DiffusionMode() bool {
	return v.CborInitiatorOnlyDiffusionMode
}

type VersionDataNtN11andUp struct {
	cbor.StructAsArray
	CborNetworkMagic               uint32
	CborInitiatorOnlyDiffusionMode bool
	CborPeerSharing                uint
	CborQuery                      bool
}

func NewVersionDataNtN11andUpFromCbor(cborData []byte) (VersionData, error) {
	var v VersionDataNtN11andUp
	if _, err := cbor.Decode(cborData, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (v VersionDataNtN11andUp) NetworkMagic() uint32 {
	return v.CborNetworkMagic
}

func (v VersionDataNtN11andUp) DiffusionMode() bool {
	return v.CborInitiatorOnlyDiffusionMode
}

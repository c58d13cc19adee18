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

import (
	"slices"
)

// The NtC protocol versions have the 15th bit set in the handshake
const ProtocolVersionNtCOffset = 0x8000

// Most recent NtC version that does not carry the query flag in its version data
const protocolVersionNtCLegacyMax = 14

// Most recent NtN version that uses the two-field version data
const protocolVersionNtNLegacyMax = 10

type NewVersionDataFromCborFunc func([]byte) (VersionData, error)

// ProtocolVersionMap is the set of versions proposed during the handshake
type ProtocolVersionMap map[uint16]VersionData

// ProtocolVersion describes what a negotiated version enables
type ProtocolVersion struct {
	NewVersionDataFromCborFunc NewVersionDataFromCborFunc
	// NtC only
	EnableLocalQueryProtocol bool
	EnableChainPointQuery    bool
	// NtN only
	EnableKeepAliveProtocol bool
}

var protocolVersions = map[uint16]ProtocolVersion{}

func init() {
	// We don't bother supporting NtC protocol versions before 9 (when Alonzo was enabled)
	for version := uint16(9); version <= 20; version++ {
		v := ProtocolVersion{
			NewVersionDataFromCborFunc: NewVersionDataNtC15andUpFromCbor,
			EnableLocalQueryProtocol:   true,
			// GetChainBlockNo and GetChainPoint were added in v10
			EnableChainPointQuery: version >= 10,
		}
		if version <= protocolVersionNtCLegacyMax {
			v.NewVersionDataFromCborFunc = NewVersionDataNtC9to14FromCbor
		}
		protocolVersions[version+ProtocolVersionNtCOffset] = v
	}
	for version := uint16(7); version <= 14; version++ {
		v := ProtocolVersion{
			NewVersionDataFromCborFunc: NewVersionDataNtN11andUpFromCbor,
			EnableKeepAliveProtocol:    true,
		}
		if version <= protocolVersionNtNLegacyMax {
			v.NewVersionDataFromCborFunc = NewVersionDataNtN7to10FromCbor
		}
		protocolVersions[version] = v
	}
}

// GetProtocolVersionMap returns a data structure suitable for use with the protocol handshake
func GetProtocolVersionMap(
	protocolMode ProtocolMode,
	networkMagic uint32,
) ProtocolVersionMap {
	ret := ProtocolVersionMap{}
	for _, version := range GetProtocolVersions(protocolMode) {
		if protocolMode == ProtocolModeNodeToClient {
			if version-ProtocolVersionNtCOffset <= protocolVersionNtCLegacyMax {
				ret[version] = VersionDataNtC9to14(networkMagic)
			} else {
				ret[version] = VersionDataNtC15andUp{
					CborNetworkMagic: networkMagic,
					CborQuery:        QueryModeDisabled,
				}
			}
			continue
		}
		if version <= protocolVersionNtNLegacyMax {
			ret[version] = VersionDataNtN7to10{
				CborNetworkMagic:               networkMagic,
				CborInitiatorOnlyDiffusionMode: DiffusionModeInitiatorOnly,
			}
		} else {
			ret[version] = VersionDataNtN11andUp{
				CborNetworkMagic:               networkMagic,
				CborInitiatorOnlyDiffusionMode: DiffusionModeInitiatorOnly,
				CborPeerSharing:                PeerSharingModeNoPeerSharing,
				CborQuery:                      QueryModeDisabled,
			}
		}
	}
	return ret
}

// GetProtocolVersions returns a sorted list of supported protocol versions for the mode
func GetProtocolVersions(protocolMode ProtocolMode) []uint16 {
	versions := []uint16{}
	for key := range protocolVersions {
		isNtC := key >= ProtocolVersionNtCOffset
		if isNtC == (protocolMode == ProtocolModeNodeToClient) {
			versions = append(versions, key)
		}
	}
	slices.Sort(versions)
	return versions
}

// GetProtocolVersion returns the protocol version config for the specified protocol version
func GetProtocolVersion(version uint16) (ProtocolVersion, bool) {
	v, ok := protocolVersions[version]
	return v, ok
}

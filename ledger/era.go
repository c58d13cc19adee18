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

// Package ledger provides the minimal structural metadata needed to move ledger payloads
// through the mini-protocols: eras, hashes, transaction ids and addresses
package ledger

import "fmt"

// Era IDs, as used in hard-fork combinator envelopes
const (
	EraIdByron   = 0
	EraIdShelley = 1
	EraIdAllegra = 2
	EraIdMary    = 3
	EraIdAlonzo  = 4
	EraIdBabbage = 5
	EraIdConway  = 6
)

// Block types, as used in node-to-client block envelopes
const (
	BlockTypeByronEbb  = 0
	BlockTypeByronMain = 1
	BlockTypeShelley   = 2
	BlockTypeAllegra   = 3
	BlockTypeMary      = 4
	BlockTypeAlonzo    = 5
	BlockTypeBabbage   = 6
	BlockTypeConway    = 7
)

// Era identifies the ledger era that a payload belongs to
type Era struct {
	Id   uint8
	Name string
}

var eras = map[uint8]Era{
	EraIdByron:   {Id: EraIdByron, Name: "Byron"},
	EraIdShelley: {Id: EraIdShelley, Name: "Shelley"},
	EraIdAllegra: {Id: EraIdAllegra, Name: "Allegra"},
	EraIdMary:    {Id: EraIdMary, Name: "Mary"},
	EraIdAlonzo:  {Id: EraIdAlonzo, Name: "Alonzo"},
	EraIdBabbage: {Id: EraIdBabbage, Name: "Babbage"},
	EraIdConway:  {Id: EraIdConway, Name: "Conway"},
}

func (e Era) String() string {
	return e.Name
}

// GetEraById returns the era for the provided ID, or nil if it is unknown
func GetEraById(eraId uint8) *Era {
	era, ok := eras[eraId]
	if !ok {
		return nil
	}
	return &era
}

// BlockTypeToEra maps a node-to-client block type to its era. Both Byron block types map to Byron
func BlockTypeToEra(blockType uint) (Era, error) {
	switch blockType {
	case BlockTypeByronEbb, BlockTypeByronMain:
		return eras[EraIdByron], nil
	case BlockTypeShelley, BlockTypeAllegra, BlockTypeMary, BlockTypeAlonzo,
		BlockTypeBabbage, BlockTypeConway:
		return eras[uint8(blockType-1)], nil
	default:
		return Era{}, fmt.Errorf("unknown block type: %d", blockType)
	}
}

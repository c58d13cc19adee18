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

package localstatequery

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/nodeclient/cbor"
)

// Query types
const (
	QueryTypeBlock        = 0
	QueryTypeSystemStart  = 1
	QueryTypeChainBlockNo = 2
	QueryTypeChainPoint   = 3

	// Block query sub-types
	QueryTypeShelley  = 0
	QueryTypeHardFork = 2

	// Hard fork query types
	QueryTypeHardForkEraHistory = 0
	QueryTypeHardForkCurrentEra = 1

	// Shelley query types
	QueryTypeShelleyLedgerTip     = 0
	QueryTypeShelleyEpochNo       = 1
	QueryTypeShelleyUtxoByAddress = 6
)

func buildQuery(queryType int, params ...any) []any {
	ret := []any{queryType}
	if len(params) > 0 {
		ret = append(ret, params...)
	}
	return ret
}

func buildHardForkQuery(queryType int, params ...any) []any {
	ret := buildQuery(
		QueryTypeBlock,
		buildQuery(
			QueryTypeHardFork,
			buildQuery(
				queryType,
				params...,
			),
		),
	)
	return ret
}

func buildShelleyQuery(era int, queryType int, params ...any) []any {
	ret := buildQuery(
		QueryTypeBlock,
		buildQuery(
			QueryTypeShelley,
			buildQuery(
				era,
				buildQuery(
					queryType,
					params...,
				),
			),
		),
	)
	return ret
}

// SystemStartResult is the chain start time
type SystemStartResult struct {
	cbor.StructAsArray
	Year        int
	Day         int
	Picoseconds uint64
}

// UtxoEntry is a single UTxO as raw CBOR
type UtxoEntry struct {
	// Transaction input (id and index)
	Input cbor.RawMessage
	// Transaction output
	Output cbor.RawMessage
}

// UtxoResult is the result of a UTxO query. Raw holds the map exactly as sent by the node
type UtxoResult struct {
	Raw     cbor.RawMessage
	Entries []UtxoEntry
}

// decodeEraResult unwraps the single-item array that era-specific query results are sent in
func decodeEraResult(data []byte) (cbor.RawMessage, error) {
	var tmp []cbor.RawMessage
	if _, err := cbor.Decode(data, &tmp); err != nil {
		return nil, err
	}
	if len(tmp) != 1 {
		return nil, fmt.Errorf("era query result has %d items, expected 1", len(tmp))
	}
	return tmp[0], nil
}

// decodeUtxoResult splits a UTxO map into raw input/output pairs without decoding either side
func decodeUtxoResult(data []byte) (*UtxoResult, error) {
	mapData, err := decodeEraResult(data)
	if err != nil {
		return nil, err
	}
	ret := &UtxoResult{
		Raw: mapData,
	}
	dec := cbor.NewStreamDecoder(mapData)
	// The map may carry a set tag in some node versions
	if _, _, err := dec.SkipTag(); err != nil {
		return nil, err
	}
	count, err := dec.DecodeMapHeader()
	if err != nil {
		return nil, err
	}
	for i := 0; count < 0 || i < count; i++ {
		if count < 0 && dec.AtBreak() {
			break
		}
		input, err := dec.DecodeRaw()
		if err != nil {
			return nil, fmt.Errorf("utxo input %d: %w", i, err)
		}
		output, err := dec.DecodeRaw()
		if err != nil {
			return nil, fmt.Errorf("utxo output %d: %w", i, err)
		}
		ret.Entries = append(
			ret.Entries,
			UtxoEntry{
				Input:  input,
				Output: output,
			},
		)
	}
	if !dec.EOF() {
		return nil, errors.New("trailing data after utxo map")
	}
	return ret, nil
}

// decodeChainBlockNo decodes a WithOrigin block number: [0] for origin, [1, n] otherwise
func decodeChainBlockNo(data []byte) (uint64, bool, error) {
	var tmp []uint64
	if _, err := cbor.Decode(data, &tmp); err != nil {
		return 0, false, err
	}
	switch len(tmp) {
	case 1:
		return 0, false, nil
	case 2:
		return tmp[1], true, nil
	default:
		return 0, false, fmt.Errorf("unexpected chain block number length %d", len(tmp))
	}
}

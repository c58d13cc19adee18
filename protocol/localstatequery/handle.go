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
	"context"
	"fmt"

	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

// QueryHandle refers to an acquired ledger state. It stays valid until the client reacquires,
// releases or shuts down. Queries on a handle are not pipelined
type QueryHandle struct {
	client     *Client
	generation uint64
	point      *common.Point
	era        *uint
}

// Point returns the point the handle was acquired against, or nil for the volatile tip
func (h *QueryHandle) Point() *common.Point {
	if h.point == nil {
		return nil
	}
	tmp := *h.point
	return &tmp
}

// Valid returns whether the handle still refers to the client's acquired state
func (h *QueryHandle) Valid() bool {
	h.client.busyMutex.Lock()
	defer h.client.busyMutex.Unlock()
	return !h.client.IsDone() &&
		h.client.CurrentState() == stateAcquired &&
		h.generation == h.client.generation
}

// Query runs a raw query against the handle's acquired state
func (h *QueryHandle) Query(ctx context.Context, query any) (cbor.RawMessage, error) {
	h.client.busyMutex.Lock()
	defer h.client.busyMutex.Unlock()
	if h.generation != h.client.generation && !h.client.IsDone() {
		return nil, ErrHandleReleased
	}
	return h.client.runQuery(ctx, h.generation, query)
}

// CurrentEra returns the index of the ledger era at the acquired point. Era-specific queries
// need it to build their envelope
func (h *QueryHandle) CurrentEra(ctx context.Context) (uint, error) {
	result, err := h.Query(ctx, buildHardForkQuery(QueryTypeHardForkCurrentEra))
	if err != nil {
		return 0, err
	}
	var era uint
	if _, err := cbor.Decode(result, &era); err != nil {
		return 0, fmt.Errorf("%s: decode current era: %w", ProtocolName, err)
	}
	h.era = &era
	return era, nil
}

// GetUtxoByAddress returns the UTxOs held by any of the given addresses. Inputs and outputs are
// left as raw CBOR
func (h *QueryHandle) GetUtxoByAddress(
	ctx context.Context,
	addrs []ledger.Address,
) (*UtxoResult, error) {
	era, err := h.knownEra(ctx)
	if err != nil {
		return nil, err
	}
	addrList := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		addrList = append(addrList, addr.Bytes())
	}
	query := buildShelleyQuery(
		int(era), // #nosec G115
		QueryTypeShelleyUtxoByAddress,
		addrList,
	)
	result, err := h.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	utxos, err := decodeUtxoResult(result)
	if err != nil {
		return nil, fmt.Errorf("%s: decode utxo result: %w", ProtocolName, err)
	}
	return utxos, nil
}

// EpochNo returns the epoch of the acquired point
func (h *QueryHandle) EpochNo(ctx context.Context) (uint64, error) {
	era, err := h.knownEra(ctx)
	if err != nil {
		return 0, err
	}
	result, err := h.Query(
		ctx,
		buildShelleyQuery(int(era), QueryTypeShelleyEpochNo), // #nosec G115
	)
	if err != nil {
		return 0, err
	}
	eraResult, err := decodeEraResult(result)
	if err != nil {
		return 0, fmt.Errorf("%s: decode epoch: %w", ProtocolName, err)
	}
	var epoch uint64
	if _, err := cbor.Decode(eraResult, &epoch); err != nil {
		return 0, fmt.Errorf("%s: decode epoch: %w", ProtocolName, err)
	}
	return epoch, nil
}

// ChainPoint returns the point of the acquired state. For a handle acquired at the volatile tip
// the node is asked, which requires protocol version 10 or later
func (h *QueryHandle) ChainPoint(ctx context.Context) (common.Point, error) {
	if h.point != nil {
		return *h.point, nil
	}
	if !h.client.enableChainPointQuery {
		return common.Point{}, ErrQueryNotSupported
	}
	result, err := h.Query(ctx, buildQuery(QueryTypeChainPoint))
	if err != nil {
		return common.Point{}, err
	}
	var point common.Point
	if _, err := cbor.Decode(result, &point); err != nil {
		return common.Point{}, fmt.Errorf("%s: decode chain point: %w", ProtocolName, err)
	}
	return point, nil
}

// ChainBlockNo returns the block number of the acquired state, 0 at origin
func (h *QueryHandle) ChainBlockNo(ctx context.Context) (uint64, error) {
	if !h.client.enableChainPointQuery {
		return 0, ErrQueryNotSupported
	}
	result, err := h.Query(ctx, buildQuery(QueryTypeChainBlockNo))
	if err != nil {
		return 0, err
	}
	blockNo, _, err := decodeChainBlockNo(result)
	if err != nil {
		return 0, fmt.Errorf("%s: decode chain block number: %w", ProtocolName, err)
	}
	return blockNo, nil
}

// SystemStart returns the start time of the chain
func (h *QueryHandle) SystemStart(ctx context.Context) (*SystemStartResult, error) {
	result, err := h.Query(ctx, buildQuery(QueryTypeSystemStart))
	if err != nil {
		return nil, err
	}
	var systemStart SystemStartResult
	if _, err := cbor.Decode(result, &systemStart); err != nil {
		return nil, fmt.Errorf("%s: decode system start: %w", ProtocolName, err)
	}
	return &systemStart, nil
}

func (h *QueryHandle) knownEra(ctx context.Context) (uint, error) {
	if h.era != nil {
		return *h.era, nil
	}
	return h.CurrentEra(ctx)
}

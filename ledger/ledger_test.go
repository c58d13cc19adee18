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

package ledger_test

import (
	"testing"

	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/internal/test"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTypeToEra(t *testing.T) {
	testDefs := []struct {
		blockType uint
		eraName   string
	}{
		{ledger.BlockTypeByronEbb, "Byron"},
		{ledger.BlockTypeByronMain, "Byron"},
		{ledger.BlockTypeShelley, "Shelley"},
		{ledger.BlockTypeBabbage, "Babbage"},
		{ledger.BlockTypeConway, "Conway"},
	}
	for _, testDef := range testDefs {
		era, err := ledger.BlockTypeToEra(testDef.blockType)
		require.NoError(t, err)
		assert.Equal(t, testDef.eraName, era.Name)
	}
	_, err := ledger.BlockTypeToEra(99)
	assert.Error(t, err)
	assert.Nil(t, ledger.GetEraById(42))
}

func TestBlake2b256Hash(t *testing.T) {
	// Known vector for the empty input
	assert.Equal(
		t,
		"0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		ledger.Blake2b256Hash(nil).String(),
	)
}

func TestNewMempoolEntry(t *testing.T) {
	// [{0: []}, {}, true, null]
	body := test.DecodeHexString("a10080")
	txCbor := test.DecodeHexString("84" + "a10080" + "a0" + "f5" + "f6")
	entry, err := ledger.NewMempoolEntry(ledger.EraIdConway, txCbor)
	require.NoError(t, err)
	assert.Equal(t, ledger.Blake2b256Hash(body), entry.Id)
	assert.Equal(t, uint32(len(txCbor)), entry.Size())
	assert.Equal(t, uint16(ledger.EraIdConway), entry.Era)
	_, err = ledger.NewMempoolEntry(ledger.EraIdConway, []byte{0x80})
	assert.Error(t, err)
}

func TestHeaderPoint(t *testing.T) {
	// [[block number 10, slot 500, ...], signature]
	headerBody := []any{uint64(10), uint64(500), []byte{0x01}}
	headerCbor, err := cbor.Encode([]any{headerBody, []byte{0x02}})
	require.NoError(t, err)
	point, blockNumber, err := ledger.HeaderPoint(ledger.EraIdBabbage, headerCbor)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), point.Slot)
	assert.Equal(t, uint64(10), blockNumber)
	assert.Equal(t, ledger.Blake2b256Hash(headerCbor).Bytes(), point.Hash)
	_, _, err = ledger.HeaderPoint(ledger.EraIdByron, headerCbor)
	assert.ErrorIs(t, err, ledger.ErrByronHeader)
	// A block is [header, ...]
	blockCbor, err := cbor.Encode([]any{cbor.RawMessage(headerCbor), []any{}})
	require.NoError(t, err)
	blockPoint, _, err := ledger.BlockPoint(ledger.BlockTypeBabbage, blockCbor)
	require.NoError(t, err)
	assert.True(t, blockPoint.Equal(point))
}

func TestAddressRoundTrip(t *testing.T) {
	testDefs := []string{
		// Shelley mainnet base address
		"addr1qx2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzer3n0d3vllmyqwsx5wktcd8cc3sq835lu7drv2xwl2wywfgse35a3x",
		// Shelley testnet enterprise address
		"addr_test1vz2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzerspjrlsz",
		// Byron mainnet address
		"Ae2tdPwUPEZFRbyhz3cpfC2CumGzNkFBN2L42rcUc2yjQpEkxDbkPodpMAi",
	}
	for _, testDef := range testDefs {
		addr, err := ledger.NewAddress(testDef)
		require.NoError(t, err, "address %s", testDef)
		assert.Equal(t, testDef, addr.String())
	}
}

func TestAddressType(t *testing.T) {
	addr, err := ledger.NewAddress("addr_test1vz2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzerspjrlsz")
	require.NoError(t, err)
	assert.Equal(t, uint8(ledger.AddressTypeKeyNone), addr.Type())
	assert.Equal(t, uint8(ledger.AddressNetworkTestnet), addr.NetworkId())
	_, err = ledger.NewAddress("")
	assert.Error(t, err)
}

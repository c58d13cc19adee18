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

	"github.com/blinklabs-io/nodeclient/cbor"
)

// TxId is the Blake2b-256 hash of a transaction body
type TxId = Blake2b256

// MempoolEntry is a transaction held by a caller for relay. The body is the full signed
// transaction CBOR and is never modified after construction
type MempoolEntry struct {
	Id   TxId
	Era  uint16
	Body []byte
}

// Size returns the size of the transaction body in bytes, as announced to peers
func (e MempoolEntry) Size() uint32 {
	return uint32(len(e.Body))
}

// NewMempoolEntry builds a mempool entry from a signed transaction. The ID is computed from the
// transaction body, which is the first item of the transaction
func NewMempoolEntry(era uint16, txCbor []byte) (MempoolEntry, error) {
	txId, err := TransactionId(txCbor)
	if err != nil {
		return MempoolEntry{}, err
	}
	body := make([]byte, len(txCbor))
	copy(body, txCbor)
	return MempoolEntry{
		Id:   txId,
		Era:  era,
		Body: body,
	}, nil
}

// TransactionId returns the ID of a signed transaction
func TransactionId(txCbor []byte) (TxId, error) {
	var txArray []cbor.RawMessage
	if _, err := cbor.Decode(txCbor, &txArray); err != nil {
		return TxId{}, fmt.Errorf("decode transaction: %w", err)
	}
	if len(txArray) == 0 {
		return TxId{}, errors.New("decode transaction: empty transaction")
	}
	return Blake2b256Hash(txArray[0]), nil
}

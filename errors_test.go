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

package nodeclient_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	"github.com/blinklabs-io/nodeclient/protocol/handshake"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
)

func TestErrorClassification(t *testing.T) {
	testDefs := []struct {
		name      string
		err       error
		fatal     bool
		retryable bool
		notFound  bool
	}{
		{
			name: "Nil",
		},
		{
			name:      "Transport",
			err:       &nodeclient.ConnectionError{Op: "transport", Err: io.EOF},
			fatal:     true,
			retryable: true,
		},
		{
			name: "Violation",
			err: &nodeclient.ConnectionError{
				Op: "protocol",
				Err: fmt.Errorf(
					"chain-sync: %w",
					protocol.ErrProtocolViolationUnexpectedMessage,
				),
			},
			fatal: true,
		},
		{
			name: "Refused",
			err: &nodeclient.ConnectionError{
				Op:  "handshake",
				Err: &handshake.RefusedError{Reason: 1, Message: "no"},
			},
			fatal: true,
		},
		{
			name:      "Timeout",
			err:       &protocol.TimeoutError{Protocol: "block-fetch"},
			fatal:     true,
			retryable: true,
		},
		{
			name:      "Decode",
			err:       &protocol.DecodeError{Protocol: "chain-sync", Err: io.ErrUnexpectedEOF},
			fatal:     true,
			retryable: true,
		},
		{
			name:  "Canceled",
			err:   fmt.Errorf("%w: %w", protocol.ErrClientFailed, context.Canceled),
			fatal: true,
		},
		{
			name:      "DeadlineExceeded",
			err:       fmt.Errorf("%w: %w", protocol.ErrClientFailed, context.DeadlineExceeded),
			fatal:     true,
			retryable: true,
		},
		{
			name:  "ClosedHandle",
			err:   nodeclient.ErrClosedHandle,
			fatal: true,
		},
		{
			name:     "BlockNotFound",
			err:      blockfetch.ErrBlockNotFound,
			notFound: true,
		},
		{
			name: "AcquireFailed",
			err: &localstatequery.AcquireFailedError{
				Reason: localstatequery.AcquireFailurePointNotOnChain,
			},
			notFound: true,
		},
		{
			name: "NotAcquired",
			err:  localstatequery.ErrNotAcquired,
		},
		{
			name: "NotAvailable",
			err:  nodeclient.ErrProtocolNotAvailable,
		},
	}
	for _, test := range testDefs {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.fatal, nodeclient.IsFatal(test.err), "IsFatal")
			assert.Equal(t, test.retryable, nodeclient.IsRetryable(test.err), "IsRetryable")
			assert.Equal(t, test.notFound, nodeclient.IsNotFound(test.err), "IsNotFound")
		})
	}
}

func TestConnectionErrorUnwrap(t *testing.T) {
	err := &nodeclient.ConnectionError{Op: "dial", Err: io.EOF}
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "connection error: dial: EOF", err.Error())
	var connErr *nodeclient.ConnectionError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &connErr))
	assert.Equal(t, "dial", connErr.Op)
}

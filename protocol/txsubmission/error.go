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

package txsubmission

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/nodeclient/protocol"
)

// ErrSubmissionStarted is returned when Submit is called more than once on a client
var ErrSubmissionStarted = errors.New("submission already started on this client")

// Causes of relay violations by the peer. Each is wrapped with protocol.ErrProtocolViolation
var (
	ErrAckTooLarge          = errors.New("acknowledged more ids than are outstanding")
	ErrBlockingWithUnacked  = errors.New("blocking id request with unacknowledged ids outstanding")
	ErrNonBlockingAllAcked  = errors.New("non-blocking id request with no unacknowledged ids")
	ErrNonBlockingZeroCount = errors.New("non-blocking id request for zero ids")
	ErrUnknownTxRequested   = errors.New("requested a transaction that is not outstanding")
)

func relayViolation(cause error) error {
	return fmt.Errorf(
		"%s: %w: %w",
		ProtocolName,
		protocol.ErrProtocolViolation,
		cause,
	)
}

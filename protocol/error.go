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
	"errors"
	"fmt"
)

// ErrProtocolShuttingDown is returned by operations on a protocol that has been stopped
var ErrProtocolShuttingDown = errors.New("protocol is shutting down")

// ErrClientFailed is returned when a blocking client call was abandoned before the peer answered.
// The client cannot continue since a late reply would leave it out of step with the peer
var ErrClientFailed = errors.New("client failed")

// ErrProtocolViolation is the parent of every protocol violation. A violation is fatal to
// the mini-protocol instance that observed it
var ErrProtocolViolation = errors.New("protocol violation")

var (
	ErrProtocolViolationAgency = fmt.Errorf(
		"%w: message sent without agency",
		ErrProtocolViolation,
	)
	ErrProtocolViolationInvalidMessage = fmt.Errorf(
		"%w: invalid message for current state",
		ErrProtocolViolation,
	)
	ErrProtocolViolationUnexpectedMessage = fmt.Errorf(
		"%w: message received while holding agency",
		ErrProtocolViolation,
	)
)

// DecodeError is returned when a peer sends data that cannot be framed into a message
type DecodeError struct {
	Protocol string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode error: %s", e.Protocol, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when the peer does not respond within a configured state timeout
type TimeoutError struct {
	Protocol string
	State    State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"%s: timeout waiting on transition from protocol state %s",
		e.Protocol,
		e.State,
	)
}

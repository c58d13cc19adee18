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

package nodeclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/blinklabs-io/nodeclient/muxer"
	"github.com/blinklabs-io/nodeclient/protocol"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	"github.com/blinklabs-io/nodeclient/protocol/handshake"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
)

var (
	// ErrClosedHandle is returned by every Session operation after Close
	ErrClosedHandle = errors.New("session is closed")
	// ErrProtocolNotAvailable is returned when a mini-protocol is not part of the negotiated mode
	ErrProtocolNotAvailable = errors.New("protocol not available for this connection")
	// ErrConnectionClosed is the cause recorded when a connection is closed by its owner
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNoConnection is returned when an operation needs a transport that was never established
	ErrNoConnection = errors.New("no connection established")
)

// ConnectionError describes a transport or setup failure. It is always fatal to the connection
type ConnectionError struct {
	// Op is the stage that failed, such as "dial", "handshake", "read" or "protocol"
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %s", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err leaves the connection (or the client that returned it) unusable.
// The caller must reconnect before trying again
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	var decodeErr *protocol.DecodeError
	var timeoutErr *protocol.TimeoutError
	switch {
	case errors.As(err, &connErr),
		errors.As(err, &decodeErr),
		errors.As(err, &timeoutErr),
		errors.Is(err, protocol.ErrProtocolViolation),
		errors.Is(err, protocol.ErrClientFailed),
		errors.Is(err, protocol.ErrProtocolShuttingDown),
		errors.Is(err, muxer.ErrMuxerShutdown),
		errors.Is(err, ErrClosedHandle):
		return true
	}
	return false
}

// IsRetryable reports whether reconnecting and repeating the whole operation may succeed. Negative
// outcomes such as a missing block are not retryable since the same request gives the same answer,
// and neither are peer misbehavior or a refused handshake
func IsRetryable(err error) bool {
	if !IsFatal(err) {
		return false
	}
	switch {
	case errors.Is(err, protocol.ErrProtocolViolation),
		errors.Is(err, handshake.ErrRefused),
		errors.Is(err, ErrClosedHandle):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// IsNotFound reports whether err is an expected negative outcome that leaves the client usable
func IsNotFound(err error) bool {
	var acquireErr *localstatequery.AcquireFailedError
	return errors.Is(err, blockfetch.ErrBlockNotFound) ||
		errors.As(err, &acquireErr)
}

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
)

// ErrAcquireFailurePointTooOld indicates a failure to acquire a point due to it being too old
var ErrAcquireFailurePointTooOld = errors.New("acquire failure: point too old")

// ErrAcquireFailurePointNotOnChain indicates a failure to acquire a point due to it not being present on the chain
var ErrAcquireFailurePointNotOnChain = errors.New(
	"acquire failure: point not on chain",
)

// ErrNotAcquired is returned when a query is issued without an acquired point
var ErrNotAcquired = errors.New("no point acquired")

// ErrHandleReleased is returned when a query handle is used after the point it refers to was
// released or replaced
var ErrHandleReleased = errors.New("query handle has been released")

// ErrQueryNotSupported is returned when the negotiated protocol version lacks a query
var ErrQueryNotSupported = errors.New("query not supported by negotiated protocol version")

// AcquireFailedError is returned when the node declines to acquire a point. The client remains
// usable afterward
type AcquireFailedError struct {
	Reason uint8
}

func (e *AcquireFailedError) Error() string {
	return fmt.Sprintf("%s: %s", ProtocolName, e.Unwrap())
}

func (e *AcquireFailedError) Unwrap() error {
	switch e.Reason {
	case AcquireFailurePointTooOld:
		return ErrAcquireFailurePointTooOld
	case AcquireFailurePointNotOnChain:
		return ErrAcquireFailurePointNotOnChain
	default:
		return fmt.Errorf("acquire failure: unknown reason %d", e.Reason)
	}
}

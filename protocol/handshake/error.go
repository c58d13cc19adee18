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

package handshake

import (
	"errors"
	"fmt"
)

// ErrRefused is the parent of all errors caused by the peer refusing our proposal
var ErrRefused = errors.New("handshake refused")

// RefusedError describes a Refuse message received from the peer
type RefusedError struct {
	Reason  uint64
	Message string
	// Versions supported by the peer, for a version mismatch
	Versions []uint16
}

func (e *RefusedError) Error() string {
	switch e.Reason {
	case RefuseReasonVersionMismatch:
		return fmt.Sprintf(
			"%s: version mismatch (peer supports %v)",
			ErrRefused,
			e.Versions,
		)
	case RefuseReasonDecodeError:
		return fmt.Sprintf("%s: decode error: %s", ErrRefused, e.Message)
	default:
		return fmt.Sprintf("%s: %s", ErrRefused, e.Message)
	}
}

func (e *RefusedError) Unwrap() error {
	return ErrRefused
}

// refusedErrorFromReason builds a RefusedError from the reason list of a Refuse message
func refusedErrorFromReason(reason []any) (*RefusedError, error) {
	if len(reason) == 0 {
		return nil, errors.New("empty refuse reason")
	}
	code, ok := reason[0].(uint64)
	if !ok {
		return nil, fmt.Errorf("unexpected refuse reason type %T", reason[0])
	}
	ret := &RefusedError{Reason: code}
	switch code {
	case RefuseReasonVersionMismatch:
		if len(reason) > 1 {
			if versions, ok := reason[1].([]any); ok {
				for _, version := range versions {
					if v, ok := version.(uint64); ok {
						ret.Versions = append(ret.Versions, uint16(v)) // #nosec G115
					}
				}
			}
		}
	case RefuseReasonDecodeError, RefuseReasonRefused:
		if len(reason) > 2 {
			ret.Message, _ = reason[2].(string)
		}
	default:
		return nil, fmt.Errorf("unknown refuse reason %d", code)
	}
	return ret, nil
}

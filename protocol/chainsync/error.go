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

package chainsync

import "errors"

// ErrIntersectNotFound is returned by helpers that require the peer to find one of the provided points
var ErrIntersectNotFound = errors.New("chain intersection not found")

// ErrNotAwaiting is the cause of the failure when a caller waits for a pushed reply while no
// AwaitReply is outstanding
var ErrNotAwaiting = errors.New("no AwaitReply outstanding")

// ErrAwaiting is the cause of the failure when a caller sends a request while an AwaitReply is
// outstanding
var ErrAwaiting = errors.New("AwaitReply outstanding")

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

// Package checkpoint persists the chain point a follower has reached so that it can resume
// after a restart
package checkpoint

import (
	"errors"
	"sync"

	"github.com/blinklabs-io/nodeclient/protocol/common"
)

// ErrStoreClosed is returned by operations on a closed store
var ErrStoreClosed = errors.New("checkpoint store is closed")

// Store saves and loads a single cursor point
type Store interface {
	// Load returns the saved point, or nil if nothing has been saved
	Load() (*common.Point, error)
	Save(point common.Point) error
	Close() error
}

// MemoryStore keeps the cursor in memory
type MemoryStore struct {
	mutex  sync.Mutex
	point  *common.Point
	closed bool
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*common.Point, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.point == nil {
		return nil, nil
	}
	tmp := *s.point
	return &tmp, nil
}

func (s *MemoryStore) Save(point common.Point) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.point = &point
	return nil
}

func (s *MemoryStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

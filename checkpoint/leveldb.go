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

package checkpoint

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/blinklabs-io/nodeclient/cbor"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

var cursorKey = []byte("cursor")

// LevelDBStore keeps the cursor in a LevelDB database, encoded the same way points are on the wire
type LevelDBStore struct {
	conn *leveldb.DB
}

// NewLevelDBStore opens (or creates) a LevelDB database at the given path
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	return &LevelDBStore{conn: db}, nil
}

// NewLevelDBMemoryStore returns a LevelDBStore backed by memory, for tests and ephemeral use
func NewLevelDBMemoryStore() (*LevelDBStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	return &LevelDBStore{conn: db}, nil
}

func (s *LevelDBStore) Load() (*common.Point, error) {
	data, err := s.conn.Get(cursorKey, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, leveldb.ErrClosed) {
			return nil, ErrStoreClosed
		}
		return nil, err
	}
	var point common.Point
	if _, err := cbor.Decode(data, &point); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &point, nil
}

func (s *LevelDBStore) Save(point common.Point) error {
	data, err := cbor.Encode(point)
	if err != nil {
		return err
	}
	if err := s.conn.Put(cursorKey, data, &opt.WriteOptions{Sync: true}); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return ErrStoreClosed
		}
		return err
	}
	return nil
}

// Close safely closes the LevelDB connection
func (s *LevelDBStore) Close() error {
	return s.conn.Close()
}

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

package checkpoint_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/nodeclient/checkpoint"
	"github.com/blinklabs-io/nodeclient/protocol/common"
)

var testPoint = common.NewPoint(
	1234,
	[]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
	},
)

func testStore(t *testing.T, store checkpoint.Store) {
	t.Helper()
	point, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, point, "empty store should have no point")
	require.NoError(t, store.Save(common.NewPointOrigin()))
	point, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.True(t, point.IsOrigin())
	require.NoError(t, store.Save(testPoint))
	point, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.True(t, point.Equal(testPoint), "got %s, expected %s", point, testPoint)
	require.NoError(t, store.Close())
	_, err = store.Load()
	assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
	assert.ErrorIs(t, store.Save(testPoint), checkpoint.ErrStoreClosed)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, checkpoint.NewMemoryStore())
}

func TestLevelDBMemoryStore(t *testing.T) {
	store, err := checkpoint.NewLevelDBMemoryStore()
	require.NoError(t, err)
	testStore(t, store)
}

func TestLevelDBStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint")
	store, err := checkpoint.NewLevelDBStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(testPoint))
	require.NoError(t, store.Close())
	store, err = checkpoint.NewLevelDBStore(path)
	require.NoError(t, err)
	defer store.Close()
	point, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.True(t, point.Equal(testPoint))
}

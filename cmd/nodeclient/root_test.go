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

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const testTopology = `{
  "localRoots": [
    {"accessPoints": [{"address": "10.0.0.5", "port": 6000}], "advertise": false, "valency": 1}
  ],
  "publicRoots": []
}`

func newTestApp(settings map[string]any) *app {
	a := &app{v: viper.New()}
	for key, value := range settings {
		a.v.Set(key, value)
	}
	return a
}

func TestNetworkMagic(t *testing.T) {
	testDefs := []struct {
		name     string
		settings map[string]any
		expected uint32
		wantErr  bool
	}{
		{
			name:     "Named",
			settings: map[string]any{keyNetwork: "mainnet"},
			expected: 764824073,
		},
		{
			name:     "MagicOverridesName",
			settings: map[string]any{keyNetwork: "mainnet", keyNetworkMagic: 42},
			expected: 42,
		},
		{
			name:     "Unknown",
			settings: map[string]any{keyNetwork: "bogus"},
			wantErr:  true,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			magic, err := newTestApp(testDef.settings).networkMagic()
			if testDef.wantErr {
				assert.ErrorContains(t, err, "unknown network")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testDef.expected, magic)
		})
	}
}

func TestPeerAddress(t *testing.T) {
	topologyFile := filepath.Join(t.TempDir(), "topology.json")
	require.NoError(t, os.WriteFile(topologyFile, []byte(testTopology), 0o600))
	testDefs := []struct {
		name     string
		settings map[string]any
		expected string
	}{
		{
			name: "AddressFlag",
			settings: map[string]any{
				keyAddress:  "127.0.0.1:3001",
				keyTopology: topologyFile,
			},
			expected: "127.0.0.1:3001",
		},
		{
			name:     "Topology",
			settings: map[string]any{keyTopology: topologyFile, keyNetwork: "preview"},
			expected: "10.0.0.5:6000",
		},
		{
			name:     "PublicRoot",
			settings: map[string]any{keyNetwork: "preview"},
			expected: "preview-node.play.dev.cardano.org:3001",
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			address, err := newTestApp(testDef.settings).peerAddress()
			require.NoError(t, err)
			assert.Equal(t, testDef.expected, address)
		})
	}
	_, err := newTestApp(map[string]any{keyNetworkMagic: 42}).peerAddress()
	assert.ErrorContains(t, err, "no peer address")
}

func TestLoadTx(t *testing.T) {
	dir := t.TempDir()
	txFile := filepath.Join(dir, "tx.signed")
	require.NoError(
		t,
		os.WriteFile(
			txFile,
			[]byte(`{"type": "Tx ConwayEra", "description": "", "cborHex": "84a0a0f5f6"}`),
			0o600,
		),
	)
	rawTxFile := filepath.Join(dir, "tx.raw")
	require.NoError(t, os.WriteFile(rawTxFile, []byte{0x84, 0xa0, 0xa0, 0xf5, 0xf6}, 0o600))
	expected := []byte{0x84, 0xa0, 0xa0, 0xf5, 0xf6}
	txBytes, err := loadTx(txFile, "")
	require.NoError(t, err)
	assert.Equal(t, expected, txBytes)
	txBytes, err = loadTx("", rawTxFile)
	require.NoError(t, err)
	assert.Equal(t, expected, txBytes)
	_, err = loadTx("", "")
	assert.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, slogLevel(zapcore.DebugLevel))
	assert.Equal(t, slog.LevelInfo, slogLevel(zapcore.InfoLevel))
	assert.Equal(t, slog.LevelWarn, slogLevel(zapcore.WarnLevel))
	assert.Equal(t, slog.LevelError, slogLevel(zapcore.ErrorLevel))
}

func TestRootCommandRejectsUnknownNetwork(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--network", "bogus", "--log-level", "error", "tip"})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "unknown network")
}

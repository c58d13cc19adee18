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

package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/nodeclient/metrics"
)

func TestCollectorCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector, err := metrics.New("nodeclient", registry)
	require.NoError(t, err)
	collector.MessageSent("chain-sync", 0)
	collector.MessageSent("chain-sync", 0)
	collector.MessageReceived("chain-sync", 2)
	collector.ProtocolFailed("block-fetch", errors.New("boom"))
	count, err := testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	families, err := registry.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			values[family.GetName()] += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, values["nodeclient_messages_sent_total"])
	assert.Equal(t, 1.0, values["nodeclient_messages_received_total"])
	assert.Equal(t, 1.0, values["nodeclient_protocol_failures_total"])
}

func TestCollectorReusesRegistered(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := metrics.New("nodeclient", registry)
	require.NoError(t, err)
	second, err := metrics.New("nodeclient", registry)
	require.NoError(t, err)
	first.MessageSent("keep-alive", 0)
	second.MessageSent("keep-alive", 0)
	families, err := registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != "nodeclient_messages_sent_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, total)
}

// Copyright 2023 Blink Labs Software
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
	"encoding/json"
	"io"
	"net"
	"os"
	"strconv"
)

// TopologyConfig is a node topology file. Peer sessions use it to find a relay when no address
// is given
type TopologyConfig struct {
	Producers   []TopologyConfigLegacyProducer `json:"Producers"`
	LocalRoots  []TopologyConfigP2PRoot        `json:"localRoots"`
	PublicRoots []TopologyConfigP2PRoot        `json:"publicRoots"`
}

type TopologyConfigLegacyProducer struct {
	Address string `json:"addr"`
	Port    uint   `json:"port"`
	Valency uint   `json:"valency"`
}

type TopologyConfigP2PAccessPoint struct {
	Address string `json:"address"`
	Port    uint   `json:"port"`
}

// TopologyConfigP2PRoot is a group of local or public roots
type TopologyConfigP2PRoot struct {
	AccessPoints []TopologyConfigP2PAccessPoint `json:"accessPoints"`
	Advertise    bool                           `json:"advertise"`
	Valency      uint                           `json:"valency"`
}

func NewTopologyConfigFromFile(path string) (*TopologyConfig, error) {
	dataFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer dataFile.Close()
	return NewTopologyConfigFromReader(dataFile)
}

func NewTopologyConfigFromReader(r io.Reader) (*TopologyConfig, error) {
	t := &TopologyConfig{}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

// PeerAddresses returns the host:port of every peer in the topology. Local roots come first,
// then public roots, then legacy producers. Duplicates are removed
func (t *TopologyConfig) PeerAddresses() []string {
	ret := []string{}
	seen := map[string]bool{}
	add := func(host string, port uint) {
		if host == "" {
			return
		}
		addr := net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
		if seen[addr] {
			return
		}
		seen[addr] = true
		ret = append(ret, addr)
	}
	for _, roots := range [][]TopologyConfigP2PRoot{t.LocalRoots, t.PublicRoots} {
		for _, root := range roots {
			for _, ap := range root.AccessPoints {
				add(ap.Address, ap.Port)
			}
		}
	}
	for _, producer := range t.Producers {
		add(producer.Address, producer.Port)
	}
	return ret
}

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

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDone(t *testing.T) {
	stateIdle := NewState(1, "Idle")
	p := New(ProtocolConfig{
		InitialState: stateIdle,
		StateMap: StateMap{
			stateIdle: StateMapEntry{Agency: AgencyClient},
		},
	})
	assert.False(t, p.IsDone())
	p.shutdown()
	assert.True(t, p.IsDone())
	// Repeated shutdown is safe
	p.shutdown()
	assert.True(t, p.IsDone())
	assert.ErrorIs(t, p.ShutdownErr(), ErrProtocolShuttingDown)
}

func TestFailIsSticky(t *testing.T) {
	stateIdle := NewState(1, "Idle")
	errorChan := make(chan error, 1)
	p := New(ProtocolConfig{
		Name:         "test",
		ErrorChan:    errorChan,
		InitialState: stateIdle,
		StateMap: StateMap{
			stateIdle: StateMapEntry{Agency: AgencyClient},
		},
	})
	p.Fail(ErrProtocolViolationAgency)
	p.Fail(ErrProtocolShuttingDown)
	assert.ErrorIs(t, p.Err(), ErrProtocolViolationAgency)
	assert.ErrorIs(t, p.ShutdownErr(), ErrProtocolViolation)
	assert.ErrorIs(t, <-errorChan, ErrProtocolViolationAgency)
	assert.True(t, p.IsDone())
}

func TestHasAgency(t *testing.T) {
	stateIdle := NewState(1, "Idle")
	stateBusy := NewState(2, "Busy")
	stateMap := StateMap{
		stateIdle: StateMapEntry{Agency: AgencyClient},
		stateBusy: StateMapEntry{Agency: AgencyServer},
	}
	client := New(ProtocolConfig{
		Role:         ProtocolRoleClient,
		InitialState: stateIdle,
		StateMap:     stateMap,
	})
	assert.True(t, client.HasAgency())
	server := New(ProtocolConfig{
		Role:         ProtocolRoleServer,
		InitialState: stateIdle,
		StateMap:     stateMap,
	})
	assert.False(t, server.HasAgency())
}

func TestNextState(t *testing.T) {
	stateIdle := NewState(1, "Idle")
	stateBusy := NewState(2, "Busy")
	stateDone := NewState(3, "Done")
	p := New(ProtocolConfig{
		Name:         "test",
		InitialState: stateIdle,
		StateContext: true,
		StateMap: StateMap{
			stateIdle: StateMapEntry{
				Agency: AgencyClient,
				Transitions: []StateTransition{
					{
						MsgType:  0,
						NewState: stateBusy,
						MatchFunc: func(ctx any, _ Message) bool {
							return ctx.(bool)
						},
					},
					{MsgType: 1, NewState: stateDone},
				},
			},
		},
	})
	newState, err := p.nextState(&MessageBase{MessageType: 0})
	assert.NoError(t, err)
	assert.Equal(t, stateBusy, newState)
	newState, err = p.nextState(&MessageBase{MessageType: 1})
	assert.NoError(t, err)
	assert.Equal(t, stateDone, newState)
	_, err = p.nextState(&MessageBase{MessageType: 2})
	assert.ErrorIs(t, err, ErrProtocolViolationInvalidMessage)
}

func TestProtocolVersionMap(t *testing.T) {
	ntc := GetProtocolVersionMap(ProtocolModeNodeToClient, 2)
	for version, data := range ntc {
		assert.GreaterOrEqual(t, version, uint16(ProtocolVersionNtCOffset+9))
		assert.Equal(t, uint32(2), data.NetworkMagic())
	}
	assert.IsType(t, VersionDataNtC9to14(0), ntc[ProtocolVersionNtCOffset+9])
	assert.IsType(t, VersionDataNtC15andUp{}, ntc[ProtocolVersionNtCOffset+16])
	ntn := GetProtocolVersionMap(ProtocolModeNodeToNode, 764824073)
	assert.IsType(t, VersionDataNtN7to10{}, ntn[7])
	assert.IsType(t, VersionDataNtN11andUp{}, ntn[13])
	assert.True(t, ntn[13].DiffusionMode())
	versions := GetProtocolVersions(ProtocolModeNodeToNode)
	assert.Equal(t, uint16(7), versions[0])
	assert.Equal(t, uint16(14), versions[len(versions)-1])
}

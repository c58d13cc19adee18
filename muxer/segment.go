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

package muxer

import (
	"encoding/binary"
	"time"
)

const (
	SegmentHeaderLength            = 8
	SegmentProtocolIdResponseFlag  = 0x8000
	SegmentMaxPayloadLength        = 65535
	segmentTimestampMicrosecondMod = 1 << 32
)

// SegmentHeader is the fixed 8-byte header preceding every muxer segment
type SegmentHeader struct {
	Timestamp     uint32
	ProtocolId    uint16
	PayloadLength uint16
}

// Segment is a chunk of mini-protocol data with its header
type Segment struct {
	SegmentHeader
	Payload []byte
}

// NewSegment returns a segment for the specified protocol. The payload must not exceed
// SegmentMaxPayloadLength, and nil is returned if it does
func NewSegment(protocolId uint16, payload []byte, isResponse bool) *Segment {
	if len(payload) > SegmentMaxPayloadLength {
		return nil
	}
	header := SegmentHeader{
		// The timestamp is the lower 32 bits of a monotonic microsecond clock
		Timestamp:  uint32(time.Now().UnixMicro() % segmentTimestampMicrosecondMod),
		ProtocolId: protocolId,
	}
	if isResponse {
		header.ProtocolId = header.ProtocolId | SegmentProtocolIdResponseFlag
	}
	header.PayloadLength = uint16(len(payload))
	segment := &Segment{
		SegmentHeader: header,
		Payload:       payload,
	}
	return segment
}

// Bytes returns the wire encoding of the segment
func (s *Segment) Bytes() []byte {
	ret := make([]byte, SegmentHeaderLength, SegmentHeaderLength+len(s.Payload))
	binary.BigEndian.PutUint32(ret[0:4], s.Timestamp)
	binary.BigEndian.PutUint16(ret[4:6], s.ProtocolId)
	binary.BigEndian.PutUint16(ret[6:8], s.PayloadLength)
	return append(ret, s.Payload...)
}

func (s *SegmentHeader) IsRequest() bool {
	return (s.ProtocolId & SegmentProtocolIdResponseFlag) == 0
}

func (s *SegmentHeader) IsResponse() bool {
	return (s.ProtocolId & SegmentProtocolIdResponseFlag) > 0
}

func (s *SegmentHeader) GetProtocolId() uint16 {
	return s.ProtocolId &^ SegmentProtocolIdResponseFlag
}

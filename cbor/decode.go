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

package cbor

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"

	_cbor "github.com/fxamacker/cbor/v2"
	"github.com/jinzhu/copier"
)

var (
	cachedDecMode     _cbor.DecMode
	cachedDecModeErr  error
	cachedDecModeOnce sync.Once
)

// getDecMode returns a cached DecMode, initializing it on first use
func getDecMode() (_cbor.DecMode, error) {
	cachedDecModeOnce.Do(func() {
		decOptions := _cbor.DecOptions{
			ExtraReturnErrors: _cbor.ExtraDecErrorUnknownField,
			// This defaults to 32, but there are blocks in the wild using >64 nested levels
			MaxNestedLevels: 256,
		}
		cachedDecMode, cachedDecModeErr = decOptions.DecModeWithTags(customTagSet)
	})
	return cachedDecMode, cachedDecModeErr
}

// Decode decodes the first CBOR item in dataBytes into dest and returns the
// number of bytes consumed
func Decode(dataBytes []byte, dest any) (int, error) {
	data := bytes.NewReader(dataBytes)
	decMode, err := getDecMode()
	if err != nil {
		return 0, err
	}
	dec := decMode.NewDecoder(data)
	err = dec.Decode(dest)
	return dec.NumBytesRead(), err
}

// Extract the first item from a CBOR list. This will return the first item from the
// provided list if it's numeric and an error otherwise
func DecodeIdFromList(cborData []byte) (int, error) {
	listLen, err := ListLength(cborData)
	if err != nil {
		return 0, err
	}
	if listLen == 0 {
		return 0, errors.New("cannot return first item from empty list")
	}
	// If the list length and the first list value both fit in the initial byte,
	// we can extract the value straight from the byte slice
	if listLen < int(CborMaxUintSimple) && len(cborData) > 1 {
		if cborData[1] <= CborMaxUintSimple {
			return int(cborData[1]), nil
		}
	}
	// If we couldn't use the shortcut above, actually decode the list
	var tmp []RawMessage
	if _, err := Decode(cborData, &tmp); err != nil {
		return 0, err
	}
	var id uint64
	if _, err := Decode(tmp[0], &id); err != nil {
		return 0, fmt.Errorf("first list item was not numeric: %w", err)
	}
	if id > uint64(math.MaxInt) {
		return 0, errors.New("decoded numeric value too large: uint64 > int")
	}
	return int(id), nil
}

// Determine the length of a CBOR list
func ListLength(cborData []byte) (int, error) {
	if len(cborData) == 0 {
		return 0, errors.New("no data")
	}
	if cborData[0]&CborTypeMask != CborTypeArray {
		return 0, fmt.Errorf("expected array, got major type 0x%x", cborData[0]&CborTypeMask)
	}
	// If the list length is <= the max simple uint, then we can extract the length
	// value straight from the byte slice (with a little math)
	if cborData[0] <= (CborTypeArray + CborMaxUintSimple) {
		return int(cborData[0]) - int(CborTypeArray), nil
	}
	// If we couldn't use the shortcut above, actually decode the list
	var tmp []RawMessage
	if _, err := Decode(cborData, &tmp); err != nil {
		return 0, err
	}
	return len(tmp), nil
}

var (
	decodeGenericTypeCache      = map[reflect.Type]reflect.Type{}
	decodeGenericTypeCacheMutex sync.RWMutex
)

// DecodeGeneric decodes the specified CBOR into the destination object without using the
// destination object's UnmarshalCBOR() function
func DecodeGeneric(cborData []byte, dest any) error {
	valueDest := reflect.ValueOf(dest)
	if valueDest.Kind() != reflect.Pointer ||
		valueDest.Elem().Kind() != reflect.Struct {
		return errors.New("destination must be a pointer to a struct")
	}
	typeDest := valueDest.Elem().Type()
	// Check type cache
	decodeGenericTypeCacheMutex.RLock()
	tmpTypeDest, ok := decodeGenericTypeCache[typeDest]
	decodeGenericTypeCacheMutex.RUnlock()
	if !ok {
		// Create a duplicate(-ish) struct from the destination so that we can bypass
		// any custom UnmarshalCBOR() function on the destination object
		destTypeFields := []reflect.StructField{}
		for i := range typeDest.NumField() {
			tmpField := typeDest.Field(i)
			if tmpField.IsExported() && tmpField.Name != "DecodeStoreCbor" {
				destTypeFields = append(destTypeFields, tmpField)
			}
		}
		tmpTypeDest = reflect.StructOf(destTypeFields)
		decodeGenericTypeCacheMutex.Lock()
		decodeGenericTypeCache[typeDest] = tmpTypeDest
		decodeGenericTypeCacheMutex.Unlock()
	}
	// Create temporary object with the type created above
	tmpDest := reflect.New(tmpTypeDest)
	if _, err := Decode(cborData, tmpDest.Interface()); err != nil {
		return err
	}
	// Copy values from temporary object into destination object
	if err := copier.Copy(dest, tmpDest.Interface()); err != nil {
		return err
	}
	return nil
}

// StreamDecoder provides sequential CBOR decoding with position tracking
type StreamDecoder struct {
	data []byte
	pos  int
}

// NewStreamDecoder creates a decoder for sequential CBOR item extraction
func NewStreamDecoder(data []byte) *StreamDecoder {
	return &StreamDecoder{
		data: data,
	}
}

// Position returns the current byte position in the stream
func (d *StreamDecoder) Position() int {
	return d.pos
}

// EOF returns true if the decoder has reached the end of the data
func (d *StreamDecoder) EOF() bool {
	return d.pos >= len(d.data)
}

// DecodeRaw returns the raw bytes of the next CBOR item and advances past it
func (d *StreamDecoder) DecodeRaw() ([]byte, error) {
	if d.EOF() {
		return nil, errors.New("unexpected end of data")
	}
	var tmp RawMessage
	n, err := Decode(d.data[d.pos:], &tmp)
	if err != nil {
		return nil, err
	}
	ret := d.data[d.pos : d.pos+n]
	d.pos += n
	return ret, nil
}

// Decode decodes the next CBOR item into dest and advances past it
func (d *StreamDecoder) Decode(dest any) error {
	raw, err := d.DecodeRaw()
	if err != nil {
		return err
	}
	_, err = Decode(raw, dest)
	return err
}

// DecodeArrayHeader consumes an array header and returns the number of items.
// A length of -1 indicates an indefinite-length array terminated by a break
func (d *StreamDecoder) DecodeArrayHeader() (int, error) {
	return d.decodeHeader(CborTypeArray)
}

// DecodeMapHeader consumes a map header and returns the number of pairs.
// A length of -1 indicates an indefinite-length map terminated by a break
func (d *StreamDecoder) DecodeMapHeader() (int, error) {
	return d.decodeHeader(CborTypeMap)
}

// SkipTag consumes a tag header if one is present and returns the tag number
func (d *StreamDecoder) SkipTag() (uint64, bool, error) {
	if d.EOF() || d.data[d.pos]&CborTypeMask != CborTypeTag {
		return 0, false, nil
	}
	tagNum, headerLen, err := readArgument(d.data[d.pos:])
	if err != nil {
		return 0, false, err
	}
	d.pos += headerLen
	return tagNum, true, nil
}

// AtBreak consumes a break marker if one is next in the stream
func (d *StreamDecoder) AtBreak() bool {
	if !d.EOF() && d.data[d.pos] == CborBreak {
		d.pos++
		return true
	}
	return false
}

func (d *StreamDecoder) decodeHeader(majorType uint8) (int, error) {
	if d.EOF() {
		return 0, errors.New("unexpected end of data")
	}
	firstByte := d.data[d.pos]
	if firstByte&CborTypeMask != majorType {
		return 0, fmt.Errorf(
			"expected major type 0x%x, got 0x%x",
			majorType,
			firstByte&CborTypeMask,
		)
	}
	if firstByte&0x1f == CborIndefiniteLength {
		d.pos++
		return -1, nil
	}
	length, headerLen, err := readArgument(d.data[d.pos:])
	if err != nil {
		return 0, err
	}
	if length > uint64(math.MaxInt32) {
		return 0, errors.New("length exceeds maximum int32 value")
	}
	d.pos += headerLen
	return int(length), nil
}

// readArgument parses the argument of a CBOR initial byte and returns it along
// with the total header length
func readArgument(data []byte) (uint64, int, error) {
	additionalInfo := data[0] & 0x1f
	switch {
	case additionalInfo < 24:
		return uint64(additionalInfo), 1, nil
	case additionalInfo <= 27:
		argLen := 1 << (additionalInfo - 24)
		if len(data) < 1+argLen {
			return 0, 0, errors.New("unexpected end of data reading header")
		}
		var ret uint64
		for _, b := range data[1 : 1+argLen] {
			ret = ret<<8 | uint64(b)
		}
		return ret, 1 + argLen, nil
	default:
		return 0, 0, fmt.Errorf("invalid additional info: %d", additionalInfo)
	}
}

package document

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("document: CBOR decoder initialization failed: " + err.Error())
	}
}

// FromCBOR parses one CBOR data item into the shape of schema.Dynamic.
// Maps must have text keys.
func FromCBOR(data []byte) (Value, error) {
	x, err := ParseCBOR(data)
	if err != nil {
		return Value{}, err
	}
	return FromAny(x)
}

// ParseCBOR decodes one CBOR data item into generic data for FromAny or
// Conform.
func ParseCBOR(data []byte) (any, error) {
	var x any
	if err := cborDecMode.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("document: parsing cbor: %w", err)
	}
	return x, nil
}

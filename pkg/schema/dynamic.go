package schema

import "sync"

// Variant tags of the Dynamic type.
const (
	DynNull uint16 = iota
	DynBool
	DynInt
	DynUint
	DynFloat
	DynString
	DynBytes
	DynArray
	DynObject
	DynBools
	DynInts
	DynUints
	DynFloats
	DynStrings
)

// DynamicName is the definition name of the Dynamic type.
const DynamicName = "Any"

// Dynamic returns the construction tree of the schemaless document type: a
// recursive union covering every JSON and CBOR value. Homogeneous scalar
// arrays have their own variants so they are stored as flat runs.
func Dynamic() Definition {
	any := Name(DynamicName)
	return Define(DynamicName, UnionOf(
		V(DynNull, "null", Of(Unit)),
		V(DynBool, "bool", Of(Bool)),
		V(DynInt, "int", Of(Int64)),
		V(DynUint, "uint", Of(Uint64)),
		V(DynFloat, "float", Of(Float64)),
		V(DynString, "string", Of(String)),
		V(DynBytes, "bytes", Of(Bytes)),
		V(DynArray, "array", SeqOf(RefOf(any))),
		V(DynObject, "object", MapOf(Of(String), RefOf(any))),
		V(DynBools, "bools", SeqOf(Of(Bool))),
		V(DynInts, "ints", SeqOf(Of(Int64))),
		V(DynUints, "uints", SeqOf(Of(Uint64))),
		V(DynFloats, "floats", SeqOf(Of(Float64))),
		V(DynStrings, "strings", SeqOf(Of(String))),
	))
}

var dynamicSchema = sync.OnceValue(func() *Schema {
	return MustNew(Name(DynamicName), Dynamic())
})

// DynamicSchema returns the compiled schema whose root is Dynamic.
func DynamicSchema() *Schema { return dynamicSchema() }

package zcarchive

import (
	"testing"

	"github.com/rawbytedev/zcarchive/pkg/archive"
)

type benchStruct struct {
	Val      []string
	Mod      []int8
	Integers []int16
	Float3   []float32
	Float6   []float64
}

func benchValue() benchStruct {
	return benchStruct{Val: []string{"azerty", "hello", "world", "random"},
		Mod: []int8{12, 10, 13, 1}, Integers: []int16{100, 250, 300},
		Float3: []float32{12.13, 16.23, 75.1}, Float6: []float64{100.5, 165.63, 153.5}}
}

func BenchmarkCodecEncoding(b *testing.B) {
	z := benchValue()
	c := NewCodec(SafeOptions{}, archive.Options{})
	b.ReportAllocs()
	for b.Loop() {
		_, _ = c.Marshal(z)
	}
}

func BenchmarkCodecDedupEncoding(b *testing.B) {
	z := benchValue()
	c := NewCodec(SafeOptions{}, archive.Options{Dedup: archive.DedupDocument})
	b.ReportAllocs()
	for b.Loop() {
		_, _ = c.Marshal(z)
	}
}

func BenchmarkCodecDecoding(b *testing.B) {
	c := NewCodec(SafeOptions{}, archive.Options{})
	buf, err := c.Marshal(benchValue())
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for b.Loop() {
		var res benchStruct
		_ = c.Unmarshal(buf, &res)
	}
}

func BenchmarkCodecUnsafeDecoding(b *testing.B) {
	c := NewCodec(SafeOptions{UnsafeStrings: true, UnsafePrimitives: true}, archive.Options{})
	buf, err := c.Marshal(benchValue())
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for b.Loop() {
		var res benchStruct
		_ = c.Unmarshal(buf, &res)
	}
}

func BenchmarkViewAccess(b *testing.B) {
	c := NewCodec(SafeOptions{}, archive.Options{})
	buf, err := c.Marshal(benchValue())
	if err != nil {
		b.Fatal(err)
	}
	a, err := c.Open(buf, benchStruct{})
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for b.Loop() {
		_ = a.Root().Field("Val").Index(2).Str()
		_ = a.Root().Field("Float6").Index(1).Float()
	}
}

package archive

import (
	"fmt"
	"testing"

	"github.com/rawbytedev/zcarchive/pkg/document"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

func benchDocument() document.Value {
	tags := make([]string, 64)
	for i := range tags {
		tags[i] = fmt.Sprintf("tag-%d", i%8)
	}
	return person("benchmark", tags...)
}

func BenchmarkBuild(b *testing.B) {
	s := personSchema()
	doc := benchDocument()
	for _, d := range []Dedup{DedupOff, DedupDocument} {
		b.Run(d.String(), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				bl := NewBuilder(s, Options{Dedup: d, InitialCapacity: 4096})
				if _, err := bl.Write(doc); err != nil {
					b.Fatal(err)
				}
				if _, _, err := bl.Finalize(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkValidate(b *testing.B) {
	s := personSchema()
	buf := build(b, s, Options{}, benchDocument())
	b.SetBytes(int64(len(buf)))
	b.ReportAllocs()
	for b.Loop() {
		if _, err := Validate(buf, s); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkViewRead(b *testing.B) {
	s := personSchema()
	a, err := Validate(build(b, s, Options{}, benchDocument()), s)
	if err != nil {
		b.Fatal(err)
	}
	root := a.Root()
	b.ReportAllocs()
	n := 0
	for b.Loop() {
		n += len(root.Field("name").Str())
		for _, tag := range root.Field("tags").Elements() {
			n += len(tag.Str())
		}
	}
	_ = n
}

func BenchmarkMapLookup(b *testing.B) {
	s := schema.MustNew(schema.MapOf(schema.Of(schema.String), schema.Of(schema.Int64)))
	entries := make([]document.Entry, 1024)
	for i := range entries {
		entries[i] = document.E(document.String(fmt.Sprintf("key-%04d", i)), document.Int(int64(i)))
	}
	a, err := Validate(build(b, s, Options{}, document.Map(entries...)), s)
	if err != nil {
		b.Fatal(err)
	}
	root := a.Root()
	b.ReportAllocs()
	for b.Loop() {
		if !root.GetString("key-0777").Exists() {
			b.Fatal("missing key")
		}
	}
}

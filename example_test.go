package zcarchive_test

import (
	"fmt"

	"github.com/rawbytedev/zcarchive"
	"github.com/rawbytedev/zcarchive/pkg/archive"
)

type Track struct {
	Title   string
	Artists []string
	Plays   uint64
}

// Reading a field through a View touches only the bytes it needs.
func Example() {
	buf, err := zcarchive.Marshal(Track{Title: "Intro", Artists: []string{"A", "B"}, Plays: 42})
	if err != nil {
		panic(err)
	}
	c := zcarchive.NewCodec(zcarchive.SafeOptions{UnsafeStrings: true}, archive.Options{})
	a, err := c.Open(buf, Track{})
	if err != nil {
		panic(err)
	}
	root := a.Root()
	fmt.Println(root.Field("Title").Str(), root.Field("Artists").Len(), root.Field("Plays").Uint())
	// Output: Intro 2 42
}

func ExampleUnmarshal() {
	buf, err := zcarchive.Marshal(Track{Title: "Outro", Plays: 7})
	if err != nil {
		panic(err)
	}
	var t Track
	if err := zcarchive.Unmarshal(buf, &t); err != nil {
		panic(err)
	}
	fmt.Printf("%s %d %d\n", t.Title, len(t.Artists), t.Plays)
	// Output: Outro 0 7
}

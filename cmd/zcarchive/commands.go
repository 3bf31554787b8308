package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rawbytedev/zcarchive/pkg/archive"
	"github.com/rawbytedev/zcarchive/pkg/archivefile"
	"github.com/rawbytedev/zcarchive/pkg/document"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.DynamicSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := schema.ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// loadDocument reads a JSON or CBOR file, chosen by extension, into the
// shape of the schema root.
func loadDocument(path string, s *schema.Schema) (document.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document.Value{}, err
	}
	var x any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor":
		x, err = document.ParseCBOR(data)
	default:
		x, err = document.ParseJSON(data)
	}
	if err != nil {
		return document.Value{}, fmt.Errorf("%s: %w", path, err)
	}
	v, err := document.Conform(x, s.Root())
	if err != nil {
		return document.Value{}, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func runBuild(e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("build: no input documents")
	}
	if e.opts.out == "" {
		return errors.New("build: --out is required")
	}
	s, err := loadSchema(e.opts.schema)
	if err != nil {
		return err
	}
	docs := make([]document.Value, len(args))
	for i, path := range args {
		if docs[i], err = loadDocument(path, s); err != nil {
			return err
		}
	}

	opts := archive.Options{Width: e.cfg.Width, Dedup: e.cfg.Dedup, Logger: &e.log}
	var bufs [][]byte
	if e.opts.batch {
		b := archive.NewBuilder(s, opts)
		for i, doc := range docs {
			if _, err := b.Write(doc); err != nil {
				return fmt.Errorf("%s: %w", args[i], err)
			}
		}
		buf, _, err := b.FinalizeBatch()
		if err != nil {
			return err
		}
		bufs = append(bufs, buf)
	} else {
		for i, doc := range docs {
			b := archive.NewBuilder(s, opts)
			if _, err := b.Write(doc); err != nil {
				return fmt.Errorf("%s: %w", args[i], err)
			}
			buf, _, err := b.Finalize()
			if err != nil {
				return err
			}
			bufs = append(bufs, buf)
		}
	}

	if e.opts.raw {
		if len(bufs) != 1 {
			return errors.New("build: --raw writes one archive; pass one input or --batch")
		}
		if err := archivefile.WriteRaw(e.opts.out, bufs[0]); err != nil {
			return err
		}
		e.log.Info().Str("out", e.opts.out).Int("bytes", len(bufs[0])).Msg("raw archive written")
		return nil
	}

	var file bytes.Buffer
	w := archivefile.NewWriter(&file, archivefile.WriterOptions{Compression: e.cfg.Compression, Logger: &e.log})
	if err := w.WriteSchema(s); err != nil {
		return err
	}
	total := 0
	for _, buf := range bufs {
		if err := w.WriteArchive(buf); err != nil {
			return err
		}
		total += len(buf)
	}
	if err := archivefile.WriteRaw(e.opts.out, file.Bytes()); err != nil {
		return err
	}
	e.log.Info().
		Str("out", e.opts.out).
		Int("archives", len(bufs)).
		Int("documents", len(docs)).
		Int("archive_bytes", total).
		Int("file_bytes", file.Len()).
		Stringer("compression", e.cfg.Compression).
		Msg("archive file written")
	return nil
}

// openArchives validates every archive in a framed or raw file. The
// returned close func releases memory the archives may alias.
func openArchives(e *env, path string) ([]*archive.Archive, func() error, error) {
	m, err := archivefile.OpenMapped(path)
	if err != nil {
		return nil, nil, err
	}
	vopts := archive.ValidateOptions{MaxDepth: e.cfg.MaxDepth, Logger: &e.log}
	data := m.Bytes()

	if !bytes.HasPrefix(data, []byte(archivefile.FileMagic)) {
		s, err := loadSchema(e.opts.schema)
		if err != nil {
			m.Close()
			return nil, nil, err
		}
		a, err := archive.ValidateContext(e.ctx, data, s, vopts)
		if err != nil {
			m.Close()
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		return []*archive.Archive{a}, m.Close, nil
	}

	// Framed payloads are copied out of the mapping by the reader.
	s, bufs, err := archivefile.ReadAll(bytes.NewReader(data), archivefile.ReaderOptions{})
	if cerr := m.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if s == nil || e.opts.schema != "" {
		want, err := loadSchema(e.opts.schema)
		if err != nil {
			return nil, nil, err
		}
		if s != nil && s.Identity() != want.Identity() {
			return nil, nil, fmt.Errorf("%s: embedded schema differs from %s", path, e.opts.schema)
		}
		s = want
	}
	archives, err := archivefile.ValidateAll(e.ctx, bufs, s, vopts, e.cfg.Jobs)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return archives, func() error { return nil }, nil
}

func onePath(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: want one file, got %d arguments", cmd, len(args))
	}
	return args[0], nil
}

func runValidate(e *env, args []string) error {
	path, err := onePath("validate", args)
	if err != nil {
		return err
	}
	archives, closeFn, err := openArchives(e, path)
	if err != nil {
		e.log.Error().Err(err).Str("file", path).Msg("validation failed")
		return err
	}
	defer closeFn()
	docs := 0
	for i, a := range archives {
		docs += a.Len()
		e.log.Debug().
			Int("archive", i).
			Int("bytes", len(a.Bytes())).
			Int("documents", a.Len()).
			Str("width", a.Width().String()).
			Bool("batch", a.IsBatch()).
			Msg("archive valid")
	}
	fmt.Fprintf(e.stdout, "%s: %d archives, %d documents valid\n", path, len(archives), docs)
	return nil
}

func runDump(e *env, args []string) error {
	path, err := onePath("dump", args)
	if err != nil {
		return err
	}
	archives, closeFn, err := openArchives(e, path)
	if err != nil {
		return err
	}
	defer closeFn()
	for _, a := range archives {
		for _, doc := range a.Documents() {
			line, err := archive.Decode(doc).MarshalJSON()
			if err != nil {
				return err
			}
			line = append(line, '\n')
			if _, err := e.stdout.Write(line); err != nil {
				return err
			}
		}
	}
	return nil
}

func runStat(e *env, args []string) error {
	path, err := onePath("stat", args)
	if err != nil {
		return err
	}
	m, err := archivefile.OpenMapped(path)
	if err != nil {
		return err
	}
	defer m.Close()
	data := m.Bytes()
	if !bytes.HasPrefix(data, []byte(archivefile.FileMagic)) {
		fmt.Fprintf(e.stdout, "%s: raw archive, %d bytes\n", path, len(data))
		return statHeader(e.stdout, data)
	}

	fmt.Fprintf(e.stdout, "%s: framed file, %d bytes\n", path, len(data))
	r := archivefile.NewReader(bytes.NewReader(data), archivefile.ReaderOptions{})
	for i := 0; ; i++ {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "frame %d: %s, %s, stored %d, raw %d\n", i, f.Kind, f.Compression, f.Stored, len(f.Data))
		switch f.Kind {
		case archivefile.FrameSchema:
			s, err := f.Schema()
			if err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "  root %s, identity %x\n", s.Root(), s.Identity())
		case archivefile.FrameArchive:
			if err := statHeader(e.stdout, f.Data); err != nil {
				return err
			}
		}
	}
}

func statHeader(w io.Writer, buf []byte) error {
	h, err := archive.ParseHeader(buf)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  version %d, %s offsets, batch %t, root %d, identity %x\n",
		h.Version, h.Width(), h.IsBatch(), h.Root, h.Identity)
	return nil
}

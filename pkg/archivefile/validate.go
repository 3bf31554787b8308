package archivefile

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rawbytedev/zcarchive/pkg/archive"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// ValidateAll validates bufs against s with at most jobs validations in
// flight; jobs <= 0 uses GOMAXPROCS. The first failure cancels the rest
// and is returned with the index of its buffer.
func ValidateAll(ctx context.Context, bufs [][]byte, s *schema.Schema, opts archive.ValidateOptions, jobs int) ([]*archive.Archive, error) {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	out := make([]*archive.Archive, len(bufs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, buf := range bufs {
		g.Go(func() error {
			a, err := archive.ValidateContext(gctx, buf, s, opts)
			if err != nil {
				return fmt.Errorf("archive %d: %w", i, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

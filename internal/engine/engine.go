// Package engine builds the bidirectional pipe graph connecting a Source,
// an ordered list of Filters, and a Destination, then runs every stage to
// completion with first-exception join semantics.
//
// This is the direct translation of qrexec-proxy.py's main() pipe-wiring
// loop and its `asyncio.wait(awaitables, return_when=FIRST_EXCEPTION)`
// call. Go's structured-concurrency analogue is
// golang.org/x/sync/errgroup: each stage becomes one g.Go closure, and
// g.Wait() returns the first non-nil error while the errgroup-derived
// context is canceled for every other still-running stage. Every stage's
// four (or two, for Source/Destination) pipe endpoints are closed on
// every return path — including a recovered panic — so a single
// misbehaving filter can never leak a file descriptor or wedge the
// dispatcher.
package engine

import (
	"context"
	"fmt"

	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// FilterSpec is one scheduled filter instance: its chain position name
// (used for logging and error attribution — typically
// "<chain>_<plugin>_<index>") paired with the constructed instance.
type FilterSpec struct {
	Name     string
	Instance plugin.Filter
}

type pipePair struct {
	r *pipe.Reader
	w *pipe.Writer
}

type closer interface{ Close() error }

type stage struct {
	name    string
	run     func(ctx context.Context) error
	closers []closer
}

// Pipeline is a fully wired chain ready to run.
type Pipeline struct {
	stages []stage
}

// Build wires source, the ordered filters, and destination together with
// N+1 forward pipes and N+1 reverse pipes (N = len(filters)), exactly
// matching spec.md §4.5's construction algorithm: filter i's forward
// input is forward-pipe i's read end, its forward output is forward-pipe
// i+1's write end, its reverse input is reverse-pipe i+1's read end, and
// its reverse output is reverse-pipe i's write end.
func Build(source plugin.Source, filters []FilterSpec, destination plugin.Destination) (*Pipeline, error) {
	n := len(filters)

	fwd := make([]pipePair, n+1)
	rev := make([]pipePair, n+1)
	for i := 0; i <= n; i++ {
		fr, fw, err := pipe.Open()
		if err != nil {
			return nil, fmt.Errorf("open forward pipe %d: %w", i, err)
		}
		fwd[i] = pipePair{r: fr, w: fw}

		rr, rw, err := pipe.Open()
		if err != nil {
			return nil, fmt.Errorf("open reverse pipe %d: %w", i, err)
		}
		rev[i] = pipePair{r: rr, w: rw}
	}

	stages := make([]stage, 0, n+2)

	stages = append(stages, stage{
		name: "source",
		run: func(ctx context.Context) error {
			return source.CommunicateSrc(ctx, rev[0].r, fwd[0].w)
		},
		closers: []closer{rev[0].r, fwd[0].w},
	})

	for i, f := range filters {
		srcR := fwd[i].r
		dstW := fwd[i+1].w
		dstR := rev[i+1].r
		srcW := rev[i].w
		instance := f.Instance

		stages = append(stages, stage{
			name: f.Name,
			run: func(ctx context.Context) error {
				return instance.Proxy(ctx, srcR, srcW, dstR, dstW)
			},
			closers: []closer{srcR, srcW, dstR, dstW},
		})
	}

	stages = append(stages, stage{
		name: "destination",
		run: func(ctx context.Context) error {
			return destination.CommunicateDst(ctx, fwd[n].r, rev[n].w)
		},
		closers: []closer{fwd[n].r, rev[n].w},
	})

	return &Pipeline{stages: stages}, nil
}

// Run schedules every stage as a goroutine under a shared errgroup and
// blocks until either all stages complete or the first one returns a
// non-nil error, at which point the group's derived context is canceled
// so the remaining stages can unwind promptly.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, s := range p.stages {
		s := s
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = multierr.Append(fmt.Errorf("panic in stage %q: %v", s.name, r), closeAll(s.closers))
				}
			}()

			runErr := s.run(gctx)
			closeErr := closeAll(s.closers)
			return multierr.Combine(runErr, closeErr)
		})
	}

	return g.Wait()
}

func closeAll(closers []closer) error {
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

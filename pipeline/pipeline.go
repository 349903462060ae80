// Package pipeline runs a batch of order rows through normalization, layout,
// rendering and per-row PDF output, then merges the artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/slipkit/artifact"
	"github.com/wudi/slipkit/config"
	"github.com/wudi/slipkit/fonts"
	"github.com/wudi/slipkit/layout"
	"github.com/wudi/slipkit/merge"
	"github.com/wudi/slipkit/observability"
	"github.com/wudi/slipkit/order"
	"github.com/wudi/slipkit/recovery"
	"github.com/wudi/slipkit/render"
)

const (
	// MergedFilename is the default name of the merged document.
	MergedFilename = config.DefaultMergedName
	MIMEType       = "application/pdf"
)

// RowError wraps a failure that belongs to a single input row.
type RowError struct {
	Row       int
	Seq       artifact.Seq
	Component string
	Err       error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %s: %v", e.Row, e.Seq.Name(), e.Component, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

type Result struct {
	MergedPath       string
	Size             int64
	Pages            int
	Artifacts        []artifact.PageArtifact
	Included         []artifact.Seq
	SkippedRows      []recovery.Skipped
	SkippedArtifacts []merge.Skip
}

type runner struct {
	logger observability.Logger
	tracer observability.Tracer
	face   *fonts.Face
}

type Option func(*runner)

func WithLogger(l observability.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(r *runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithFace supplies an already loaded face instead of reading cfg.FontPath.
func WithFace(f *fonts.Face) Option {
	return func(r *runner) { r.face = f }
}

// Run processes rows into one artifact per row under cfg.OutputDir and writes
// the merged document next to them. The output directory is wiped first.
// Row i always produces Seq i+1, whatever the worker count.
func Run(ctx context.Context, rows []order.Row, cfg config.Config, opts ...Option) (res *Result, err error) {
	r := &runner{logger: observability.NopLogger{}, tracer: observability.NopTracer()}
	for _, opt := range opts {
		opt(r)
	}
	ctx, span := r.tracer.StartSpan(ctx, "pipeline.run")
	span.SetTag("rows", len(rows))
	defer func() {
		span.SetError(err)
		span.Finish()
	}()

	log := r.logger.With(observability.String("output_dir", cfg.OutputDir))
	log.Info("run started", observability.Int("rows", len(rows)), observability.Int("workers", cfg.Workers))

	strategy, err := recovery.FromPolicy(cfg.RowPolicy)
	if err != nil {
		return nil, err
	}
	face := r.face
	if face == nil {
		face, err = fonts.LoadFile("SlipFont", cfg.FontPath)
		if err != nil {
			return nil, err
		}
	}

	store := artifact.NewStore(cfg.OutputDir, face, cfg.WriterConfig())
	store.Merged = cfg.MergedName
	if store.Merged == "" {
		store.Merged = MergedFilename
	}
	if err := r.stage(ctx, "artifact.reset", func(context.Context) error { return store.Reset() }); err != nil {
		return nil, err
	}

	var layoutOpts []layout.Option
	if line := cfg.IntroLine(); line != "" {
		layoutOpts = append(layoutOpts, layout.WithIntroLine(line))
	}
	w := &rowWorker{
		normalizer: &order.Normalizer{MaxGroups: cfg.MaxItemGroups, Mandatory: cfg.MandatoryFields},
		engine:     layout.NewEngine(layoutOpts...),
		face:       face,
		store:      store,
		strategy:   strategy,
		log:        log,
	}
	if err := r.stage(ctx, "pipeline.render", func(ctx context.Context) error {
		return w.renderAll(ctx, rows, cfg.Workers)
	}); err != nil {
		return nil, err
	}

	res = &Result{}
	if lenient, ok := strategy.(*recovery.LenientStrategy); ok {
		res.SkippedRows = lenient.Skipped()
	}
	res.Artifacts, err = store.List()
	if err != nil {
		return nil, err
	}

	var merged *merge.Document
	if err := r.stage(ctx, "merge", func(ctx context.Context) error {
		var mergeErr error
		merged, mergeErr = merge.NewEngine().Merge(ctx, res.Artifacts)
		return mergeErr
	}); err != nil {
		return nil, err
	}
	for _, sk := range merged.Skipped {
		log.Warn("artifact excluded from merge", observability.String("file", sk.Seq.Name()), observability.Error("err", sk.Err))
	}

	res.MergedPath, err = store.WriteFile(store.Merged, merged.Data)
	if err != nil {
		return nil, err
	}
	res.Size = int64(len(merged.Data))
	res.Pages = merged.Pages
	res.Included = merged.Included
	res.SkippedArtifacts = merged.Skipped

	log.Info("run finished",
		observability.String("merged", res.MergedPath),
		observability.Int("pages", res.Pages),
		observability.Int("skipped_rows", len(res.SkippedRows)),
		observability.Int("skipped_artifacts", len(res.SkippedArtifacts)),
		observability.Int64("bytes", res.Size),
	)
	return res, nil
}

func (r *runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.tracer.StartSpan(ctx, name)
	err := fn(ctx)
	span.SetError(err)
	span.Finish()
	return err
}

type rowWorker struct {
	normalizer *order.Normalizer
	engine     *layout.Engine
	face       *fonts.Face
	store      *artifact.Store
	strategy   recovery.Strategy
	log        observability.Logger
}

// renderAll fans rows out over at most workers goroutines. With one worker
// each row is fully written before the next starts.
func (w *rowWorker) renderAll(ctx context.Context, rows []order.Row, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, row := range rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return w.renderRow(gctx, i, artifact.Seq(i+1), row)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (w *rowWorker) renderRow(ctx context.Context, i int, seq artifact.Seq, row order.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := w.normalizer.Normalize(row)
	if err != nil {
		var malformed *order.MalformedRowError
		if errors.As(err, &malformed) {
			malformed.Row = i
		}
		return w.rowFailed(ctx, i, seq, "order", err)
	}
	l, err := w.engine.Compute(rec, seq, w.face)
	if err != nil {
		return w.rowFailed(ctx, i, seq, "layout", err)
	}
	page, err := render.Render(l, rec)
	if err != nil {
		return w.rowFailed(ctx, i, seq, "render", err)
	}
	art, err := w.store.Write(ctx, page, seq)
	if err != nil {
		return err
	}
	w.log.Debug("artifact written",
		observability.String("file", seq.Name()),
		observability.Int("items", len(rec.Items)),
		observability.Int64("bytes", art.Size),
	)
	return nil
}

func (w *rowWorker) rowFailed(ctx context.Context, i int, seq artifact.Seq, component string, err error) error {
	rowErr := &RowError{Row: i, Seq: seq, Component: component, Err: err}
	if w.strategy.OnError(ctx, err, recovery.Location{Row: i, Seq: int(seq), Component: component}) == recovery.ActionSkip {
		w.log.Warn("row skipped", observability.Int("row", i), observability.String("file", seq.Name()), observability.Error("err", err))
		return nil
	}
	return rowErr
}

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/wudi/slipkit/artifact"
	"github.com/wudi/slipkit/config"
	"github.com/wudi/slipkit/fonts"
	"github.com/wudi/slipkit/merge"
	"github.com/wudi/slipkit/observability"
	"github.com/wudi/slipkit/order"
)

func testFace(t *testing.T) *fonts.Face {
	t.Helper()
	face, err := fonts.NewFace("GoMono", gomono.TTF)
	if err != nil {
		t.Fatalf("face: %v", err)
	}
	return face
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.OutputDir = filepath.Join(t.TempDir(), "output")
	cfg.FontPath = filepath.Join(t.TempDir(), "missing.ttf")
	return cfg
}

func makeRows(n int) []order.Row {
	rows := make([]order.Row, n)
	for i := range rows {
		rows[i] = order.Row{
			order.ColCustomerID:      fmt.Sprintf("C%03d", i+1),
			order.ColRecipientName:   fmt.Sprintf("Customer %d", i+1),
			order.ColRecipientPostal: "100-0001",
			order.ColRecipientAddr1:  "1-1 Chiyoda",
			order.ColSenderName:      "Sample Shop",
			"SKU1":                   "B2", "商品名1": "Pen", "商品数量1": "3",
			"SKU2": "A1", "商品名2": "Note", "商品数量2": "2",
			"SKU3": "A1", "商品名3": "Note", "商品数量3": fmt.Sprint(i),
		}
	}
	return rows
}

func readMerged(t *testing.T, res *Result) []byte {
	t.Helper()
	data, err := os.ReadFile(res.MergedPath)
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	return data
}

func TestRun_WritesArtifactsAndMerged(t *testing.T) {
	cfg := testConfig(t)
	res, err := Run(context.Background(), makeRows(3), cfg, WithFace(testFace(t)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if filepath.Base(res.MergedPath) != MergedFilename || res.Pages != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	var names []string
	for _, a := range res.Artifacts {
		names = append(names, filepath.Base(a.Path))
	}
	if diff := cmp.Diff([]string{"output_0001.pdf", "output_0002.pdf", "output_0003.pdf"}, names); diff != "" {
		t.Fatalf("artifacts (-want +got):\n%s", diff)
	}
	data := readMerged(t, res)
	if !bytes.HasPrefix(data, []byte("%PDF-")) || int64(len(data)) != res.Size {
		t.Fatalf("merged file does not look like a PDF of %d bytes", res.Size)
	}
}

func TestRun_Idempotent(t *testing.T) {
	cfg := testConfig(t)
	face := testFace(t)
	first, err := Run(context.Background(), makeRows(5), cfg, WithFace(face))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	want := readMerged(t, first)
	notes := filepath.Join(cfg.OutputDir, "notes.txt")
	if err := os.WriteFile(notes, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	second, err := Run(context.Background(), makeRows(5), cfg, WithFace(face))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !bytes.Equal(want, readMerged(t, second)) {
		t.Fatalf("rerun over a populated output dir changed the merged bytes")
	}
	if _, err := os.Stat(notes); err != nil {
		t.Fatalf("rerun removed a file it does not own: %v", err)
	}

	third, err := Run(context.Background(), makeRows(2), cfg, WithFace(face))
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if len(third.Artifacts) != 2 || third.Pages != 2 {
		t.Fatalf("stale artifacts leaked into a smaller run: %+v", third.Artifacts)
	}
}

func TestRun_WorkersMatchSequential(t *testing.T) {
	face := testFace(t)
	seqCfg := testConfig(t)
	seqRes, err := Run(context.Background(), makeRows(12), seqCfg, WithFace(face))
	if err != nil {
		t.Fatalf("sequential run: %v", err)
	}

	parCfg := testConfig(t)
	parCfg.Workers = 4
	parRes, err := Run(context.Background(), makeRows(12), parCfg, WithFace(face))
	if err != nil {
		t.Fatalf("parallel run: %v", err)
	}
	if len(parRes.Artifacts) != 12 || parRes.Artifacts[11].Seq != 12 {
		t.Fatalf("unexpected artifacts %+v", parRes.Artifacts)
	}
	for i, a := range parRes.Artifacts {
		if filepath.Base(a.Path) != artifact.Seq(i+1).Name() {
			t.Fatalf("artifact %d is %s", i, a.Path)
		}
	}
	if !bytes.Equal(readMerged(t, seqRes), readMerged(t, parRes)) {
		t.Fatalf("worker count changed the merged document")
	}
}

func TestRun_StrictRowFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.MandatoryFields = []string{order.ColCustomerID}
	rows := makeRows(3)
	rows[1][order.ColCustomerID] = ""

	_, err := Run(context.Background(), rows, cfg, WithFace(testFace(t)))
	var rowErr *RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("expected RowError, got %v", err)
	}
	var malformed *order.MalformedRowError
	if !errors.As(err, &malformed) || malformed.Row != 1 || malformed.Field != order.ColCustomerID {
		t.Fatalf("unexpected cause %v", err)
	}
	if Classify(err) != CodeRow {
		t.Fatalf("Classify = %s", Classify(err))
	}
	if _, statErr := os.Stat(filepath.Join(cfg.OutputDir, MergedFilename)); !os.IsNotExist(statErr) {
		t.Fatalf("no merged file should be written after a fatal row error")
	}
}

func TestRun_LenientSkipsRow(t *testing.T) {
	cfg := testConfig(t)
	cfg.RowPolicy = "skip"
	cfg.MandatoryFields = []string{order.ColCustomerID}
	rows := makeRows(3)
	rows[1][order.ColCustomerID] = " "

	var logs bytes.Buffer
	logger := observability.NewSlogLogger(&logs, slog.LevelDebug, "json")
	res, err := Run(context.Background(), rows, cfg, WithFace(testFace(t)), WithLogger(logger))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.SkippedRows) != 1 || res.SkippedRows[0].Location.Row != 1 || res.SkippedRows[0].Location.Seq != 2 {
		t.Fatalf("unexpected skipped rows %+v", res.SkippedRows)
	}
	if diff := cmp.Diff([]artifact.Seq{1, 3}, res.Included); diff != "" {
		t.Fatalf("included (-want +got):\n%s", diff)
	}
	if !strings.Contains(logs.String(), `"msg":"row skipped"`) {
		t.Fatalf("skipped row was not logged:\n%s", logs.String())
	}
}

func TestRun_GlyphLoadFailure(t *testing.T) {
	cfg := testConfig(t)
	_, err := Run(context.Background(), makeRows(1), cfg)
	var glyphErr *fonts.GlyphLoadError
	if !errors.As(err, &glyphErr) {
		t.Fatalf("expected GlyphLoadError, got %v", err)
	}
	if Classify(err) != CodeGlyph {
		t.Fatalf("Classify = %s", Classify(err))
	}
	if _, statErr := os.Stat(cfg.OutputDir); !os.IsNotExist(statErr) {
		t.Fatalf("output dir should not be touched before the font loads")
	}
}

func TestRun_EmptyInput(t *testing.T) {
	_, err := Run(context.Background(), nil, testConfig(t), WithFace(testFace(t)))
	if !errors.Is(err, merge.ErrNoEligiblePages) {
		t.Fatalf("expected ErrNoEligiblePages, got %v", err)
	}
	if Classify(err) != CodeMerge {
		t.Fatalf("Classify = %s", Classify(err))
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, makeRows(3), testConfig(t), WithFace(testFace(t)))
	if Classify(err) != CodeCancel {
		t.Fatalf("expected cancel, got %v (%s)", err, Classify(err))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{errors.New("boom"), CodeUnknown},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), CodeCancel},
		{&fonts.GlyphLoadError{Path: "x.ttf", Err: os.ErrNotExist}, CodeGlyph},
		{&artifact.IOError{Op: "write", Path: "x", Err: os.ErrPermission}, CodeIO},
		{&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, CodeIO},
		{&merge.MergeError{Err: merge.ErrNoEligiblePages}, CodeMerge},
		{&RowError{Row: 2, Seq: 3, Component: "order", Err: errors.New("bad")}, CodeRow},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

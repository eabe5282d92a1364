// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/enlitens-kb/internal/ledger"
	"github.com/pdiddy/enlitens-kb/internal/pipeline"
	"github.com/pdiddy/enlitens-kb/pkg/types"
)

func init() { color.NoColor = true }

type scriptedProcessor struct {
	fail  map[string]error
	panic map[string]bool
	seen  []string
}

func (p *scriptedProcessor) Process(_ context.Context, pdfPath string, doc pipeline.Document) (*types.KnowledgeEntry, error) {
	name := filepath.Base(pdfPath)
	p.seen = append(p.seen, name)
	if p.panic[name] {
		panic("nil extraction")
	}
	if err := p.fail[name]; err != nil {
		return nil, err
	}
	return &types.KnowledgeEntry{
		DocumentID: doc.ID,
		Source:     types.SourceInfo{PDFPath: pdfPath, SHA256: doc.SHA256, OriginalFilename: name},
		Metadata:   types.EntryMetadata{Title: name},
	}, nil
}

type recordingMirror struct{ ids []string }

func (m *recordingMirror) Upsert(_ context.Context, e *types.KnowledgeEntry) error {
	m.ids = append(m.ids, e.DocumentID)
	return errors.New("qdrant: connection refused")
}

type layout struct {
	input, processed, failed, ledger string
}

func newLayout(t *testing.T, files map[string]string) layout {
	t.Helper()
	root := t.TempDir()
	l := layout{
		input:     filepath.Join(root, "input"),
		processed: filepath.Join(root, "processed"),
		failed:    filepath.Join(root, "failed"),
		ledger:    filepath.Join(root, "kb", "enlitens_knowledge_base.jsonl"),
	}
	require.NoError(t, os.MkdirAll(l.input, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(l.input, name), []byte(body), 0o644))
	}
	return l
}

func (l layout) cfg() types.IngestConfig {
	return types.IngestConfig{
		InputDir:     l.input,
		ProcessedDir: l.processed,
		FailedDir:    l.failed,
		LedgerPath:   l.ledger,
		Resume:       true,
	}
}

func fixedClock() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

func newOrchestrator(t *testing.T, proc Processor, cfg types.IngestConfig, opts ...Option) (*Orchestrator, *ledger.Ledger) {
	t.Helper()
	log, _ := test.NewNullLogger()
	led, err := ledger.Open(cfg.LedgerPath, ledger.WithLogger(log))
	require.NoError(t, err)
	o := New(proc, led, cfg, append([]Option{WithLogger(log)}, opts...)...)
	o.now = fixedClock
	return o, led
}

func TestRunRoutesAndSummarizes(t *testing.T) {
	l := newLayout(t, map[string]string{
		"b-good.pdf":  "%PDF good two",
		"a-good.pdf":  "%PDF good one",
		"c-bad.pdf":   "%PDF bad",
		"d-panic.PDF": "%PDF panic",
		"notes.txt":   "ignored",
	})
	proc := &scriptedProcessor{
		fail:  map[string]error{"c-bad.pdf": errors.New("all structural extraction methods failed")},
		panic: map[string]bool{"d-panic.PDF": true},
	}
	mirror := &recordingMirror{}
	o, led := newOrchestrator(t, proc, l.cfg(), WithMirror(mirror))

	var out bytes.Buffer
	res, err := o.Run(context.Background(), &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"a-good.pdf", "b-good.pdf", "c-bad.pdf", "d-panic.PDF"}, proc.seen)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.ExitCode())
	assert.Equal(t, 2, led.Len())
	assert.Len(t, mirror.ids, 2, "mirror errors do not fail the document")

	day := filepath.Join(l.processed, "2026-03-01")
	assert.FileExists(t, filepath.Join(day, "a-good.pdf"))
	assert.FileExists(t, filepath.Join(day, "b-good.pdf"))
	assert.FileExists(t, filepath.Join(l.failed, "2026-03-01", "c-bad.pdf"))
	assert.FileExists(t, filepath.Join(l.failed, "2026-03-01", "d-panic.PDF"))
	assert.FileExists(t, filepath.Join(l.input, "notes.txt"))

	text := out.String()
	assert.Contains(t, text, "failed:  c-bad.pdf (all structural extraction methods failed)")
	assert.Contains(t, text, "failed:  d-panic.PDF (panic: nil extraction)")
	assert.Contains(t, text, "Batch summary: 2 processed, 0 skipped, 2 failed (total: 4)")
}

func TestRunResumeSkipsKnownDocuments(t *testing.T) {
	l := newLayout(t, map[string]string{"paper.pdf": "%PDF same bytes"})
	proc := &scriptedProcessor{}
	o, _ := newOrchestrator(t, proc, l.cfg())
	res, err := o.Run(context.Background(), &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	// The same bytes under a new name are a duplicate by checksum.
	require.NoError(t, os.WriteFile(filepath.Join(l.input, "renamed.pdf"), []byte("%PDF same bytes"), 0o644))
	o, _ = newOrchestrator(t, proc, l.cfg())
	var out bytes.Buffer
	res, err = o.Run(context.Background(), &out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.ExitCode())
	assert.Len(t, proc.seen, 1)
	assert.Contains(t, out.String(), "skipped: renamed.pdf (same checksum as paper-")
	assert.FileExists(t, filepath.Join(l.input, "renamed.pdf"))
}

func TestRunWithoutResumeRefusesDuplicateAppend(t *testing.T) {
	l := newLayout(t, map[string]string{"paper.pdf": "%PDF v1"})
	proc := &scriptedProcessor{}
	o, _ := newOrchestrator(t, proc, l.cfg())
	_, err := o.Run(context.Background(), &bytes.Buffer{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(l.input, "paper.pdf"), []byte("%PDF v1"), 0o644))
	cfg := l.cfg()
	cfg.Resume = false
	mirror := &recordingMirror{}
	o, led := newOrchestrator(t, proc, cfg, WithMirror(mirror))
	res, err := o.Run(context.Background(), &bytes.Buffer{})
	require.NoError(t, err)

	assert.Len(t, proc.seen, 2, "without resume the pipeline runs again")
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, led.Len())
	assert.Len(t, mirror.ids, 1, "mirrors are refreshed")
}

func TestRunWithoutResumeSkipsSameChecksumUnderNewName(t *testing.T) {
	l := newLayout(t, map[string]string{"paper.pdf": "%PDF same bytes"})
	proc := &scriptedProcessor{}
	o, _ := newOrchestrator(t, proc, l.cfg())
	_, err := o.Run(context.Background(), &bytes.Buffer{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(l.input, "renamed.pdf"), []byte("%PDF same bytes"), 0o644))
	cfg := l.cfg()
	cfg.Resume = false
	mirror := &recordingMirror{}
	o, led := newOrchestrator(t, proc, cfg, WithMirror(mirror))
	var out bytes.Buffer
	res, err := o.Run(context.Background(), &out)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, led.Len(), "one ledger line per source checksum")
	assert.Empty(t, mirror.ids, "the renamed copy is not mirrored")
	assert.Contains(t, out.String(), "skipped: renamed.pdf (same checksum as paper-")
	assert.FileExists(t, filepath.Join(l.input, "renamed.pdf"))
}

func TestRunLimitAndCancel(t *testing.T) {
	l := newLayout(t, map[string]string{"1.pdf": "a", "2.pdf": "b", "3.pdf": "c"})
	cfg := l.cfg()
	cfg.Limit = 2
	proc := &scriptedProcessor{}
	o, _ := newOrchestrator(t, proc, cfg)
	res, err := o.Run(context.Background(), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, _ = newOrchestrator(t, proc, l.cfg())
	_, err = o.Run(ctx, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunMissingInputDir(t *testing.T) {
	l := newLayout(t, nil)
	cfg := l.cfg()
	cfg.InputDir = filepath.Join(cfg.InputDir, "missing")
	o, _ := newOrchestrator(t, &scriptedProcessor{}, cfg)
	_, err := o.Run(context.Background(), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRouteCollisionSuffix(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(t.TempDir(), "paper.pdf")
	day := fixedClock()

	for i, want := range []string{"paper.pdf", "paper-1.pdf", "paper-2.pdf"} {
		require.NoError(t, os.WriteFile(src, []byte{byte(i)}, 0o644))
		dest, err := Route(src, base, day)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "2026-03-01", want), dest)
		assert.NoFileExists(t, src)
	}
}

func TestCopyFileRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))
	assert.Error(t, copyFile(src, dst))

	require.NoError(t, os.Remove(dst))
	require.NoError(t, copyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestDocumentID(t *testing.T) {
	sha := "0123456789abcdef"
	assert.Equal(t, "smith-2021-adhd-sleep-01234567", DocumentID("/in/Smith 2021 (ADHD & Sleep).pdf", sha))
	assert.Equal(t, "document-01234567", DocumentID("/in/___.pdf", sha))

	long := strings.Repeat("word-", 40)
	assert.LessOrEqual(t, len(Slug(long)), maxSlug)
	assert.False(t, strings.HasSuffix(Slug(long), "-"))
}

func TestChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	sum, err := Checksum(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

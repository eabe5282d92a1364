// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package diag

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"level":"info","msg":"batch started","time":"2026-03-01T12:00:00Z"}
{"level":"info","msg":"document processed","event":"document_processed","document_id":"a-1","seconds":100,"time":"2026-03-01T12:01:40Z"}
{"level":"error","msg":"document failed","event":"document_failed","document_id":"b-2","error":"inference server unavailable","time":"2026-03-01T12:02:00Z"}
{"level":"warning","msg":"translation failed","document_id":"c-3"}
not json at all
{"level":"error","msg":"document failed","event":"document_failed","document_id":"c-3","error":"inference server unavailable"}
{"level":"info","msg":"document processed","event":"document_processed","document_id":"b-2","seconds":50}
{"level":"info","msg":"duplicate","event":"document_skipped","document_id":"a-1"}
{"level":"error","msg":"ledger write failed"}

`

func TestAnalyze(t *testing.T) {
	rep, err := Analyze(strings.NewReader(sampleLog), 0)
	require.NoError(t, err)

	assert.Equal(t, 9, rep.Lines)
	assert.Equal(t, 1, rep.Unparsed)
	assert.Equal(t, map[string]int{"info": 4, "error": 3, "warning": 1}, rep.Levels)
	assert.Equal(t, []string{"a-1", "b-2"}, rep.Succeeded, "a retried success wins")
	assert.Equal(t, []string{"c-3"}, rep.Failed)
	assert.Equal(t, 1, rep.Skipped)
	assert.InDelta(t, 75.0, rep.MeanSeconds, 0.001)
	require.Len(t, rep.TopErrors, 2)
	assert.Equal(t, ErrorCount{Message: "inference server unavailable", Count: 2}, rep.TopErrors[0])
	assert.Equal(t, "ledger write failed", rep.TopErrors[1].Message)
}

func TestAnalyzeTopLimitAndTruncation(t *testing.T) {
	long := strings.Repeat("e", 300)
	log := `{"level":"error","error":"a"}` + "\n" + `{"level":"error","error":"b"}` + "\n" + `{"level":"error","error":"` + long + `"}` + "\n"
	rep, err := Analyze(strings.NewReader(log), 2)
	require.NoError(t, err)
	require.Len(t, rep.TopErrors, 2)
	assert.Equal(t, "a", rep.TopErrors[0].Message)

	rep, err = Analyze(strings.NewReader(log), 5)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("e", maxErrorLen)+"...", rep.TopErrors[2].Message)
}

func TestAnalyzeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processing.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))
	rep, err := AnalyzeFile(path, 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	rep.Write(&buf)
	out := buf.String()
	assert.Contains(t, out, "documents: 2 succeeded, 1 failed, 1 skipped")
	assert.Contains(t, out, "failed  c-3")
	assert.Contains(t, out, "mean seconds per document: 75.0")
	assert.Contains(t, out, "   2  inference server unavailable")

	_, err = AnalyzeFile(filepath.Join(t.TempDir(), "missing.log"), 3)
	assert.Error(t, err)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// RecoverReport describes what Recover changed.
type RecoverReport struct {
	// TrimmedBytes is the size of a torn final line removed from the ledger.
	TrimmedBytes int64 `json:"trimmed_bytes"`

	// Replayed is true when a complete staged line was appended.
	Replayed bool `json:"replayed"`

	// DiscardedStage is true when an incomplete or already applied .tmp
	// file was removed.
	DiscardedStage bool `json:"discarded_stage"`

	DocumentID string `json:"document_id,omitempty"`
}

// Recover repairs the ledger after an interrupted append. A final line
// without a newline is trimmed. A staged .tmp line is appended once when
// it is complete and not already the ledger's last line, and is then
// removed. Running Recover twice changes nothing the second time.
func Recover(path string) (RecoverReport, error) {
	var rep RecoverReport

	trimmed, last, err := trimTorn(path)
	if err != nil {
		return rep, err
	}
	rep.TrimmedBytes = trimmed

	tmp := path + ".tmp"
	staged, err := os.ReadFile(tmp)
	if errors.Is(err, os.ErrNotExist) {
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("reading staged line: %w", err)
	}

	line := bytes.TrimRight(staged, "\n")
	complete := bytes.HasSuffix(staged, []byte("\n")) && json.Valid(line) && bytes.IndexByte(line, '\n') < 0
	var h Header
	if complete {
		_ = json.Unmarshal(line, &h)
		rep.DocumentID = h.DocumentID
	}

	switch {
	case !complete, bytes.Equal(line, last):
		rep.DiscardedStage = true
	default:
		if err := copyInto(tmp, path); err != nil {
			return rep, err
		}
		rep.Replayed = true
	}
	if err := os.Remove(tmp); err != nil {
		return rep, fmt.Errorf("removing staged line: %w", err)
	}
	return rep, nil
}

// trimTorn truncates path to its last newline and returns the bytes
// removed and the last complete line.
func trimTorn(path string) (int64, []byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, nil, err
	}
	size := info.Size()
	if size == 0 {
		return 0, nil, nil
	}

	// Read backwards in blocks to find the final newline.
	const block = 64 << 10
	end := size
	cut := int64(-1)
	for end > 0 && cut < 0 {
		start := end - block
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
			return 0, nil, err
		}
		if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
			cut = start + int64(i) + 1
		}
		end = start
	}
	if cut < 0 {
		cut = 0
	}

	var trimmed int64
	if cut < size {
		trimmed = size - cut
		if err := f.Truncate(cut); err != nil {
			return 0, nil, fmt.Errorf("trimming torn line: %w", err)
		}
		if err := f.Sync(); err != nil {
			return 0, nil, err
		}
	}

	last, err := lastLine(f, cut)
	if err != nil {
		return trimmed, nil, err
	}
	return trimmed, last, nil
}

// lastLine returns the final complete line of f, whose size is size and
// which ends in a newline.
func lastLine(f *os.File, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	const block = 64 << 10
	var tail []byte
	end := size - 1 // skip the final newline
	for end > 0 {
		start := end - block
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
			return nil, err
		}
		tail = append(buf, tail...)
		if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
			return tail[i+1:], nil
		}
		end = start
	}
	return tail, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger owns the append-only JSONL knowledge base. Each entry is
// one sorted-key JSON line. Appends stage the line in a .tmp sibling,
// fsync it, copy it into the ledger, fsync again and unlink the stage
// file, so a crash leaves either a replayable .tmp or a torn final line
// that Recover trims. A status side file marks the ledger unavailable
// after a write failure.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

var (
	// ErrUnavailable is returned when the status file reports an error.
	ErrUnavailable = errors.New("knowledge base unavailable")

	// ErrDuplicate is returned when appending an id already in the ledger.
	ErrDuplicate = errors.New("document already in ledger")
)

// maxLine bounds one ledger line; entries embed the full verbatim text.
const maxLine = 64 << 20

// Ledger appends knowledge entries and indexes their ids and checksums.
type Ledger struct {
	path   string
	mirror string
	status string
	log    logrus.FieldLogger

	mu        sync.Mutex
	ids       map[string]bool
	checksums map[string]string // sha256 -> document id
	count     int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMirror copies the ledger to path after every append.
func WithMirror(path string) Option { return func(l *Ledger) { l.mirror = path } }

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option { return func(l *Ledger) { l.log = log } }

// Open checks the status file, recovers from an interrupted append and
// indexes the existing entries. A missing ledger is created on first
// append.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		path:      path,
		status:    StatusPath(path),
		log:       logrus.StandardLogger(),
		ids:       map[string]bool{},
		checksums: map[string]string{},
	}
	for _, o := range opts {
		o(l)
	}

	st, err := ReadStatus(l.status)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusOK {
		return nil, fmt.Errorf("%s: %w: %s", path, ErrUnavailable, st.Reason)
	}

	rep, err := Recover(path)
	if err != nil {
		return nil, err
	}
	if rep.TrimmedBytes > 0 || rep.Replayed {
		l.log.WithFields(logrus.Fields{
			"ledger":        path,
			"trimmed_bytes": rep.TrimmedBytes,
			"replayed":      rep.Replayed,
			"document_id":   rep.DocumentID,
		}).Warn("recovered interrupted ledger append")
	}

	err = Scan(path, func(h Header) error {
		l.index(h.DocumentID, h.Checksum())
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Len returns the number of indexed entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Has reports whether documentID is in the ledger.
func (l *Ledger) Has(documentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[documentID]
}

// HasChecksum returns the document id recorded for a source checksum.
func (l *Ledger) HasChecksum(sha256 string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.checksums[sha256]
	return id, ok
}

func (l *Ledger) index(id, sha string) {
	if id == "" {
		return
	}
	if !l.ids[id] {
		l.count++
	}
	l.ids[id] = true
	if sha != "" {
		l.checksums[sha] = id
	}
}

// Append writes entry as one line. It refuses ids already present and
// source checksums already recorded under another id. A failure after
// staging marks the ledger unavailable in the status file.
func (l *Ledger) Append(entry *types.KnowledgeEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ids[entry.DocumentID] {
		return fmt.Errorf("%s: %w", entry.DocumentID, ErrDuplicate)
	}
	if sha := entry.Source.SHA256; sha != "" {
		if prior, ok := l.checksums[sha]; ok {
			return fmt.Errorf("%s: checksum already recorded for %s: %w", entry.DocumentID, prior, ErrDuplicate)
		}
	}
	line, err := Canonical(entry)
	if err != nil {
		return fmt.Errorf("serializing %s: %w", entry.DocumentID, err)
	}
	line = append(line, '\n')

	if err := appendLine(l.path, line); err != nil {
		if serr := l.markError(fmt.Sprintf("append failed: %v", err), []string{entry.DocumentID}); serr != nil {
			l.log.WithError(serr).Error("writing ledger status failed")
		}
		return fmt.Errorf("appending %s: %w", entry.DocumentID, err)
	}
	l.index(entry.DocumentID, entry.Source.SHA256)

	if l.mirror != "" {
		if err := copyFile(l.path, l.mirror); err != nil {
			l.log.WithError(err).WithField("mirror", l.mirror).Warn("ledger mirror copy failed")
		}
	}
	return nil
}

func (l *Ledger) markError(reason string, affected []string) error {
	return WriteStatus(l.status, Status{
		Status:            StatusError,
		Reason:            reason,
		Timestamp:         now().UTC().Format(timeLayout),
		AffectedDocuments: affected,
	})
}

// appendLine stages line in path.tmp, fsyncs it, copies it into path,
// fsyncs path and removes the stage file.
func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeSynced(tmp, line); err != nil {
		return fmt.Errorf("staging line: %w", err)
	}
	if err := copyInto(tmp, path); err != nil {
		return err
	}
	return os.Remove(tmp)
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// copyInto appends the contents of src to dst and fsyncs dst.
func copyInto(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying into ledger: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing ledger: %w", err)
	}
	return out.Close()
}

// copyFile replaces dst with a copy of src through a tmp file and rename.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// Canonical serializes v as compact JSON with object keys sorted at every
// level.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Header holds the identity fields of a ledger line.
type Header struct {
	DocumentID string `json:"document_id"`
	Source     struct {
		SHA256 string `json:"sha256"`
	} `json:"source"`
	Metadata struct {
		Checksum string `json:"checksum"`
	} `json:"metadata"`
}

// Checksum returns the source checksum, falling back to metadata.
func (h Header) Checksum() string {
	if h.Source.SHA256 != "" {
		return h.Source.SHA256
	}
	return h.Metadata.Checksum
}

// Scan calls fn with the header of every complete line. Blank and
// unparsable lines are skipped.
func Scan(path string, fn func(Header) error) error {
	return eachLine(path, func(line []byte) error {
		var h Header
		if json.Unmarshal(line, &h) != nil {
			return nil
		}
		return fn(h)
	})
}

// ReadAll decodes every entry in the ledger at path.
func ReadAll(path string) ([]types.KnowledgeEntry, error) {
	var out []types.KnowledgeEntry
	err := eachLine(path, func(line []byte) error {
		var e types.KnowledgeEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// Each decodes entries one at a time.
func Each(path string, fn func(*types.KnowledgeEntry) error) error {
	return eachLine(path, func(line []byte) error {
		var e types.KnowledgeEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		return fn(&e)
	})
}

func eachLine(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), maxLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

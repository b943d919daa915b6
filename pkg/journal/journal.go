package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultMaxFileSize is the size at which the journal rolls to a new file (64MB)
const DefaultMaxFileSize = 64 << 20

// Journal is an append-only, rotating record log.
// Unlike a WAL, old files are never removed: they are the audit trail.
type Journal struct {
	// Path is the base path for journal files (e.g. "/data/audit.journal")
	Path string

	// MaxFileSize overrides DefaultMaxFileSize when positive
	MaxFileSize int64

	// SyncWrites fsyncs after every append
	SyncWrites bool

	mu        sync.Mutex
	fd        *os.File
	seq       uint64
	fileSize  int64
	fileIndex int
	closed    bool
	now       func() time.Time
}

// Open opens or creates the journal, trimming a torn final record if present
func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.now == nil {
		j.now = func() time.Time { return time.Now().UTC() }
	}
	if err := os.MkdirAll(filepath.Dir(j.Path), 0750); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	files, err := j.findFiles()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return j.openFileNoLock(0)
	}

	var maxSeq uint64
	for i, file := range files {
		seq, validEnd, err := scanFile(file)
		if err != nil {
			return err
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		if i == len(files)-1 {
			if err := os.Truncate(file, validEnd); err != nil {
				return fmt.Errorf("trim journal tail: %w", err)
			}
		}
	}
	j.seq = maxSeq

	latest := files[len(files)-1]
	idx, ok := j.fileIndexOf(filepath.Base(latest))
	if !ok {
		idx = 0
	}
	return j.openFileNoLock(idx)
}

func (j *Journal) openFileNoLock(index int) error {
	fd, err := os.OpenFile(j.filePath(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return err
	}
	j.fd = fd
	j.fileIndex = index
	j.fileSize = stat.Size()
	j.closed = false
	return nil
}

// Append writes one record with a JSON payload and returns it
func (j *Journal) Append(kind Kind, budgetID string, payload any) (*Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("journal: encode payload: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.fd == nil {
		return nil, ErrClosed
	}

	rec := &Record{
		Seq:       j.seq + 1,
		Kind:      kind,
		BudgetID:  budgetID,
		Payload:   data,
		Timestamp: j.now(),
	}
	buf := rec.Encode()

	if j.fileSize > 0 && j.fileSize+int64(len(buf)) > j.maxFileSize() {
		if err := j.rotateNoLock(); err != nil {
			return nil, err
		}
	}

	n, err := j.fd.Write(buf)
	j.fileSize += int64(n)
	if err != nil {
		return nil, err
	}
	if j.SyncWrites {
		if err := j.fd.Sync(); err != nil {
			return nil, err
		}
	}
	j.seq = rec.Seq
	return rec, nil
}

// Sync flushes written records to disk
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.fd == nil {
		return ErrClosed
	}
	return j.fd.Sync()
}

// Close closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.fd == nil {
		return nil
	}
	err := j.fd.Close()
	j.closed = true
	return err
}

// LastSeq returns the sequence number of the newest record
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// History returns a budget's records in append order, optionally restricted
// to some kinds
func (j *Journal) History(budgetID string, kinds ...Kind) ([]*Record, error) {
	j.mu.Lock()
	if j.closed || j.fd == nil {
		j.mu.Unlock()
		return nil, ErrClosed
	}
	files, err := j.findFiles()
	j.mu.Unlock()
	if err != nil {
		return nil, err
	}

	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	out := []*Record{}
	r := NewReader(files)
	defer r.Close()
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rec.BudgetID != budgetID {
			continue
		}
		if len(want) > 0 && !want[rec.Kind] {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (j *Journal) maxFileSize() int64 {
	if j.MaxFileSize > 0 {
		return j.MaxFileSize
	}
	return DefaultMaxFileSize
}

// rotateNoLock moves to the next file (caller must hold mu)
func (j *Journal) rotateNoLock() error {
	if err := j.fd.Sync(); err != nil {
		return err
	}
	if err := j.fd.Close(); err != nil {
		return err
	}
	return j.openFileNoLock(j.fileIndex + 1)
}

func (j *Journal) baseName() string {
	return filepath.Base(j.Path)
}

func (j *Journal) filePath(index int) string {
	return filepath.Join(filepath.Dir(j.Path), fmt.Sprintf("%s.%03d", j.baseName(), index))
}

func (j *Journal) fileIndexOf(name string) (int, bool) {
	var index int
	if _, err := fmt.Sscanf(name, j.baseName()+".%d", &index); err != nil {
		return 0, false
	}
	return index, true
}

// findFiles returns the journal's files sorted by index
func (j *Journal) findFiles() ([]string, error) {
	dir := filepath.Dir(j.Path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type indexed struct {
		path  string
		index int
	}
	var found []indexed
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := j.fileIndexOf(e.Name()); ok {
			found = append(found, indexed{filepath.Join(dir, e.Name()), idx})
		}
	}
	sort.Slice(found, func(a, b int) bool { return found[a].index < found[b].index })

	files := make([]string, len(found))
	for i, f := range found {
		files[i] = f.path
	}
	return files, nil
}

// scanFile returns the highest sequence number in a file and the offset just
// past its last intact record
func scanFile(path string) (maxSeq uint64, validEnd int64, err error) {
	fd, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer fd.Close()

	for {
		rec, n, err := readRecord(fd)
		if err == io.EOF || err == ErrTruncated {
			return maxSeq, validEnd, nil
		}
		if err == ErrCorrupted && n > 0 {
			validEnd += n
			continue
		}
		if err != nil {
			// Unreadable lengths: nothing after this point can be framed
			return maxSeq, validEnd, nil
		}
		validEnd += n
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
	}
}

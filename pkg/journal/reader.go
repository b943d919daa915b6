package journal

import (
	"errors"
	"io"
	"os"
)

// Reader iterates records across journal files in order.
// Records failing their checksum are skipped; a torn tail ends the file.
type Reader struct {
	files   []string
	current int
	fd      *os.File
	skipped int
}

// NewReader creates a reader over files sorted oldest first
func NewReader(files []string) *Reader {
	return &Reader{files: files, current: -1}
}

// Next returns the next intact record or io.EOF
func (r *Reader) Next() (*Record, error) {
	for {
		if r.fd == nil {
			if err := r.nextFile(); err != nil {
				return nil, err
			}
		}

		rec, n, err := readRecord(r.fd)
		switch {
		case err == nil:
			return rec, nil
		case err == ErrCorrupted && n > 0:
			r.skipped++
			continue
		case err == io.EOF || err == ErrTruncated || err == ErrCorrupted:
			r.fd.Close()
			r.fd = nil
			continue
		default:
			return nil, err
		}
	}
}

// Skipped returns how many corrupted records were passed over
func (r *Reader) Skipped() int {
	return r.skipped
}

func (r *Reader) nextFile() error {
	r.current++
	if r.current >= len(r.files) {
		return io.EOF
	}
	fd, err := os.Open(r.files[r.current])
	if err != nil {
		return err
	}
	r.fd = fd
	return nil
}

// Close closes the reader
func (r *Reader) Close() error {
	if r.fd != nil {
		err := r.fd.Close()
		r.fd = nil
		return err
	}
	return nil
}

// ReadAll reads every intact record from files
func ReadAll(files []string) ([]*Record, error) {
	r := NewReader(files)
	defer r.Close()

	var out []*Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// readRecord reads one framed record. n is the number of bytes the record
// occupies when its header could be read, so callers can step over it.
func readRecord(rd io.Reader) (*Record, int64, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(rd, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, ErrTruncated
		}
		return nil, 0, err
	}

	body, err := bodyLen(header)
	if err != nil {
		return nil, 0, err
	}
	data := make([]byte, HeaderSize+body)
	copy(data, header)
	if _, err := io.ReadFull(rd, data[HeaderSize:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, 0, ErrTruncated
		}
		return nil, 0, err
	}

	rec, err := DecodeRecord(data)
	return rec, int64(len(data)), err
}

package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"
)

// Kind classifies a journal record
type Kind byte

const (
	KindVersion        Kind = 1
	KindReconstruction Kind = 2
	KindMerge          Kind = 3
	KindSession        Kind = 4
	KindTransition     Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindVersion:
		return "version"
	case KindReconstruction:
		return "reconstruction"
	case KindMerge:
		return "merge"
	case KindSession:
		return "session"
	case KindTransition:
		return "transition"
	}
	return "unknown"
}

const (
	// HeaderSize is the fixed size of the record header
	// Layout: Seq(8) + Kind(1) + Reserved(3) + BudgetLen(4) + PayloadLen(4) + Timestamp(8)
	HeaderSize = 28

	// maxFieldLen bounds lengths read from disk so a damaged header cannot
	// trigger a huge allocation
	maxFieldLen = 64 << 20
)

// Record is one journal entry. Payload holds JSON.
type Record struct {
	Seq       uint64
	Kind      Kind
	BudgetID  string
	Payload   []byte
	Timestamp time.Time
}

// Encode serializes the record with a trailing CRC32
// Format: [Header(28)] [BudgetID] [Payload] [CRC32(4)]
func (r *Record) Encode() []byte {
	budgetLen := len(r.BudgetID)
	payloadLen := len(r.Payload)
	buf := make([]byte, r.Size())

	binary.LittleEndian.PutUint64(buf[0:8], r.Seq)
	buf[8] = byte(r.Kind)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(budgetLen))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(payloadLen))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(r.Timestamp.UnixNano()))

	offset := HeaderSize
	copy(buf[offset:], r.BudgetID)
	offset += budgetLen
	copy(buf[offset:], r.Payload)
	offset += payloadLen

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:], crc)
	return buf
}

// bodyLen returns the bytes that follow a header, CRC included
func bodyLen(header []byte) (int, error) {
	budgetLen := binary.LittleEndian.Uint32(header[12:16])
	payloadLen := binary.LittleEndian.Uint32(header[16:20])
	if budgetLen > maxFieldLen || payloadLen > maxFieldLen {
		return 0, ErrCorrupted
	}
	return int(budgetLen) + int(payloadLen) + 4, nil
}

// DecodeRecord deserializes a record, verifying its checksum
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < HeaderSize+4 {
		return nil, ErrTruncated
	}
	n, err := bodyLen(data[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if len(data) < HeaderSize+n {
		return nil, ErrTruncated
	}
	data = data[:HeaderSize+n]

	end := len(data) - 4
	if binary.LittleEndian.Uint32(data[end:]) != crc32.ChecksumIEEE(data[:end]) {
		return nil, ErrCorrupted
	}

	budgetLen := int(binary.LittleEndian.Uint32(data[12:16]))
	r := &Record{
		Seq:       binary.LittleEndian.Uint64(data[0:8]),
		Kind:      Kind(data[8]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[20:28]))).UTC(),
		BudgetID:  string(data[HeaderSize : HeaderSize+budgetLen]),
	}
	if payload := data[HeaderSize+budgetLen : end]; len(payload) > 0 {
		r.Payload = append([]byte(nil), payload...)
	}
	return r, nil
}

// Size returns the encoded size of the record
func (r *Record) Size() int {
	return HeaderSize + len(r.BudgetID) + len(r.Payload) + 4
}

// Decode unmarshals the JSON payload into v
func (r *Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("journal: decode %s record %d: %w", r.Kind, r.Seq, err)
	}
	return nil
}

func (r *Record) String() string {
	return fmt.Sprintf("Journal[Seq=%d Kind=%s Budget=%s PayloadLen=%d]", r.Seq, r.Kind, r.BudgetID, len(r.Payload))
}

package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type reconstructionEvent struct {
	Strategy string `json:"strategy"`
	Version  string `json:"version"`
}

func setupTestJournal(t *testing.T) (*Journal, string) {
	dir := t.TempDir()
	j := &Journal{Path: filepath.Join(dir, "audit.journal")}
	if err := j.Open(); err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	return j, dir
}

func TestRecordEncodeDecode(t *testing.T) {
	rec := &Record{
		Seq:       42,
		Kind:      KindMerge,
		BudgetID:  "B1",
		Payload:   []byte(`{"strategy":"ours"}`),
		Timestamp: time.Date(2026, 5, 1, 10, 30, 0, 123456789, time.UTC),
	}

	decoded, err := DecodeRecord(rec.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Seq != 42 || decoded.Kind != KindMerge || decoded.BudgetID != "B1" {
		t.Errorf("Header mismatch: %s", decoded)
	}
	if string(decoded.Payload) != string(rec.Payload) {
		t.Errorf("Payload mismatch: got %s", decoded.Payload)
	}
	if !decoded.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("Expected nanosecond timestamp %v, got %v", rec.Timestamp, decoded.Timestamp)
	}
}

func TestRecordDetectsCorruption(t *testing.T) {
	rec := &Record{Seq: 1, Kind: KindSession, BudgetID: "B1", Payload: []byte(`{}`)}
	data := rec.Encode()

	data[HeaderSize] ^= 0xFF
	if _, err := DecodeRecord(data); err != ErrCorrupted {
		t.Errorf("Expected ErrCorrupted, got %v", err)
	}
	if _, err := DecodeRecord(data[:HeaderSize+1]); err != ErrTruncated {
		t.Errorf("Expected ErrTruncated, got %v", err)
	}
}

func TestAppendAndHistory(t *testing.T) {
	j, _ := setupTestJournal(t)
	defer j.Close()

	events := []struct {
		kind   Kind
		budget string
	}{
		{KindReconstruction, "B1"},
		{KindSession, "B1"},
		{KindReconstruction, "B2"},
		{KindReconstruction, "B1"},
		{KindMerge, "B1"},
	}
	for i, e := range events {
		rec, err := j.Append(e.kind, e.budget, reconstructionEvent{Strategy: "preserve_margin", Version: e.budget})
		if err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if rec.Seq != uint64(i+1) {
			t.Errorf("Expected seq %d, got %d", i+1, rec.Seq)
		}
	}

	all, err := j.History("B1")
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 records for B1, got %d", len(all))
	}

	recon, _ := j.History("B1", KindReconstruction)
	if len(recon) != 2 || recon[0].Seq != 1 || recon[1].Seq != 4 {
		t.Errorf("Expected reconstruction records 1 and 4, got %v", recon)
	}

	var ev reconstructionEvent
	if err := recon[0].Decode(&ev); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if ev.Strategy != "preserve_margin" {
		t.Errorf("Expected preserve_margin, got %s", ev.Strategy)
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	j, dir := setupTestJournal(t)
	for i := 0; i < 3; i++ {
		if _, err := j.Append(KindVersion, "B1", map[string]int{"n": i}); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}
	j.Close()

	if _, err := j.Append(KindVersion, "B1", nil); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	j2 := &Journal{Path: filepath.Join(dir, "audit.journal")}
	if err := j2.Open(); err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer j2.Close()

	if j2.LastSeq() != 3 {
		t.Errorf("Expected last seq 3, got %d", j2.LastSeq())
	}
	rec, err := j2.Append(KindVersion, "B1", nil)
	if err != nil {
		t.Fatalf("Failed to append after reopen: %v", err)
	}
	if rec.Seq != 4 {
		t.Errorf("Expected seq 4, got %d", rec.Seq)
	}
}

func TestTornTailIsTrimmed(t *testing.T) {
	j, dir := setupTestJournal(t)
	j.Append(KindVersion, "B1", map[string]string{"a": "b"})
	j.Append(KindVersion, "B1", map[string]string{"c": "d"})
	j.Close()

	// Simulate a crash halfway through a third write
	path := filepath.Join(dir, "audit.journal.000")
	partial := (&Record{Seq: 3, Kind: KindVersion, BudgetID: "B1", Payload: []byte(`{"e":"f"}`)}).Encode()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		t.Fatalf("Failed to open journal file: %v", err)
	}
	f.Write(partial[:len(partial)/2])
	f.Close()

	j2 := &Journal{Path: filepath.Join(dir, "audit.journal")}
	if err := j2.Open(); err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer j2.Close()

	if j2.LastSeq() != 2 {
		t.Errorf("Expected last seq 2, got %d", j2.LastSeq())
	}
	j2.Append(KindVersion, "B1", map[string]string{"g": "h"})

	recs, err := j2.History("B1")
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(recs) != 3 || recs[2].Seq != 3 {
		t.Errorf("Expected 3 clean records after trim, got %d", len(recs))
	}
}

func TestRotationKeepsAllFiles(t *testing.T) {
	dir := t.TempDir()
	j := &Journal{Path: filepath.Join(dir, "audit.journal"), MaxFileSize: 256}
	if err := j.Open(); err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer j.Close()

	for i := 0; i < 20; i++ {
		if _, err := j.Append(KindReconstruction, "B1", reconstructionEvent{Strategy: "best_alternative", Version: "B1_v1"}); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(dir, "audit.journal.*"))
	if len(files) < 2 {
		t.Fatalf("Expected rotation to create several files, got %d", len(files))
	}

	recs, err := j.History("B1")
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(recs) != 20 {
		t.Errorf("Expected all 20 records across files, got %d", len(recs))
	}
	for i, r := range recs {
		if r.Seq != uint64(i+1) {
			t.Errorf("Expected seq %d at %d, got %d", i+1, i, r.Seq)
		}
	}
}

func TestReaderSkipsCorruptedRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.journal.000")

	var data []byte
	for i := 1; i <= 3; i++ {
		data = append(data, (&Record{Seq: uint64(i), Kind: KindSession, BudgetID: "B1", Payload: []byte(`{}`)}).Encode()...)
	}
	size := len(data) / 3
	data[size+HeaderSize] ^= 0xFF // damage the budget id of record 2
	if err := os.WriteFile(path, data, 0640); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	r := NewReader([]string{path})
	defer r.Close()
	var seqs []uint64
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		seqs = append(seqs, rec.Seq)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 3 {
		t.Errorf("Expected records 1 and 3, got %v", seqs)
	}
	if r.Skipped() != 1 {
		t.Errorf("Expected 1 skipped record, got %d", r.Skipped())
	}
}

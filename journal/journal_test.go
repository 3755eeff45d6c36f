package journal

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run.zst")

	w, err := Create(path, Options{Level: 3, Host: 42})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer w.Close()

	if w.Path() != path {
		t.Errorf("Path = %s, want %s", w.Path(), path)
	}
	if w.EntryCount() != 0 {
		t.Errorf("EntryCount = %d, want 0", w.EntryCount())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("journal file missing: %v", err)
	}
}

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.zst")
	before := time.Now().Add(-time.Second)

	w, err := Create(path, Options{Level: 2, Host: 0xfeedface, DryRun: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err = w.Append(&Entry{
		Kind:  KindRow,
		Table: "wp_options",
		Key:   map[string]string{"option_id": "7"},
		Old:   map[string]string{"option_value": `a:1:{s:3:"url";s:18:"http://old.example";}`},
		New:   map[string]string{"option_value": `a:1:{s:3:"url";s:18:"http://new.example";}`},
	})
	if err != nil {
		t.Fatalf("Append row failed: %v", err)
	}

	err = w.Append(&Entry{
		Kind:    KindBulk,
		Table:   "wp_posts",
		Find:    "old.example",
		Replace: "new.example",
		Rows:    12,
	})
	if err != nil {
		t.Fatalf("Append bulk failed: %v", err)
	}

	if w.EntryCount() != 2 {
		t.Errorf("EntryCount = %d, want 2", w.EntryCount())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	h := r.Header()
	if h.Host != 0xfeedface {
		t.Errorf("Host = %x, want feedface", h.Host)
	}
	if !h.DryRun() {
		t.Error("expected dry run flag")
	}
	if h.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, too early", h.CreatedAt)
	}

	entries, err := r.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	row := entries[0]
	if row.Seq != 1 || row.Kind != KindRow || row.Table != "wp_options" {
		t.Errorf("unexpected row entry: %+v", row)
	}
	if row.Key["option_id"] != "7" {
		t.Errorf("Key = %v", row.Key)
	}
	if !strings.Contains(row.New["option_value"], "new.example") {
		t.Errorf("New = %v", row.New)
	}

	bulk := entries[1]
	if bulk.Seq != 2 || bulk.Kind != KindBulk || bulk.Rows != 12 || bulk.Find != "old.example" {
		t.Errorf("unexpected bulk entry: %+v", bulk)
	}
	if bulk.Key != nil || bulk.Old != nil {
		t.Errorf("bulk entry should not carry row data: %+v", bulk)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after end = %v, want io.EOF", err)
	}
}

func TestEmptyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.zst")

	w, err := Create(path, Options{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if r.Header().DryRun() {
		t.Error("unexpected dry run flag")
	}
	entries, err := r.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestManyEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "many.zst")

	w, err := Create(path, Options{Level: 1})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	big := strings.Repeat("x", 100*1024)
	for i := 0; i < 200; i++ {
		err := w.Append(&Entry{
			Table: "t",
			Key:   map[string]string{"id": string(rune('a' + i%26))},
			New:   map[string]string{"body": big},
		})
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if i == 100 {
			if err := w.Flush(); err != nil {
				t.Fatalf("Flush failed: %v", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	entries, err := r.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 200 {
		t.Fatalf("got %d entries, want 200", len(entries))
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
		if len(e.New["body"]) != len(big) {
			t.Fatalf("entry %d body truncated", i)
		}
	}
}

func TestAppendAfterClose(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "closed.zst"), Options{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Close()

	if err := w.Append(&Entry{Table: "t"}); !errors.Is(err, ErrJournalClosed) {
		t.Errorf("Append after close = %v, want ErrJournalClosed", err)
	}
	if err := w.Flush(); !errors.Is(err, ErrJournalClosed) {
		t.Errorf("Flush after close = %v, want ErrJournalClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestOpen_InvalidMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zst")
	if err := os.WriteFile(path, make([]byte, HeaderSize), 0640); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Open = %v, want ErrInvalidMagic", err)
	}
}

func TestOpen_VersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.zst")
	header := make([]byte, HeaderSize)
	copy(header, Magic)
	binary.LittleEndian.PutUint16(header[4:6], Version+1)
	if err := os.WriteFile(path, header, 0640); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Open = %v, want ErrVersionMismatch", err)
	}
}

func TestOpen_TruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.zst")
	if err := os.WriteFile(path, []byte(Magic), 0640); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); err == nil {
		t.Error("expected error for truncated header")
	}
}

// Package journal records every change a run makes (or would make, in dry
// run) so it can be audited or reverted by hand.
//
// File layout: a fixed header followed by a single zstd stream of frames.
// Each frame is [len u32][msgpack entry][xxhash64 of entry].
package journal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Magic bytes for file identification
	Magic = "DBRJ"
	// Current format version
	Version uint16 = 1
	// Header size in bytes
	HeaderSize = 24

	// Entry kinds
	KindRow  uint8 = 0
	KindBulk uint8 = 1

	// Header flags
	FlagDryRun uint16 = 1 << 0

	maxFrameSize = 256 * 1024 * 1024
)

var (
	ErrInvalidMagic    = errors.New("invalid magic bytes")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrChecksumFailed  = errors.New("checksum verification failed")
	ErrJournalClosed   = errors.New("journal is closed")
)

// Entry is one recorded change. Row entries carry the primary key and the
// before/after values of the columns that changed; bulk entries carry the
// statement's pair and affected row count.
type Entry struct {
	Seq     uint64            `msgpack:"seq"`
	Kind    uint8             `msgpack:"kind"`
	Table   string            `msgpack:"table"`
	Key     map[string]string `msgpack:"key,omitempty"`
	Old     map[string]string `msgpack:"old,omitempty"`
	New     map[string]string `msgpack:"new,omitempty"`
	Find    string            `msgpack:"find,omitempty"`
	Replace string            `msgpack:"replace,omitempty"`
	Rows    int64             `msgpack:"rows,omitempty"`
}

// Header is the decoded file header
type Header struct {
	Version   uint16
	Flags     uint16
	Host      uint64
	CreatedAt time.Time
}

// DryRun reports whether the journal was written by a dry run
func (h Header) DryRun() bool {
	return h.Flags&FlagDryRun != 0
}

// Options for a new journal
type Options struct {
	// Level is the zstd encoder level, 1 (fastest) to 4 (best)
	Level  int
	Host   uint64
	DryRun bool
}

// Writer appends entries to a journal file
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	zw     *zstd.Encoder
	frame  bytes.Buffer
	enc    *msgpack.Encoder
	header Header
	seq    uint64
	closed bool
	path   string
}

// Create creates (or truncates) a journal at path
func Create(path string, opts Options) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, fmt.Errorf("create journal file: %w", err)
	}

	level := opts.Level
	if level < int(zstd.SpeedFastest) || level > int(zstd.SpeedBestCompression) {
		level = int(zstd.SpeedDefault)
	}

	w := &Writer{
		file: file,
		buf:  bufio.NewWriterSize(file, 64*1024), // 64KB buffer
		header: Header{
			Version:   Version,
			Host:      opts.Host,
			CreatedAt: time.Now(),
		},
		path: path,
	}
	if opts.DryRun {
		w.header.Flags |= FlagDryRun
	}
	w.enc = msgpack.NewEncoder(&w.frame)

	if err := w.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}

	w.zw, err = zstd.NewWriter(w.buf,
		zstd.WithEncoderLevel(zstd.EncoderLevel(level)),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}

	return w, nil
}

func (w *Writer) writeHeader() error {
	header := make([]byte, HeaderSize)
	copy(header[0:4], Magic)
	binary.LittleEndian.PutUint16(header[4:6], w.header.Version)
	binary.LittleEndian.PutUint16(header[6:8], w.header.Flags)
	binary.LittleEndian.PutUint64(header[8:16], w.header.Host)
	binary.LittleEndian.PutUint64(header[16:24], uint64(w.header.CreatedAt.UnixNano()))

	_, err := w.buf.Write(header)
	return err
}

// Append writes an entry, assigning its sequence number
func (w *Writer) Append(e *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrJournalClosed
	}

	w.seq++
	e.Seq = w.seq

	w.frame.Reset()
	w.frame.Write(make([]byte, 4))
	if err := w.enc.Encode(e); err != nil {
		w.seq--
		return fmt.Errorf("encode entry: %w", err)
	}

	data := w.frame.Bytes()
	payload := data[4:]
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(payload)))

	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(payload))
	w.frame.Write(sum[:])

	_, err := w.zw.Write(w.frame.Bytes())
	return err
}

// Flush pushes buffered frames through the compressor to disk
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrJournalClosed
	}

	if err := w.zw.Flush(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close finishes the zstd stream and closes the file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	if err := w.zw.Close(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Path returns the journal file path
func (w *Writer) Path() string {
	return w.path
}

// EntryCount returns the number of entries written
func (w *Writer) EntryCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Reader provides sequential access to journal entries
type Reader struct {
	file   *os.File
	zr     *zstd.Decoder
	header Header
	closed bool
}

// Open opens an existing journal for reading
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	br := bufio.NewReaderSize(file, 64*1024)
	r := &Reader{file: file}

	if err := r.readHeader(br); err != nil {
		file.Close()
		return nil, err
	}

	r.zr, err = zstd.NewReader(br)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}

	return r, nil
}

func (r *Reader) readHeader(br io.Reader) error {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	if string(header[0:4]) != Magic {
		return ErrInvalidMagic
	}

	version := binary.LittleEndian.Uint16(header[4:6])
	if version != Version {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, version, Version)
	}

	r.header = Header{
		Version:   version,
		Flags:     binary.LittleEndian.Uint16(header[6:8]),
		Host:      binary.LittleEndian.Uint64(header[8:16]),
		CreatedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))),
	}
	return nil
}

// Header returns the decoded file header
func (r *Reader) Header() Header {
	return r.header
}

// Next reads the next entry. It returns io.EOF after the last one.
func (r *Reader) Next() (*Entry, error) {
	if r.closed {
		return nil, ErrJournalClosed
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r.zr, lenBuf); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read entry length: %w", err)
	}

	frameLen := binary.LittleEndian.Uint32(lenBuf)
	if frameLen == 0 || frameLen > maxFrameSize {
		return nil, fmt.Errorf("invalid entry length %d", frameLen)
	}

	data := make([]byte, int(frameLen)+8)
	if _, err := io.ReadFull(r.zr, data); err != nil {
		return nil, fmt.Errorf("read entry data: %w", err)
	}

	payload := data[:frameLen]
	if binary.LittleEndian.Uint64(data[frameLen:]) != xxhash.Sum64(payload) {
		return nil, ErrChecksumFailed
	}

	e := &Entry{}
	if err := msgpack.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return e, nil
}

// Entries reads all remaining entries
func (r *Reader) Entries() ([]*Entry, error) {
	var entries []*Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.zr.Close()
	return r.file.Close()
}

package storage

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

const writeBufferSize = 256 * 1024

// WriteStats describes a committed output stream.
// Bytes and Digest cover the uncompressed lines.
type WriteStats struct {
	Records int64
	Bytes   int64
	Digest  string
}

// RecordWriter streams payloads, each followed by a newline.
type RecordWriter interface {
	WriteRecord(payload []byte) error
	Commit() (WriteStats, error)
	Abort() error
}

// Sink is an output destination opened once per merge.
type Sink interface {
	Open() (RecordWriter, error)
}

// lineWriter is the shared newline framing, counting and digest logic.
type lineWriter struct {
	w       *bufio.Writer
	h       hash.Hash
	records int64
	bytes   int64
}

func newLineWriter(dst io.Writer) *lineWriter {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only fails for oversized keys.
		panic(err)
	}
	return &lineWriter{
		w: bufio.NewWriterSize(io.MultiWriter(dst, h), writeBufferSize),
		h: h,
	}
}

func (lw *lineWriter) WriteRecord(payload []byte) error {
	if _, err := lw.w.Write(payload); err != nil {
		return err
	}
	if err := lw.w.WriteByte('\n'); err != nil {
		return err
	}
	lw.records++
	lw.bytes += int64(len(payload)) + 1
	return nil
}

func (lw *lineWriter) flush() (WriteStats, error) {
	if err := lw.w.Flush(); err != nil {
		return WriteStats{}, err
	}
	return WriteStats{
		Records: lw.records,
		Bytes:   lw.bytes,
		Digest:  hex.EncodeToString(lw.h.Sum(nil)),
	}, nil
}

// FileSink writes the merged log to Path, truncating it.
// A failed or aborted write removes the partial file.
type FileSink struct {
	Path     string
	Compress bool
	Perm     os.FileMode
}

func (s FileSink) Open() (RecordWriter, error) {
	perm := s.Perm
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("create output %s: %w", s.Path, err)
	}

	fw := &fileWriter{path: s.Path, file: f}
	var dst io.Writer = f
	if s.Compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			os.Remove(s.Path)
			return nil, fmt.Errorf("create zstd output %s: %w", s.Path, err)
		}
		fw.enc = enc
		dst = enc
	}
	fw.lineWriter = newLineWriter(dst)
	return fw, nil
}

type fileWriter struct {
	*lineWriter
	path string
	file *os.File
	enc  *zstd.Encoder
}

func (fw *fileWriter) WriteRecord(payload []byte) error {
	if err := fw.lineWriter.WriteRecord(payload); err != nil {
		return fmt.Errorf("write output %s: %w", fw.path, err)
	}
	return nil
}

func (fw *fileWriter) Commit() (WriteStats, error) {
	stats, err := fw.flush()
	if err == nil && fw.enc != nil {
		err = fw.enc.Close()
	}
	if err == nil {
		err = fw.file.Sync()
	}
	if cerr := fw.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fw.path)
		return WriteStats{}, fmt.Errorf("commit output %s: %w", fw.path, err)
	}
	return stats, nil
}

func (fw *fileWriter) Abort() error {
	if fw.enc != nil {
		fw.enc.Close()
	}
	fw.file.Close()
	if err := os.Remove(fw.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// BufferSink collects the merged log in memory.
type BufferSink struct {
	buf bytes.Buffer
}

func (s *BufferSink) Open() (RecordWriter, error) {
	s.buf.Reset()
	return &bufferWriter{lineWriter: newLineWriter(&s.buf), sink: s}, nil
}

// Bytes returns the committed output.
func (s *BufferSink) Bytes() []byte {
	return s.buf.Bytes()
}

type bufferWriter struct {
	*lineWriter
	sink *BufferSink
}

func (bw *bufferWriter) Commit() (WriteStats, error) {
	return bw.flush()
}

func (bw *bufferWriter) Abort() error {
	bw.sink.buf.Reset()
	return nil
}

// WriterSink streams the merged log to an arbitrary writer, such as stdout.
// With Hold set nothing reaches W until Commit, so an aborted merge writes
// nothing; otherwise Abort cannot retract bytes already written.
type WriterSink struct {
	W    io.Writer
	Hold bool
}

func (s WriterSink) Open() (RecordWriter, error) {
	if !s.Hold {
		return &streamWriter{lineWriter: newLineWriter(s.W)}, nil
	}
	held := new(bytes.Buffer)
	return &streamWriter{lineWriter: newLineWriter(held), dst: s.W, held: held}, nil
}

type streamWriter struct {
	*lineWriter
	dst  io.Writer
	held *bytes.Buffer
}

func (sw *streamWriter) Commit() (WriteStats, error) {
	stats, err := sw.flush()
	if err != nil || sw.held == nil {
		return stats, err
	}
	if _, err := sw.held.WriteTo(sw.dst); err != nil {
		return WriteStats{}, fmt.Errorf("write held output: %w", err)
	}
	return stats, nil
}

func (sw *streamWriter) Abort() error {
	if sw.held != nil {
		sw.held.Reset()
	}
	return nil
}

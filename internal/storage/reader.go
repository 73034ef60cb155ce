package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic opens every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

const readBufferSize = 256 * 1024

// LineIterator yields the raw lines of a shard.
type LineIterator interface {
	Next() bool
	Line() []byte
	Error() error
	Close() error
}

// ShardIterator reads a shard file line by line without loading it whole.
// zstd-compressed shards are decoded transparently.
type ShardIterator struct {
	path string
	file *os.File
	dec  *zstd.Decoder
	r    *bufio.Reader

	buf  []byte
	line []byte
	err  error
	done bool
}

var _ LineIterator = (*ShardIterator)(nil)

// OpenShard opens path read-only for streaming.
func OpenShard(path string) (*ShardIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}

	it := &ShardIterator{path: path, file: f}
	br := bufio.NewReaderSize(f, readBufferSize)

	head, err := br.Peek(len(zstdMagic))
	switch {
	case err == nil && bytes.Equal(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open zstd shard %s: %w", path, err)
		}
		it.dec = dec
		it.r = bufio.NewReaderSize(dec, readBufferSize)
	case err == nil || errors.Is(err, io.EOF) || errors.Is(err, bufio.ErrBufferFull):
		// Short files are plain text.
		it.r = br
	default:
		f.Close()
		return nil, fmt.Errorf("read shard %s: %w", path, err)
	}
	return it, nil
}

// Path returns the shard path.
func (it *ShardIterator) Path() string {
	return it.path
}

// Next advances to the next line. The final line need not end in '\n'.
func (it *ShardIterator) Next() bool {
	if it.done {
		return false
	}

	it.buf = it.buf[:0]
	for {
		chunk, err := it.r.ReadSlice('\n')
		it.buf = append(it.buf, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		it.done = true
		if !errors.Is(err, io.EOF) {
			it.err = fmt.Errorf("read shard %s: %w", it.path, err)
			return false
		}
		if len(it.buf) == 0 {
			return false
		}
		break
	}

	it.line = bytes.TrimSuffix(it.buf, []byte{'\n'})
	return true
}

// Line returns the current line without its newline.
// The slice is only valid until the next call to Next.
func (it *ShardIterator) Line() []byte {
	return it.line
}

func (it *ShardIterator) Error() error {
	return it.err
}

func (it *ShardIterator) Close() error {
	if it.dec != nil {
		it.dec.Close()
	}
	return it.file.Close()
}

package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
)

func readAll(t *testing.T, path string) []string {
	t.Helper()
	it, err := OpenShard(path)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var lines []string
	for it.Next() {
		lines = append(lines, string(it.Line()))
	}
	if err := it.Error(); err != nil {
		t.Fatal(err)
	}
	return lines
}

func TestShardIterator(t *testing.T) {
	long := strings.Repeat("x", 3*readBufferSize)
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "empty", content: "", want: nil},
		{name: "tiny", content: "ab", want: []string{"ab"}},
		{name: "trailing newline", content: "a\nb\n", want: []string{"a", "b"}},
		{name: "no trailing newline", content: "a\nb", want: []string{"a", "b"}},
		{name: "blank lines", content: "\n\na\n", want: []string{"", "", "a"}},
		{name: "crlf kept", content: "a\r\nb\r\n", want: []string{"a\r", "b\r"}},
		{name: "long line", content: "a\n" + long + "\nb", want: []string{"a", long, "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shard.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, readAll(t, path)); diff != "" {
				t.Errorf("lines mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShardIteratorZstd(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(enc, "one\ntwo\n")
	enc.Close()

	path := filepath.Join(t.TempDir(), "shard.json.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"one", "two"}, readAll(t, path)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenShardMissing(t *testing.T) {
	_, err := OpenShard(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func writeRecords(t *testing.T, sink Sink, payloads ...string) WriteStats {
	t.Helper()
	w, err := sink.Open()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range payloads {
		if err := w.WriteRecord([]byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := w.Commit()
	if err != nil {
		t.Fatal(err)
	}
	return stats
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := os.WriteFile(path, []byte("stale content that is longer\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stats := writeRecords(t, FileSink{Path: path}, "a", "bc")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "a\nbc\n" {
		t.Errorf("file = %q", got)
	}
	if stats.Records != 2 || stats.Bytes != 5 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFileSinkCompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json.zst")
	plain := writeRecords(t, &BufferSink{}, "a", "b")
	packed := writeRecords(t, FileSink{Path: path, Compress: true}, "a", "b")

	if plain.Digest != packed.Digest {
		t.Errorf("digest covers compressed bytes: %s vs %s", plain.Digest, packed.Digest)
	}
	if diff := cmp.Diff([]string{"a", "b"}, readAll(t, path)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestFileSinkAbortRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	w, err := FileSink{Path: path}.Open()
	if err != nil {
		t.Fatal(err)
	}
	w.WriteRecord([]byte("partial"))
	if err := w.Abort(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestBufferSink(t *testing.T) {
	var sink BufferSink
	stats := writeRecords(t, &sink, `{"T":"x"}`)
	if string(sink.Bytes()) != "{\"T\":\"x\"}\n" {
		t.Errorf("buffer = %q", sink.Bytes())
	}
	if stats.Records != 1 || len(stats.Digest) != 64 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	writeRecords(t, WriterSink{W: &buf}, "x", "y")
	if buf.String() != "x\ny\n" {
		t.Errorf("stream = %q", buf.String())
	}
}

func TestWriterSinkHold(t *testing.T) {
	var buf bytes.Buffer
	sink := WriterSink{W: &buf, Hold: true}

	w, err := sink.Open()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		if err := w.WriteRecord([]byte("partial")); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Abort(); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("aborted held sink wrote %d bytes", buf.Len())
	}

	w, err = sink.Open()
	if err != nil {
		t.Fatal(err)
	}
	w.WriteRecord([]byte("x"))
	if buf.Len() != 0 {
		t.Errorf("held sink wrote before commit: %q", buf.String())
	}
	stats, err := w.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if buf.String() != "x\n" || stats.Records != 1 || stats.Bytes != 2 {
		t.Errorf("committed %q, stats %+v", buf.String(), stats)
	}
}

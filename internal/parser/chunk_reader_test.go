package parser

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestChunkReader_Lossless(t *testing.T) {
	input := strings.Repeat("0123456789abcdef", 1000)
	r := NewChunkReader(strings.NewReader(input), "stdout", 7)
	go r.Run()

	var got bytes.Buffer
	for chunk := range r.Chunks() {
		if len(chunk) > 7 {
			t.Fatalf("chunk of %d bytes exceeds block size 7", len(chunk))
		}
		got.Write(chunk)
	}

	if got.String() != input {
		t.Errorf("reassembled %d bytes, want %d", got.Len(), len(input))
	}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after EOF")
	}

	bytesRead, chunks := r.Stats()
	if bytesRead != int64(len(input)) {
		t.Errorf("bytesRead = %d, want %d", bytesRead, len(input))
	}
	if chunks == 0 {
		t.Error("chunksRead = 0")
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v, want nil at EOF", r.Err())
	}
}

func TestChunkReader_ChunksAreCopies(t *testing.T) {
	pr, pw := io.Pipe()
	r := NewChunkReader(pr, "stdout", 4)
	go r.Run()

	go func() {
		pw.Write([]byte("aaaa"))
		pw.Write([]byte("bbbb"))
		pw.Close()
	}()

	first := <-r.Chunks()
	second := <-r.Chunks()
	if string(first) != "aaaa" || string(second) != "bbbb" {
		t.Errorf("chunks = %q, %q; want aaaa, bbbb", first, second)
	}
	r.Drain()
}

func TestChunkReader_ReadError(t *testing.T) {
	boom := errors.New("boom")
	r := NewChunkReader(errReader{boom}, "stderr", 0)
	go r.Run()

	r.Drain()
	<-r.Done()

	if !errors.Is(r.Err(), boom) {
		t.Errorf("Err() = %v, want boom", r.Err())
	}
	if r.Stream() != "stderr" {
		t.Errorf("Stream() = %q, want stderr", r.Stream())
	}
}

func TestChunkReader_DefaultBlockSize(t *testing.T) {
	r := NewChunkReader(strings.NewReader(""), "stdout", -1)
	if r.blockSize != DefaultBlockSize {
		t.Errorf("blockSize = %d, want %d", r.blockSize, DefaultBlockSize)
	}
}

package parser

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// DefaultBlockSize is the read size used when none is configured.
const DefaultBlockSize = 4096

// ChunkReader drains one pipe of the process (stdout or stderr) in its own
// goroutine and hands each block read to the consumer over a channel.
//
// Unlike a log tail it never drops data: a response is only complete when
// its sentinel has been seen, so every byte matters. The send blocks until
// the consumer takes the chunk; the OS pipe buffer absorbs the rest.
//
// Lifecycle:
//
//  1. r := NewChunkReader(pipe, "stdout", blockSize)
//  2. go r.Run()
//  3. consume r.Chunks() until closed
//  4. <-r.Done() once the pipe hit EOF
type ChunkReader struct {
	reader    io.Reader
	stream    string
	blockSize int

	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	bytesRead  atomic.Int64
	chunksRead atomic.Int64
}

// NewChunkReader creates a reader for the given pipe. stream names it in
// logs ("stdout" or "stderr").
func NewChunkReader(r io.Reader, stream string, blockSize int) *ChunkReader {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &ChunkReader{
		reader:    r,
		stream:    stream,
		blockSize: blockSize,
		chunks:    make(chan []byte),
		done:      make(chan struct{}),
	}
}

// Run reads until EOF or a read error, then closes Chunks and Done.
func (c *ChunkReader) Run() {
	defer c.finish()

	buf := make([]byte, c.blockSize)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.bytesRead.Add(int64(n))
			c.chunksRead.Add(1)
			c.chunks <- chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.setErr(err)
			}
			return
		}
	}
}

func (c *ChunkReader) finish() {
	c.closeOnce.Do(func() {
		close(c.chunks)
		close(c.done)
	})
}

func (c *ChunkReader) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}

// Chunks returns the channel of blocks read. Closed at EOF.
func (c *ChunkReader) Chunks() <-chan []byte {
	return c.chunks
}

// Done is closed once the pipe has been fully drained.
func (c *ChunkReader) Done() <-chan struct{} {
	return c.done
}

// Drain discards chunks until the pipe closes. Used during shutdown so the
// reader goroutine can exit.
func (c *ChunkReader) Drain() {
	for range c.chunks {
	}
}

// Err returns the read error that ended Run, if it was not EOF.
func (c *ChunkReader) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Stream returns "stdout" or "stderr".
func (c *ChunkReader) Stream() string {
	return c.stream
}

// Stats returns (bytesRead, chunksRead).
func (c *ChunkReader) Stats() (bytesRead, chunksRead int64) {
	return c.bytesRead.Load(), c.chunksRead.Load()
}

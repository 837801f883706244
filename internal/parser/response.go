package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/randomizedcoder/go-exiftool-stayopen/internal/types"
)

// ErrStreamClosed is wrapped by StreamClosedError.
var ErrStreamClosed = errors.New("output stream closed before sentinel")

// closeDrainTimeout bounds how long ReadResponse keeps reading the other
// stream once one of them has closed.
const closeDrainTimeout = 2 * time.Second

// StreamClosedError is returned when stdout or stderr reaches EOF before the
// sentinel for the in-flight command appeared. Stdout and Stderr hold all
// output captured from both streams. Err is the read error that ended a
// stream, nil when both ended at EOF.
type StreamClosedError struct {
	Stream string
	Stdout []byte
	Stderr []byte
	Err    error
}

func (e *StreamClosedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Stream, ErrStreamClosed, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stream, ErrStreamClosed)
}

func (e *StreamClosedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStreamClosed}
	}
	return []error{ErrStreamClosed, e.Err}
}

// Response is the outcome of one command.
type Response struct {
	Stdout []byte
	Stderr []byte
	Status int
}

// ReadResponse collects output from both streams until the sentinel has been
// seen on each. Both streams are consumed concurrently so a chatty stderr
// cannot fill its pipe and stall the process while we wait on stdout.
//
// When a stream closes first, the other one is still read until it closes
// too (at most closeDrainTimeout) so the returned StreamClosedError holds
// everything the process wrote before it died.
//
// On context cancellation it returns ctx.Err(); the process is then in an
// unknown position in its output and must be killed by the caller.
func ReadResponse(ctx context.Context, stdout, stderr *ChunkReader, s Sentinel) (Response, error) {
	ready := []byte(s.Ready())
	post := []byte(s.Post())

	var outBuf, errBuf bytes.Buffer
	outCh, errCh := stdout.Chunks(), stderr.Chunks()
	var outBody, errBody []byte
	outDone, errDone := false, false

	for !outDone || !errDone {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()

		case chunk, ok := <-outCh:
			if !ok {
				return Response{}, drainClosed(ctx, stdout, stdout, stderr, &outBuf, &errBuf, nil, errCh)
			}
			outBuf.Write(chunk)
			if body, found := cutTerminator(outBuf.Bytes(), ready); found {
				outBody, outDone = body, true
				outCh = nil
			}

		case chunk, ok := <-errCh:
			if !ok {
				return Response{}, drainClosed(ctx, stderr, stdout, stderr, &outBuf, &errBuf, outCh, nil)
			}
			errBuf.Write(chunk)
			if body, found := cutTerminator(errBuf.Bytes(), post); found {
				errBody, errDone = body, true
				errCh = nil
			}
		}
	}

	stderrText, status, err := splitStatus(errBody)
	if err != nil {
		return Response{Stdout: outBody, Stderr: errBody}, err
	}
	return Response{Stdout: outBody, Stderr: stderrText, Status: status}, nil
}

// drainClosed is called once the closed stream has hit EOF. It keeps
// reading whichever channel is still open (nil channels are closed or
// already past their sentinel) and builds the error from both buffers.
func drainClosed(ctx context.Context, closed, stdout, stderr *ChunkReader, outBuf, errBuf *bytes.Buffer, outCh, errCh <-chan []byte) error {
	timer := time.NewTimer(closeDrainTimeout)
	defer timer.Stop()

drain:
	for outCh != nil || errCh != nil {
		select {
		case chunk, ok := <-outCh:
			if !ok {
				outCh = nil
				continue
			}
			outBuf.Write(chunk)
		case chunk, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			errBuf.Write(chunk)
		case <-ctx.Done():
			break drain
		case <-timer.C:
			break drain
		}
	}

	return &StreamClosedError{
		Stream: closed.Stream(),
		Stdout: outBuf.Bytes(),
		Stderr: errBuf.Bytes(),
		Err:    errors.Join(stdout.Err(), stderr.Err()),
	}
}

// cutTerminator reports whether buf ends with token followed by a line break
// and returns the bytes before token. Requiring the line break means a token
// split across two reads is never mistaken for the end of the response.
func cutTerminator(buf, token []byte) ([]byte, bool) {
	var end int
	switch {
	case bytes.HasSuffix(buf, []byte("\r\n")):
		end = len(buf) - 2
	case bytes.HasSuffix(buf, []byte("\n")):
		end = len(buf) - 1
	default:
		return nil, false
	}
	if !bytes.HasSuffix(buf[:end], token) {
		return nil, false
	}
	return buf[:end-len(token)], true
}

// splitStatus parses the "=<status>=" echo that precedes the post marker on
// stderr and returns the stderr text before it.
func splitStatus(body []byte) ([]byte, int, error) {
	delim := []byte(statusDelim)
	if !bytes.HasSuffix(body, delim) {
		return nil, 0, &types.VersionError{Reason: fmt.Sprintf("expected exit status echo on stderr, got %q", tail(body, 32))}
	}
	inner := body[:len(body)-len(delim)]
	i := bytes.LastIndex(inner, delim)
	if i < 0 {
		return nil, 0, &types.VersionError{Reason: fmt.Sprintf("missing exit status delimiter on stderr, got %q", tail(body, 32))}
	}
	raw := string(inner[i+len(delim):])
	status, err := strconv.Atoi(raw)
	if err != nil {
		// Versions before 12.10 echo "${status}" verbatim.
		return nil, 0, &types.VersionError{Reason: fmt.Sprintf("exit status %q is not numeric (ExifTool 12.10+ required)", raw)}
	}
	return inner[:i], status, nil
}

func tail(b []byte, n int) []byte {
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}

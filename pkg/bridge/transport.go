package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"ragbridge/pkg/protocol"
)

// maxLineBytes bounds one line of worker output. Longer lines are discarded
// and reported as protocol errors; reading continues with the next line.
const maxLineBytes = protocol.MaxLineBytes

// readBufferSize is the bufio buffer used for the worker's output streams.
const readBufferSize = 64 << 10

// maxQuotedLine bounds how much of a bad line is kept in a ProtocolError.
const maxQuotedLine = 256

// Transport frames outgoing calls onto the worker's stdin. Every request is
// one JSON object plus '\n' written with a single Write under a mutex, so
// concurrent senders never interleave bytes.
type Transport struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTransport wraps the worker's stdin.
func NewTransport(w io.Writer) *Transport {
	return &Transport{w: w}
}

// Send encodes and writes req atomically.
func (t *Transport) Send(req protocol.Request) error {
	line, err := protocol.Encode(req)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.w.Write(line)
	if err != nil {
		return fmt.Errorf("write request %d: %w", req.ID, err)
	}
	if n != len(line) {
		return fmt.Errorf("write request %d: %w", req.ID, io.ErrShortWrite)
	}
	return nil
}

// ReadResponses reads newline-delimited responses from r until EOF or a read
// error. Each decoded response goes to onResponse; each unusable line goes
// to onError and reading continues. A clean EOF returns nil.
func ReadResponses(r io.Reader, onResponse func(protocol.Response), onError func(*ProtocolError)) error {
	return readLines(r, func(line []byte, tooLong bool) {
		if tooLong {
			onError(&ProtocolError{
				Line:   quote(line),
				Reason: fmt.Sprintf("line exceeds %d bytes", maxLineBytes),
			})
			return
		}
		resp, err := protocol.DecodeResponse(line)
		if err != nil {
			onError(&ProtocolError{Line: quote(line), Reason: "malformed json", Err: err})
			return
		}
		if resp.ID == nil {
			reason := "response without id"
			if resp.Error != nil {
				reason = fmt.Sprintf("response without id: %s", resp.Error.Message)
			}
			onError(&ProtocolError{Line: quote(line), Reason: reason})
			return
		}
		onResponse(resp)
	})
}

// DrainLines reads the worker's diagnostic stream and hands each non-empty
// line to onLine. Nothing read here is ever treated as protocol data.
func DrainLines(r io.Reader, onLine func(string)) error {
	return readLines(r, func(line []byte, _ bool) {
		onLine(string(line))
	})
}

// readLines splits r on '\n', trims surrounding whitespace and skips blank
// lines. Lines longer than maxLineBytes are truncated and flagged.
func readLines(r io.Reader, fn func(line []byte, tooLong bool)) error {
	br := bufio.NewReaderSize(r, readBufferSize)
	for {
		line, tooLong, err := protocol.ReadLine(br, maxLineBytes)
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			fn(trimmed, tooLong)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read worker output: %w", err)
		}
	}
}

func quote(line []byte) string {
	if len(line) > maxQuotedLine {
		return string(line[:maxQuotedLine]) + "..."
	}
	return string(line)
}

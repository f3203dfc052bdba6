// Package rpcworker is the worker half of the bridge protocol: it reads
// newline-delimited JSON-RPC requests from stdin, dispatches them to
// registered handlers concurrently and writes one response line per request
// to stdout. Diagnostics go to the logger, never to the protocol stream.
package rpcworker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ragbridge/pkg/protocol"
)

// DefaultMaxRequestBytes bounds one request line. A longer line is answered
// with a parse error and skipped.
const DefaultMaxRequestBytes = protocol.MaxLineBytes

// readBufferSize is the bufio buffer for the request stream.
const readBufferSize = 64 << 10

// inputLine is one request line as read, or a marker for an oversized one.
type inputLine struct {
	data    []byte
	tooLong bool
}

// Handler serves one method. Returning a *protocol.RPCError controls the
// response code; any other error is reported as an internal error with its
// Go type in the error data.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the diagnostics logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxConcurrency bounds how many requests are handled at once. Zero
// means unbounded.
func WithMaxConcurrency(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithMaxRequestBytes overrides DefaultMaxRequestBytes.
func WithMaxRequestBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRequestBytes = n
		}
	}
}

// Server dispatches requests to handlers.
type Server struct {
	logger          *zap.Logger
	sem             *semaphore.Weighted
	handlers        map[string]Handler
	maxRequestBytes int

	writeMu sync.Mutex
}

// New creates a Server with no handlers.
func New(opts ...Option) *Server {
	s := &Server{
		logger:          zap.NewNop(),
		handlers:        make(map[string]Handler),
		maxRequestBytes: DefaultMaxRequestBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h Handler) {
	s.handlers[method] = h
}

// Methods returns the registered method names.
func (s *Server) Methods() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

// Serve reads requests from in until EOF or ctx is cancelled and writes
// responses to out. On EOF it waits for in-flight handlers before returning
// nil; on cancellation handlers see a cancelled context.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan inputLine)
	errCh := make(chan error, 1)

	// Read in a goroutine so we can select on ctx.Done.
	go func() {
		br := bufio.NewReaderSize(in, readBufferSize)
		for {
			data, tooLong, err := protocol.ReadLine(br, s.maxRequestBytes)
			if data = bytes.TrimSpace(data); len(data) > 0 || tooLong {
				select {
				case lines <- inputLine{data: data, tooLong: tooLong}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				errCh <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("read requests: %w", err)
			}
			return nil
		case line := <-lines:
			if line.tooLong {
				s.logger.Warn("request line too long", zap.Int("limit", s.maxRequestBytes))
				s.write(out, protocol.NewErrorResponse(nil,
					protocol.NewRPCError(protocol.CodeParseError, "Parse error",
						fmt.Sprintf("request line exceeds %d bytes", s.maxRequestBytes))))
				continue
			}
			req, err := protocol.DecodeRequest(line.data)
			if err != nil {
				s.logger.Warn("unparseable request", zap.Error(err))
				s.write(out, protocol.NewErrorResponse(nil,
					protocol.NewRPCError(protocol.CodeParseError, "Parse error", err.Error())))
				continue
			}
			if s.sem != nil {
				if err := s.sem.Acquire(ctx, 1); err != nil {
					return nil //nolint:nilerr // cancelled while waiting for a slot = shutdown
				}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.sem != nil {
					defer s.sem.Release(1)
				}
				s.write(out, s.dispatch(ctx, req))
			}()
		}
	}
}

// dispatch runs the handler for req and builds its response. Handler panics
// are reported as internal errors.
func (s *Server) dispatch(ctx context.Context, req protocol.Request) (resp protocol.Response) {
	id := req.ID
	log := s.logger.With(zap.Int64("id", id), zap.String("method", req.Method))

	h, ok := s.handlers[req.Method]
	if !ok {
		log.Warn("unknown method")
		return protocol.NewErrorResponse(&id,
			protocol.NewRPCError(protocol.CodeMethodNotFound, "unknown method: "+req.Method, nil))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", zap.Any("panic", r))
			resp = protocol.NewErrorResponse(&id,
				protocol.NewRPCError(protocol.CodeInternalError, fmt.Sprint(r), map[string]string{"type": "panic"}))
		}
	}()

	result, err := h(ctx, req.Params)
	if err != nil {
		log.Debug("handler failed", zap.Error(err))
		return protocol.NewErrorResponse(&id, toRPCError(err))
	}

	resp, err = protocol.NewResult(id, result)
	if err != nil {
		log.Error("encode result", zap.Error(err))
		return protocol.NewErrorResponse(&id, toRPCError(err))
	}
	return resp
}

// write emits one response as a single line.
func (s *Server) write(out io.Writer, resp protocol.Response) {
	line, err := protocol.Encode(resp)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := out.Write(line); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func toRPCError(err error) *protocol.RPCError {
	var rpcErr *protocol.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return protocol.NewRPCError(protocol.CodeInternalError, err.Error(),
		map[string]string{"type": errorType(err)})
}

// errorType names the concrete type of err, e.g. "*fs.PathError".
func errorType(err error) string {
	return reflect.TypeOf(err).String()
}

// InvalidParams builds a -32602 error for a handler to return.
func InvalidParams(format string, args ...any) *protocol.RPCError {
	return protocol.NewRPCError(protocol.CodeInvalidParams, fmt.Sprintf(format, args...), nil)
}

// Bind decodes params into v (a pointer to a struct with json tags).
func Bind(params map[string]any, v any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return InvalidParams("encode params: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return InvalidParams("invalid params: %v", err)
	}
	return nil
}

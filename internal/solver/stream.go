package solver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/hexlite/hexlited/internal/model"
)

// MessageSink is an ordered list of diagnostic messages safe for concurrent use.
type MessageSink struct {
	mx       sync.Mutex
	messages []string
}

func (s *MessageSink) Append(msg string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of the collected messages.
func (s *MessageSink) Messages() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.messages...)
}

// drainStderr copies every non-empty line of r into sink and the log. It
// never fails: a too long line ends line splitting, the rest of r is discarded.
func drainStderr(ctx context.Context, r io.Reader, sink *MessageSink, maxLine int) {
	slog.DebugContext(ctx, "draining solver stderr")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sink.Append(line)
		slog.InfoContext(ctx, "solver stderr", "line", line)
	}

	err := scanner.Err()
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrTooLong):
		sink.Append(fmt.Sprintf("diagnostic line longer than %d bytes, rest of the diagnostics discarded", maxLine))
		_, _ = io.Copy(io.Discard, r)
	case errors.Is(err, os.ErrClosed):
	default:
		slog.DebugContext(ctx, "processing stderr", "error", err)
	}
	slog.DebugContext(ctx, "solver stderr drained")
}

// readResults decodes every non-empty line of r and passes it to yield in
// stream order. It returns on the first decoding error.
func readResults(r io.Reader, maxLine int, interp Interpreter, yield func(model.AnswerSet)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		answerSet, err := interp.Decode(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		yield(answerSet)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("%w: line %d longer than %d bytes: %w", model.ErrStreamDecode, lineNo+1, maxLine, err)
		}
		return fmt.Errorf("%w: reading solver output: %w", model.ErrStreamDecode, err)
	}
	return nil
}

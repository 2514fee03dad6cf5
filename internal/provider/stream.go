package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"chatrelay/internal/models"
)

// Simulate replays an already completed response as a sequence of fixed size
// rune slices. It is a compatibility shim for adapters without incremental
// output: the pacing is synthetic and says nothing about generation speed.
//
// A failed response yields a single error event.
func Simulate(ctx context.Context, resp models.ChatResponse, chunkSize int, delay time.Duration) iter.Seq[models.StreamEvent] {
	if chunkSize <= 0 {
		chunkSize = DefaultStreamChunkSize
	}
	return func(yield func(models.StreamEvent) bool) {
		if !resp.Success {
			yield(errorEvent(resp.ErrorMessage))
			return
		}

		runes := []rune(resp.Content)
		var acc strings.Builder
		for start := 0; start < len(runes); start += chunkSize {
			if start > 0 && delay > 0 {
				if err := sleep(ctx, delay); err != nil {
					yield(errorEvent(err.Error()))
					return
				}
			}
			end := min(start+chunkSize, len(runes))
			token := string(runes[start:end])
			acc.WriteString(token)
			if !yield(models.StreamEvent{Token: token, Content: acc.String()}) {
				return
			}
		}

		yield(models.StreamEvent{Done: true, Content: resp.Content})
	}
}

// TokenFunc extracts the text delta of one SSE data payload. ok is false for
// payloads that carry no text or cannot be decoded; those are skipped.
type TokenFunc func(data []byte) (token string, ok bool)

const (
	ssePrefix   = "data:"
	sseSentinel = "[DONE]"
	readSize    = 4096
)

// StreamSSE consumes an SSE body incrementally. Lines split across reads are
// reassembled before parsing. The stream ends with a terminal event carrying
// the accumulated text when the [DONE] sentinel or end of body is reached, or
// with an error event when reading fails.
func StreamSSE(ctx context.Context, body io.Reader, extract TokenFunc) iter.Seq[models.StreamEvent] {
	return func(yield func(models.StreamEvent) bool) {
		var (
			lines   LineBuffer
			content strings.Builder
			buf     = make([]byte, readSize)
		)

		// handle returns false once the stream is over.
		handle := func(line string) (more bool) {
			data, ok := sseData(line)
			if !ok {
				return true
			}
			if data == sseSentinel {
				yield(models.StreamEvent{Done: true, Content: content.String()})
				return false
			}
			token, ok := extract([]byte(data))
			if !ok || token == "" {
				return true
			}
			content.WriteString(token)
			return yield(models.StreamEvent{Token: token, Content: content.String()})
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(errorEvent(err.Error()))
				return
			}

			n, err := body.Read(buf)
			if n > 0 {
				for _, line := range lines.Feed(buf[:n]) {
					if !handle(line) {
						return
					}
				}
			}
			if err == nil {
				continue
			}
			if !errors.Is(err, io.EOF) {
				yield(errorEvent(err.Error()))
				return
			}
			if rest := lines.Flush(); rest != "" && !handle(rest) {
				return
			}
			yield(models.StreamEvent{Done: true, Content: content.String()})
			return
		}
	}
}

func sseData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ssePrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, ssePrefix)), true
}

// LineBuffer splits a byte stream into newline terminated lines, keeping the
// trailing partial line until the next Feed.
type LineBuffer struct {
	pending []byte
}

// Feed appends chunk and returns every line completed by it, without the
// line terminator.
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.pending = append(b.pending, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(b.pending[:i]), "\r"))
		b.pending = b.pending[i+1:]
	}
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return lines
}

// Flush returns and clears the unterminated remainder.
func (b *LineBuffer) Flush() string {
	rest := strings.TrimRight(string(b.pending), "\r")
	b.pending = nil
	return rest
}

func errorEvent(message string) models.StreamEvent {
	if message == "" {
		message = "Unknown error"
	}
	return models.StreamEvent{Done: true, Error: message}
}

// ErrorStream yields a single error event.
func ErrorStream(message string) iter.Seq[models.StreamEvent] {
	return func(yield func(models.StreamEvent) bool) {
		yield(errorEvent(message))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

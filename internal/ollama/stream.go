// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns the raw bytes of a streamed /api/chat body into events.
//
// Bytes may arrive split at any position, including inside a multi-byte
// UTF-8 sequence or inside a JSON line. Incomplete sequences are held back
// until the next Feed, and incomplete lines are kept in the line buffer.
// Lines that are not valid JSON are dropped.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	utf8    transform.Transformer
	pending []byte
	lines   strings.Builder
	done    bool
	chunks  int
}

// NewDecoder creates a decoder for one response body.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Feed consumes the next slice of the body and returns the events it
// completed, in wire order.
func (d *Decoder) Feed(p []byte) []StreamEvent {
	d.lines.WriteString(d.decodeText(p, false))
	return d.drainLines()
}

// Flush finishes the body: any held-back bytes are decoded and a trailing
// line without a newline is parsed as a last line.
func (d *Decoder) Flush() []StreamEvent {
	d.lines.WriteString(d.decodeText(nil, true))
	events := d.drainLines()

	rest := d.lines.String()
	d.lines.Reset()
	return append(events, d.parseLine(rest)...)
}

// Done reports whether the final event has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// ChunkCount returns the number of content events produced so far.
func (d *Decoder) ChunkCount() int {
	return d.chunks
}

// decodeText runs the held-back bytes plus p through the UTF-8 decoder.
// With atEOF false an incomplete trailing sequence stays in d.pending.
func (d *Decoder) decodeText(p []byte, atEOF bool) string {
	d.pending = append(d.pending, p...)
	if len(d.pending) == 0 {
		return ""
	}

	// Invalid bytes expand to U+FFFD (3 bytes each).
	buf := make([]byte, 3*len(d.pending)+utf8.UTFMax)
	var out []byte
	for {
		nDst, nSrc, err := d.utf8.Transform(buf, d.pending, atEOF)
		out = append(out, buf[:nDst]...)
		d.pending = append(d.pending[:0], d.pending[nSrc:]...)
		if err == transform.ErrShortDst && nDst > 0 {
			continue
		}
		break
	}
	if atEOF {
		d.pending = nil
		d.utf8.Reset()
	}
	return string(out)
}

// drainLines parses every complete line in the buffer and keeps the
// trailing fragment.
func (d *Decoder) drainLines() []StreamEvent {
	buffered := d.lines.String()
	idx := strings.LastIndexByte(buffered, '\n')
	if idx < 0 {
		return nil
	}

	complete, rest := buffered[:idx], buffered[idx+1:]
	d.lines.Reset()
	d.lines.WriteString(rest)

	var events []StreamEvent
	for _, line := range strings.Split(complete, "\n") {
		events = append(events, d.parseLine(line)...)
	}
	return events
}

func (d *Decoder) parseLine(line string) []StreamEvent {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var obj chatLine
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		// Skip malformed lines
		return nil
	}

	if obj.Error != "" {
		return []StreamEvent{{Err: obj.Error, Model: obj.Model}}
	}

	var events []StreamEvent
	if obj.Message.Content != "" {
		d.chunks++
		events = append(events, StreamEvent{Content: obj.Message.Content, Model: obj.Model})
	}

	if obj.Done {
		d.done = true
		events = append(events, StreamEvent{
			Final:              true,
			Model:              obj.Model,
			DoneReason:         obj.DoneReason,
			TotalDuration:      time.Duration(obj.TotalDuration),
			LoadDuration:       time.Duration(obj.LoadDuration),
			PromptEvalDuration: time.Duration(obj.PromptEvalDuration),
			EvalDuration:       time.Duration(obj.EvalDuration),
			PromptTokens:       obj.PromptEvalCount,
			CompletionTokens:   obj.EvalCount,
		})
	}
	return events
}

// =============================================================================
// STREAM
// =============================================================================

// streamReadSize is the size of each body read.
const streamReadSize = 4096

// Stream reads events from an open chat response body.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	decoder *Decoder
	queue   []StreamEvent
	buf     []byte
	eof     bool
}

// NewStream wraps a response body. The context is checked before every
// event is returned so a cancelled generation stops without processing
// further buffered data.
func NewStream(ctx context.Context, body io.ReadCloser) *Stream {
	return &Stream{
		ctx:     ctx,
		body:    body,
		decoder: NewDecoder(),
		buf:     make([]byte, streamReadSize),
	}
}

// Next returns the next event. It returns io.EOF once the body is
// exhausted and every buffered event has been delivered, and the context
// error once the context is done.
func (s *Stream) Next() (StreamEvent, error) {
	for {
		if err := s.ctx.Err(); err != nil {
			return StreamEvent{}, err
		}

		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}

		if s.eof {
			return StreamEvent{}, io.EOF
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.queue = append(s.queue, s.decoder.Feed(s.buf[:n])...)
		}
		if err != nil {
			if err != io.EOF {
				if ctxErr := s.ctx.Err(); ctxErr != nil {
					return StreamEvent{}, ctxErr
				}
				return StreamEvent{}, &ClientError{Type: ErrTypeConnection, Message: "stream interrupted", Cause: err}
			}
			s.queue = append(s.queue, s.decoder.Flush()...)
			s.eof = true
		}
	}
}

// ChunkCount returns the number of content events decoded so far.
func (s *Stream) ChunkCount() int {
	return s.decoder.ChunkCount()
}

// Close releases the response body.
func (s *Stream) Close() error {
	return s.body.Close()
}

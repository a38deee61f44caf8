// Package stream decodes chat-completions server-sent event bodies into
// text deltas.
package stream

import (
	"bytes"

	"github.com/tidwall/gjson"
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// contentPath locates the incremental text in an OpenAI-style chunk.
const contentPath = "choices.0.delta.content"

// Decoder reassembles newline-delimited frames from arbitrary byte chunks.
// Bytes are buffered as-is, so a chunk boundary may fall anywhere, including
// inside a multi-byte UTF-8 sequence. The zero value is ready to use.
type Decoder struct {
	buf     []byte
	done    bool
	skipped int

	// OnSkip, if set, is called with each data payload that yielded no delta.
	OnSkip func(payload []byte)
}

// Feed appends chunk to the buffer and returns the deltas of every complete
// line, in order. done reports that the [DONE] marker was seen; the rest of
// the buffer is then discarded and later calls return nothing.
func (d *Decoder) Feed(chunk []byte) (deltas []string, done bool) {
	if d.done {
		return nil, true
	}
	d.buf = append(d.buf, chunk...)

	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(d.buf[start : start+i])
		start += i + 1

		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		if bytes.Equal(payload, doneMarker) {
			d.done = true
			d.buf = nil
			return deltas, true
		}
		if text, ok := deltaContent(payload); ok {
			deltas = append(deltas, text)
			continue
		}
		d.skipped++
		if d.OnSkip != nil {
			d.OnSkip(payload)
		}
	}

	// Keep only the unterminated tail.
	n := copy(d.buf, d.buf[start:])
	d.buf = d.buf[:n]
	return deltas, false
}

// Done reports whether the end marker has been seen.
func (d *Decoder) Done() bool { return d.done }

// Skipped returns how many data frames carried no usable delta.
func (d *Decoder) Skipped() int { return d.skipped }

// Pending returns the number of buffered bytes not yet terminated by '\n'.
func (d *Decoder) Pending() int { return len(d.buf) }

// dataPayload strips the "data:" field name and at most one following space.
func dataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	p := line[len(dataPrefix):]
	if len(p) > 0 && p[0] == ' ' {
		p = p[1:]
	}
	return p, true
}

// deltaContent extracts a non-empty string delta from a JSON frame.
func deltaContent(payload []byte) (string, bool) {
	if !gjson.ValidBytes(payload) {
		return "", false
	}
	r := gjson.GetBytes(payload, contentPath)
	if r.Type != gjson.String || r.Str == "" {
		return "", false
	}
	return r.Str, true
}

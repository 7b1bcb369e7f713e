package jsonio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
)

// StreamKind classifies an input file by its leading bytes.
type StreamKind int

const (
	StreamUnknown StreamKind = iota
	// StreamArray is a JSON array file: [ {...}, {...} ].
	StreamArray
	// StreamObjects is a file starting with '{': a single object, a
	// pretty-printed object, or an NDJSON sequence of objects.
	StreamObjects
)

// Sniff classifies head, which should be the first few KB of a file.
// Detection is heuristic and intentionally conservative.
func Sniff(head []byte) StreamKind {
	trim := bytes.TrimSpace(head)
	if len(trim) == 0 {
		return StreamUnknown
	}
	switch trim[0] {
	case '[':
		return StreamArray
	case '{':
		return StreamObjects
	default:
		return StreamUnknown
	}
}

const sniffBytes = 4096

// StreamFile yields every record in the file at path through emit, in file
// order.
//
// Supported shapes:
//   - JSON array of values: streamed element-by-element without buffering
//     the whole array.
//   - NDJSON: one record per line; malformed lines are reported through
//     onErr and skipped.
//   - Single JSON object (optionally pretty-printed), optionally followed
//     by further whitespace-separated objects.
//
// Errors:
//   - An unreadable file or an unrecognized leading byte is fatal.
//   - Inside an array, a malformed element is fatal (the element boundary
//     is lost); the error is also reported through onErr first.
//   - In line mode, malformed lines are recoverable and only counted by
//     the caller via onErr.
func StreamFile(ctx context.Context, path string, emit func(Value) error, onErr func(line int, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	head, _ := br.Peek(sniffBytes)

	switch Sniff(head) {
	case StreamArray:
		return streamArray(ctx, br, emit, onErr)
	case StreamObjects:
		if ndjsonLikely(head) {
			return streamLines(ctx, br, emit, onErr)
		}
		return streamValues(ctx, br, emit, onErr)
	default:
		return fmt.Errorf("%s: unrecognized input (want JSON array, object, or NDJSON)", path)
	}
}

// ndjsonLikely reports whether the first line of head is a complete JSON
// value on its own, which is the NDJSON signature. A first line longer than
// the sniff window stays inconclusive and the decoder path handles it.
func ndjsonLikely(head []byte) bool {
	i := bytes.IndexByte(head, '\n')
	if i < 0 {
		return false
	}
	line := bytes.TrimSpace(head[:i])
	if len(line) == 0 {
		return false
	}
	_, err := ParseValue(line)
	return err == nil
}

// streamArray consumes a top-level JSON array element-by-element.
func streamArray(ctx context.Context, r io.Reader, emit func(Value) error, onErr func(line int, err error)) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read array start: %w", err)
	}
	if tok != json.Delim('[') {
		return fmt.Errorf("expected '[', got %v", tok)
	}

	n := 0
	for dec.More() {
		vt, err := dec.Token()
		if err != nil {
			if onErr != nil {
				onErr(n+1, err)
			}
			return fmt.Errorf("decode array element %d: %w", n+1, err)
		}
		v, err := valueFromToken(dec, vt)
		if err != nil {
			if onErr != nil {
				onErr(n+1, err)
			}
			return fmt.Errorf("decode array element %d: %w", n+1, err)
		}
		n++
		if err := emit(v); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if end, err := dec.Token(); err != nil {
		return fmt.Errorf("read array end: %w", err)
	} else if end != json.Delim(']') {
		return fmt.Errorf("expected ']', got %v", end)
	}
	return nil
}

// streamValues decodes a whitespace-separated sequence of JSON values until
// EOF. Handles both a single (possibly pretty-printed) object and a stream
// of concatenated objects.
func streamValues(ctx context.Context, r io.Reader, emit func(Value) error, onErr func(line int, err error)) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	n := 0
	for {
		v, err := DecodeValue(dec)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if onErr != nil {
				onErr(n+1, err)
			}
			return fmt.Errorf("decode record %d: %w", n+1, err)
		}
		n++
		if err := emit(v); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// streamLines reads NDJSON line-by-line. Blank lines are skipped silently;
// malformed lines are reported through onErr and skipped.
func streamLines(ctx context.Context, br *bufio.Reader, emit func(Value) error, onErr func(line int, err error)) error {
	line := 0
	for {
		raw, err := br.ReadString('\n')
		if len(raw) > 0 {
			line++
			s := strings.TrimSpace(raw)
			if s != "" {
				v, perr := ParseValue([]byte(s))
				if perr != nil {
					if onErr != nil {
						onErr(line, perr)
					}
				} else if err := emit(v); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read line %d: %w", line+1, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// StreamNDJSON reads r strictly as NDJSON. It is the read path for the
// normalized work file, where every record is one line by construction.
func StreamNDJSON(ctx context.Context, r io.Reader, emit func(Value) error, onErr func(line int, err error)) error {
	return streamLines(ctx, bufio.NewReaderSize(r, 1<<20), emit, onErr)
}

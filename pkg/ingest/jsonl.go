// Package ingest reads append-only, line-delimited evidence logs.
//
// Logs may be read while producers are still appending, so a malformed or
// truncated line is never fatal: it is reported as a ParseError result and
// the caller decides to skip it. A log that does not exist yet is an empty
// sequence.
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
)

// Line is one raw line of a log, numbered from 1.
type Line struct {
	Number int
	Data   []byte
}

// ParseError describes a line that failed record validation.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Result is the tagged outcome of decoding one line: either Value is set
// or Err is non-nil.
type Result[T any] struct {
	Line  int
	Value T
	Err   error
}

// OK reports whether the line decoded successfully.
func (r Result[T]) OK() bool { return r.Err == nil }

// Stats summarises one pass over a log.
type Stats struct {
	Lines   int
	Parsed  int
	Skipped int
}

// Lines returns a lazy sequence of the non-blank lines in path. Each range
// over the sequence re-opens the file, so it can be iterated again to pick
// up lines appended in the meantime. An I/O error ends the sequence after
// being yielded once; a missing file yields nothing.
func Lines(path string) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(Line{}, err)
			return
		}
		defer f.Close()

		r := bufio.NewReaderSize(f, 64*1024)
		n := 0
		for {
			raw, err := r.ReadBytes('\n')
			if len(raw) > 0 {
				n++
				data := bytes.TrimSpace(raw)
				if len(data) > 0 && !yield(Line{Number: n, Data: data}, nil) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Line{}, fmt.Errorf("read %s: %w", path, err))
				return
			}
		}
	}
}

// Decode applies parse to every line of path. Lines that fail to parse are
// yielded with a *ParseError; I/O errors are yielded as-is and end the
// sequence.
func Decode[T any](path string, parse func([]byte) (T, error)) iter.Seq[Result[T]] {
	return func(yield func(Result[T]) bool) {
		for line, err := range Lines(path) {
			if err != nil {
				yield(Result[T]{Err: err})
				return
			}
			v, perr := parse(line.Data)
			if perr != nil {
				if !yield(Result[T]{Line: line.Number, Err: &ParseError{Path: path, Line: line.Number, Err: perr}}) {
					return
				}
				continue
			}
			if !yield(Result[T]{Line: line.Number, Value: v}) {
				return
			}
		}
	}
}

// Collect drains seq, dropping lines that failed to parse. Only I/O errors
// are returned.
func Collect[T any](seq iter.Seq[Result[T]]) ([]T, Stats, error) {
	var (
		out   []T
		stats Stats
	)
	for res := range seq {
		if res.Err != nil {
			var perr *ParseError
			if errors.As(res.Err, &perr) {
				stats.Lines++
				stats.Skipped++
				continue
			}
			return out, stats, res.Err
		}
		stats.Lines++
		stats.Parsed++
		out = append(out, res.Value)
	}
	return out, stats, nil
}

// ReadAll is Decode followed by Collect.
func ReadAll[T any](path string, parse func([]byte) (T, error)) ([]T, Stats, error) {
	return Collect(Decode(path, parse))
}

// Package batch scores a JSON Lines file of practice attempts with bounded
// concurrency.
//
// Each input line is an [Item]. Each output line is an [Output] carrying the
// item's id and either a result or an error, written in input order
// regardless of which worker finished first. A failing item never aborts the
// batch; only a read error or context cancellation does.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

var (
	errMissingExpected = errors.New("missing expected_text")
	errNotUTF8         = fmt.Errorf("%w: line is not valid UTF-8", scoring.ErrInvalidInput)
)

// Item is one input line.
type Item struct {
	ID             string `json:"id"`
	ExpectedText   string `json:"expected_text"`
	RecognizedText string `json:"recognized_text"`
}

// wireItem is the decoded form of an input line. Null and absent texts stay
// distinguishable from empty ones.
type wireItem struct {
	ID             string  `json:"id"`
	ExpectedText   *string `json:"expected_text"`
	RecognizedText *string `json:"recognized_text"`
}

// parseItem decodes one non-blank line. The returned item carries the id even
// when err is set.
func parseItem(line []byte) (Item, error) {
	if !utf8.Valid(line) {
		return Item{}, errNotUTF8
	}
	var w wireItem
	if err := json.Unmarshal(line, &w); err != nil {
		return Item{}, fmt.Errorf("invalid JSON: %w", err)
	}
	it := Item{ID: w.ID}
	switch {
	case w.ExpectedText == nil:
		return it, fmt.Errorf("%w: expected_text is null or missing", scoring.ErrInvalidInput)
	case strings.TrimSpace(*w.ExpectedText) == "":
		return it, errMissingExpected
	case w.RecognizedText == nil:
		return it, fmt.Errorf("%w: recognized_text is null or missing", scoring.ErrInvalidInput)
	}
	it.ExpectedText, it.RecognizedText = *w.ExpectedText, *w.RecognizedText
	return it, nil
}

// Output is one output line. Line is the 1-based input line number.
type Output struct {
	ID     string `json:"id"`
	Line   int    `json:"line"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Summary counts the processed lines.
type Summary struct {
	Total  int
	Failed int
}

// Func scores one item. The returned value is marshalled into
// [Output.Result].
type Func func(ctx context.Context, it Item) (any, error)

// Option is a functional option for [Run].
type Option func(*runner)

// WithWorkers bounds the number of concurrently scored items. Non-positive
// values select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(r *runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

type runner struct {
	workers int
}

// entry is a parsed input line awaiting its output.
type entry struct {
	line     int
	item     Item
	parseErr error
	out      Output
}

// Run reads items from in, scores each with fn and writes the outputs to out
// as JSON Lines. Blank input lines are skipped.
func Run(ctx context.Context, in io.Reader, out io.Writer, fn Func, opts ...Option) (Summary, error) {
	r := runner{workers: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(&r)
	}

	entries, err := readEntries(in)
	if err != nil {
		return Summary{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range entries {
		e := &entries[i]
		if e.parseErr != nil {
			e.out = Output{ID: e.item.ID, Line: e.line, Error: e.parseErr.Error()}
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e.out = score(gctx, fn, e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("batch: %w", err)
	}

	log := observe.Logger(ctx)
	enc := json.NewEncoder(out)
	sum := Summary{Total: len(entries)}
	for _, e := range entries {
		if e.out.Error != "" {
			sum.Failed++
			log.Debug("batch: item failed", "line", e.line, "id", e.out.ID, "err", e.out.Error)
		}
		if err := enc.Encode(e.out); err != nil {
			return sum, fmt.Errorf("batch: write line %d: %w", e.line, err)
		}
	}
	return sum, nil
}

func score(ctx context.Context, fn Func, e *entry) Output {
	o := Output{ID: e.item.ID, Line: e.line}
	res, err := fn(ctx, e.item)
	if err != nil {
		o.Error = err.Error()
		return o
	}
	o.Result = res
	return o
}

// readEntries parses every non-blank line. Malformed lines become entries
// with parseErr set.
func readEntries(in io.Reader) ([]entry, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var entries []entry
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		e := entry{line: line}
		e.item, e.parseErr = parseItem(text)
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("batch: read line %d: %w", line+1, err)
	}
	return entries, nil
}

// Command speakscore scores recognized text against expected text from the
// command line, either one pair at a time or a whole JSON Lines batch.
//
//	speakscore -expected "I like apples" -recognized "I like oranges"
//	speakscore -batch attempts.jsonl -workers 8 > results.jsonl
//	speakscore -remote https://analysis.example.com -expected ... -recognized ...
//	speakscore -remote https://analysis.example.com -compact -batch attempts.jsonl
//
// Without -remote the offline engine answers. With -remote the analysis
// service is asked first and the offline engine answers whenever it fails.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/speakwell/internal/batch"
	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/pkg/analysis"
	"github.com/MrWong99/speakwell/pkg/analysis/remote"
	"github.com/MrWong99/speakwell/pkg/scoring"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	expected   string
	recognized string
	batchPath  string
	alignment  string
	threshold  float64
	workers    int
	remoteURL  string
	apiKey     string
	timeout    time.Duration
	jsonOut    bool
	compact    bool
	logLevel   string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("speakscore", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.expected, "expected", "", "expected text")
	fs.StringVar(&o.recognized, "recognized", "", "recognized text")
	fs.StringVar(&o.batchPath, "batch", "", `JSON Lines file of {"id","expected_text","recognized_text"} ("-" reads stdin)`)
	fs.StringVar(&o.alignment, "alignment", scoring.PolicyPositional, "word alignment policy: positional or edit_path")
	fs.Float64Var(&o.threshold, "threshold", 0, "similarity percentage at which a differing word still counts as correct (0 = default 90)")
	fs.IntVar(&o.workers, "workers", 0, "concurrent batch items (0 = GOMAXPROCS)")
	fs.StringVar(&o.remoteURL, "remote", "", "base URL of a remote analysis service")
	fs.StringVar(&o.apiKey, "api-key", os.Getenv(config.EnvRemoteAPIKey), "bearer token for -remote")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "per-attempt timeout including remote failover")
	fs.BoolVar(&o.jsonOut, "json", false, "print JSON instead of a text summary")
	fs.BoolVar(&o.compact, "compact", false, "reduce remote reports to the engine result shape (scores, feedback, word analysis)")
	fs.StringVar(&o.logLevel, "log-level", string(config.LogWarn), "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if !config.LogLevel(o.logLevel).IsValid() {
		return nil, fmt.Errorf("invalid -log-level %q", o.logLevel)
	}
	if o.batchPath == "" && strings.TrimSpace(o.expected) == "" {
		return nil, errors.New("either -expected or -batch is required")
	}
	if o.batchPath != "" && (o.expected != "" || o.recognized != "") {
		return nil, errors.New("-batch cannot be combined with -expected or -recognized")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "speakscore: %v\n", err)
		return 2
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: config.LogLevel(o.logLevel).SlogLevel(),
	})))

	c, err := newCoach(o)
	if err != nil {
		fmt.Fprintf(stderr, "speakscore: %v\n", err)
		return 2
	}

	if o.batchPath != "" {
		return runBatch(ctx, c, o, stdin, stdout, stderr)
	}
	return runSingle(ctx, c, o, stdout, stderr)
}

func newCoach(o *options) (*coach.Coach, error) {
	opts := []coach.Option{coach.WithTimeout(o.timeout)}
	if o.remoteURL != "" {
		rc, err := remote.New(o.remoteURL, remote.WithAPIKey(o.apiKey), remote.WithTimeout(o.timeout))
		if err != nil {
			return nil, err
		}
		opts = append(opts, coach.WithAnalyzer(rc))
	}
	c := coach.New(opts...)
	if err := c.SetScoring(o.alignment, o.threshold); err != nil {
		return nil, err
	}
	return c, nil
}

// score answers one attempt: a full report when a remote service is
// configured, the engine result otherwise. With -compact every answer has the
// engine result shape.
func score(ctx context.Context, c *coach.Coach, o *options, expected, recognized string) (any, error) {
	if o.remoteURL == "" {
		return c.Score(ctx, expected, recognized, "")
	}
	out, err := c.Analyze(ctx, coach.Attempt{Request: analysis.Request{
		ExpectedText:   expected,
		RecognizedText: recognized,
	}})
	if err != nil {
		return nil, err
	}
	if o.compact {
		return out.Report.Scores(), nil
	}
	return out.Report, nil
}

func runSingle(ctx context.Context, c *coach.Coach, o *options, stdout, stderr io.Writer) int {
	res, err := score(ctx, c, o, o.expected, o.recognized)
	if err != nil {
		fmt.Fprintf(stderr, "speakscore: %v\n", err)
		return 1
	}
	if o.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "speakscore: %v\n", err)
			return 1
		}
		return 0
	}

	var rep *analysis.Report
	switch v := res.(type) {
	case *scoring.Result:
		rep = analysis.FromResult(v, analysis.SourceOffline)
	case *analysis.Report:
		rep = v
	}
	printReport(stdout, rep)
	return 0
}

func runBatch(ctx context.Context, c *coach.Coach, o *options, stdin io.Reader, stdout, stderr io.Writer) int {
	in := stdin
	if o.batchPath != "-" {
		f, err := os.Open(o.batchPath)
		if err != nil {
			fmt.Fprintf(stderr, "speakscore: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	start := time.Now()
	sum, err := batch.Run(ctx, in, stdout, func(ctx context.Context, it batch.Item) (any, error) {
		return score(ctx, c, o, it.ExpectedText, it.RecognizedText)
	}, batch.WithWorkers(o.workers))
	if err != nil {
		fmt.Fprintf(stderr, "speakscore: %v\n", err)
		return 1
	}
	slog.Info("batch complete", "total", sum.Total, "failed", sum.Failed, "elapsed", time.Since(start))
	if sum.Failed > 0 {
		fmt.Fprintf(stderr, "speakscore: %d of %d items failed\n", sum.Failed, sum.Total)
		return 1
	}
	return 0
}

func printReport(w io.Writer, rep *analysis.Report) {
	fmt.Fprintf(w, "Pronunciation: %5.1f\n", rep.PronunciationScore)
	fmt.Fprintf(w, "Fluency:       %5.1f\n", rep.FluencyScore)
	fmt.Fprintf(w, "Completeness:  %5.1f\n", rep.CompletenessScore)
	fmt.Fprintf(w, "Overall:       %5.1f  (%s)\n", rep.OverallScore, rep.Source)
	fmt.Fprintln(w)
	for _, f := range rep.Feedback {
		fmt.Fprintln(w, f)
	}
	if len(rep.WordAnalysis) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, e := range rep.WordAnalysis {
		fmt.Fprintf(w, "  %-12s %-16s %s\n", e.Status, e.Expected, e.Recognized)
	}
}

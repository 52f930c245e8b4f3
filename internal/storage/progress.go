package storage

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"

	"github.com/masahif/wikitadoru/internal/crawler"
)

// ProgressSink advances a progress bar for every record passed to the wrapped sink
type ProgressSink struct {
	next  crawler.RecordSink
	bar   *progressbar.ProgressBar
	count atomic.Int64
}

// NewProgressSink wraps next with a bar of total steps written to w
func NewProgressSink(next crawler.RecordSink, total int, w io.Writer) *ProgressSink {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("crawling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &ProgressSink{next: next, bar: bar}
}

// Emit forwards the record and advances the bar
func (p *ProgressSink) Emit(ctx context.Context, record *crawler.Record) error {
	if err := p.next.Emit(ctx, record); err != nil {
		return err
	}
	p.count.Add(1)
	_ = p.bar.Add(1)
	return nil
}

// RecordFailure forwards to the wrapped sink when it records failures
func (p *ProgressSink) RecordFailure(ctx context.Context, failure *crawler.PageFailure) error {
	if recorder, ok := p.next.(crawler.FailureRecorder); ok {
		return recorder.RecordFailure(ctx, failure)
	}
	return nil
}

// RecordRun forwards to the wrapped sink when it records runs
func (p *ProgressSink) RecordRun(ctx context.Context, stats crawler.CrawlStats) error {
	if recorder, ok := p.next.(crawler.RunRecorder); ok {
		return recorder.RecordRun(ctx, stats)
	}
	return nil
}

// Close finishes the bar and closes the wrapped sink
func (p *ProgressSink) Close() error {
	_ = p.bar.Finish()
	return p.next.Close()
}

// Count returns the number of records seen so far
func (p *ProgressSink) Count() int {
	return int(p.count.Load())
}

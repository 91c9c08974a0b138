package utils

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"

	"vidfetch/internal"
)

// ProgressTracker renders a session's progress on a terminal
type ProgressTracker struct {
	bar       *pb.ProgressBar
	out       io.Writer
	quiet     bool
	startTime time.Time
	mutex     sync.Mutex

	last internal.ProgressState
}

// DownloadSummary contains final download statistics
type DownloadSummary struct {
	TotalBytes   int64
	TotalTime    time.Duration
	AverageSpeed float64 // bytes per second
	Filename     string
	Path         string
}

// NewProgressTracker creates a percent-based progress bar writing to out
func NewProgressTracker(out io.Writer, quiet bool) *ProgressTracker {
	tracker := &ProgressTracker{
		out:       out,
		quiet:     quiet,
		startTime: time.Now(),
	}

	if !quiet {
		tmpl := `{{string . "prefix"}} {{bar . }} {{percent . }} {{etime . }}`
		bar := pb.ProgressBarTemplate(tmpl).New(100)
		bar.SetWriter(out)
		bar.Set("prefix", "Initializing...")
		bar.Start()
		tracker.bar = bar
	}

	return tracker
}

// Update moves the bar to the observed state. Lower percentages than already
// shown are ignored.
func (p *ProgressTracker) Update(state internal.ProgressState) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if state.Progress < p.last.Progress {
		state.Progress = p.last.Progress
	}
	p.last = state

	if p.bar != nil {
		p.bar.Set("prefix", state.Status)
		p.bar.SetCurrent(int64(state.Progress))
	}
}

// Last returns the most recent state passed to Update
func (p *ProgressTracker) Last() internal.ProgressState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.last
}

// Finish stops the bar and prints a summary for a completed artifact
func (p *ProgressTracker) Finish(artifact *internal.Artifact) *DownloadSummary {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	totalTime := time.Since(p.startTime)
	if p.bar != nil {
		p.bar.Finish()
	}

	summary := &DownloadSummary{TotalTime: totalTime}
	if artifact != nil {
		summary.TotalBytes = artifact.Size
		summary.Filename = artifact.Filename
		summary.Path = artifact.Path
		if secs := totalTime.Seconds(); secs > 0 {
			summary.AverageSpeed = float64(artifact.Size) / secs
		}
	}

	if !p.quiet && artifact != nil {
		p.displaySummary(summary)
	}
	return summary
}

// Abort stops the bar without a summary
func (p *ProgressTracker) Abort() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.bar != nil {
		p.bar.Finish()
	}
}

func (p *ProgressTracker) displaySummary(summary *DownloadSummary) {
	fmt.Fprintf(p.out, "\n")
	fmt.Fprintf(p.out, "Download completed successfully!\n")
	fmt.Fprintf(p.out, "File: %s\n", summary.Filename)
	fmt.Fprintf(p.out, "Total size: %s\n", FormatBytes(summary.TotalBytes))
	fmt.Fprintf(p.out, "Total time: %v\n", summary.TotalTime.Round(time.Millisecond))
	if summary.AverageSpeed > 0 {
		fmt.Fprintf(p.out, "Average speed: %s/s\n", FormatBytes(int64(summary.AverageSpeed)))
	}
	if summary.Path != "" {
		fmt.Fprintf(p.out, "Saved to: %s\n", summary.Path)
	}
}

// IsQuiet returns whether the tracker is in quiet mode
func (p *ProgressTracker) IsQuiet() bool {
	return p.quiet
}

// FormatBytes formats byte count as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

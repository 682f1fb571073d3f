package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// speedSampleWindow bounds how many speed readings feed the smoothed rate.
const speedSampleWindow = 10

// ProgressTracker renders a terminal progress bar for the standalone fetch
// command and keeps the statistics for the completion summary. In quiet
// mode no bar is drawn and Finish prints nothing, but the summary is still
// computed and returned.
type ProgressTracker struct {
	bar   *pb.ProgressBar
	quiet bool
	out   io.Writer

	mu        sync.Mutex
	startTime time.Time
	total     int64
	current   int64
	lastTick  time.Time
	lastBytes int64
	samples   []float64
	filename  string
}

// DownloadSummary is the final accounting of one tracked download.
type DownloadSummary struct {
	TotalBytes   int64
	TotalTime    time.Duration
	AverageSpeed float64 // bytes per second
	PeakSpeed    float64 // bytes per second
	Filename     string
}

// NewProgressTracker starts tracking a download of total bytes.
func NewProgressTracker(total int64, quiet bool) *ProgressTracker {
	tracker := &ProgressTracker{
		quiet:     quiet,
		out:       os.Stdout,
		startTime: time.Now(),
		total:     total,
		lastTick:  time.Now(),
	}

	if !quiet {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`
		bar := pb.ProgressBarTemplate(tmpl).Start64(total)
		bar.Set(pb.Bytes, true)
		bar.Set(pb.SIBytesPrefix, true)
		bar.Set("prefix", "Downloading: ")
		tracker.bar = bar
	}

	return tracker
}

// Update advances the bar and records a speed sample. Samples closer than
// 100ms apart are folded together to keep the rate stable.
func (p *ProgressTracker) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if p.bar != nil {
		p.bar.SetCurrent(current)
	}

	now := time.Now()
	elapsed := now.Sub(p.lastTick).Seconds()
	if elapsed < 0.1 {
		return
	}
	p.samples = append(p.samples, float64(current-p.lastBytes)/elapsed)
	if len(p.samples) > speedSampleWindow {
		p.samples = p.samples[1:]
	}
	p.lastTick = now
	p.lastBytes = current
}

// SetFilename records the artifact name shown in the completion summary.
func (p *ProgressTracker) SetFilename(filename string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filename = filename
}

// Finish stops the bar, prints the completion summary unless quiet, and
// returns the collected statistics.
func (p *ProgressTracker) Finish() *DownloadSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	totalTime := time.Since(p.startTime)
	if p.bar != nil {
		p.bar.Finish()
	}

	var peak float64
	for _, s := range p.samples {
		if s > peak {
			peak = s
		}
	}

	summary := &DownloadSummary{
		TotalBytes:   p.current,
		TotalTime:    totalTime,
		AverageSpeed: float64(p.current) / totalTime.Seconds(),
		PeakSpeed:    peak,
		Filename:     p.filename,
	}
	if !p.quiet {
		p.writeSummary(summary)
	}
	return summary
}

func (p *ProgressTracker) writeSummary(summary *DownloadSummary) {
	fmt.Fprintf(p.out, "\nDownload completed successfully!\n")
	fmt.Fprintf(p.out, "Total size: %s\n", formatBytes(summary.TotalBytes))
	fmt.Fprintf(p.out, "Total time: %v\n", summary.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(p.out, "Average speed: %s/s\n", formatBytes(int64(summary.AverageSpeed)))
	if summary.PeakSpeed > 0 {
		fmt.Fprintf(p.out, "Peak speed: %s/s\n", formatBytes(int64(summary.PeakSpeed)))
	}
	if summary.Filename != "" {
		fmt.Fprintf(p.out, "Saved to: %s\n", summary.Filename)
	}
}

// Stats reports the smoothed speed, remaining time and completed fraction
// of the tracked download.
func (p *ProgressTracker) Stats() (speed float64, eta time.Duration, percentage float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Recent samples weigh the current speed; the last three are enough.
	count := len(p.samples)
	if count > 3 {
		count = 3
	}
	for i := len(p.samples) - count; i < len(p.samples); i++ {
		speed += p.samples[i]
	}
	if count > 0 {
		speed /= float64(count)
	}

	if speed > 0 && p.total > p.current {
		eta = time.Duration(float64(p.total-p.current) / speed * float64(time.Second))
	}
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}
	return speed, eta, percentage
}

// IsQuiet reports whether the tracker suppresses terminal output.
func (p *ProgressTracker) IsQuiet() bool {
	return p.quiet
}

func formatBytes(bytes int64) string {
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

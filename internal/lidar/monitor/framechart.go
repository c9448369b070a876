package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
)

// DefaultChartFrames is how many recent frames a FrameChart keeps.
const DefaultChartFrames = 600

type frameSummary struct {
	seq    uint64
	points int
	spanMs float64
	mode   string
}

// FrameChart records a summary of every frame it receives and renders the
// most recent ones to a standalone HTML page: point count and revolution span
// per frame. It implements pipeline.FrameSink.
type FrameChart struct {
	mu        sync.Mutex
	path      string
	maxFrames int
	frames    []frameSummary
}

// NewFrameChart returns a chart that Render writes to path. maxFrames < 1
// uses DefaultChartFrames.
func NewFrameChart(path string, maxFrames int) (*FrameChart, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create chart dir: %w", err)
	}
	if maxFrames < 1 {
		maxFrames = DefaultChartFrames
	}
	return &FrameChart{path: path, maxFrames: maxFrames}, nil
}

// Path returns the HTML file Render writes.
func (fc *FrameChart) Path() string {
	return fc.path
}

// HandleFrame records frame, evicting the oldest summary when full.
func (fc *FrameChart) HandleFrame(frame *l2frames.Frame) error {
	summary := frameSummary{
		seq:    frame.Seq,
		points: frame.Len(),
		mode:   frame.Mode().String(),
	}
	if frame.EndTimestampNs > frame.StartTimestampNs {
		summary.spanMs = float64(frame.EndTimestampNs-frame.StartTimestampNs) / 1e6
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.frames) == fc.maxFrames {
		copy(fc.frames, fc.frames[1:])
		fc.frames = fc.frames[:len(fc.frames)-1]
	}
	fc.frames = append(fc.frames, summary)
	return nil
}

// Len returns the number of frames currently recorded.
func (fc *FrameChart) Len() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.frames)
}

// Render writes the page to the chart's path, replacing any previous render.
func (fc *FrameChart) Render() error {
	fc.mu.Lock()
	frames := append([]frameSummary(nil), fc.frames...)
	fc.mu.Unlock()

	x := make([]string, len(frames))
	counts := make([]opts.BarData, len(frames))
	spans := make([]opts.LineData, len(frames))
	for i, f := range frames {
		x[i] = strconv.FormatUint(f.seq, 10)
		counts[i] = opts.BarData{Value: f.points, Name: f.mode}
		spans[i] = opts.LineData{Value: f.spanMs}
	}

	subtitle := "no frames"
	if n := len(frames); n > 0 {
		subtitle = fmt.Sprintf("frames %d-%d", frames[0].seq, frames[n-1].seq)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "LiDAR Frames", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Points per frame", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Seq"}),
	)
	bar.SetXAxis(x).AddSeries("points", counts)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Frame span (ms)", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Seq"}),
	)
	line.SetXAxis(x).AddSeries("span", spans)

	page := components.NewPage()
	page.AddCharts(bar, line)

	f, err := os.Create(fc.path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render frame chart: %w", err)
	}
	return f.Close()
}

package monitor

import (
	"fmt"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
)

// heightBands is the number of colour bands points are split into by z.
const heightBands = 8

// FramePlotter writes a top-down scatter of every N-th frame to
// <outputDir>/frame_<seq>.png, coloured by height. It implements
// pipeline.FrameSink.
type FramePlotter struct {
	mu        sync.Mutex
	outputDir string
	every     uint64
	maxRange  float64 // metres; points further out are left off the plot
	written   []string
}

// NewFramePlotter creates outputDir and returns a plotter that renders one
// frame in every. every < 1 is treated as 1. maxRangeMeters <= 0 plots every
// point.
func NewFramePlotter(outputDir string, every int, maxRangeMeters float64) (*FramePlotter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &FramePlotter{
		outputDir: outputDir,
		every:     uint64(every),
		maxRange:  maxRangeMeters,
	}, nil
}

// HandleFrame renders frame when its sequence number is a multiple of the
// configured interval.
func (fp *FramePlotter) HandleFrame(frame *l2frames.Frame) error {
	if frame.Seq%fp.every != 0 {
		return nil
	}

	path := filepath.Join(fp.outputDir, fmt.Sprintf("frame_%d.png", frame.Seq))
	if err := fp.plotFrame(frame, path); err != nil {
		return fmt.Errorf("plot frame %s: %w", frame.ID, err)
	}

	fp.mu.Lock()
	fp.written = append(fp.written, path)
	fp.mu.Unlock()
	log.Printf("[FramePlotter] wrote %s (%d points)", path, frame.Len())
	return nil
}

// Written returns the paths of the plots produced so far.
func (fp *FramePlotter) Written() []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]string(nil), fp.written...)
}

func (fp *FramePlotter) plotFrame(frame *l2frames.Frame, path string) error {
	cloud := frame.Points.Cartesian()

	xs := make([]float64, 0, len(cloud))
	ys := make([]float64, 0, len(cloud))
	zs := make([]float64, 0, len(cloud))
	zMin, zMax := math.Inf(1), math.Inf(-1)
	for _, p := range cloud {
		x, y, z := p.Value.X/1000.0, p.Value.Y/1000.0, p.Value.Z/1000.0
		if fp.maxRange > 0 && math.Hypot(x, y) > fp.maxRange {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
		zs = append(zs, z)
		zMin = math.Min(zMin, z)
		zMax = math.Max(zMax, z)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s seq %d (%s, %d points)", frame.SensorID, frame.Seq, frame.Mode(), frame.Len())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	bands := make([]plotter.XYs, heightBands)
	for i := range xs {
		b := heightBand(zs[i], zMin, zMax)
		bands[b] = append(bands[b], plotter.XY{X: xs[i], Y: ys[i]})
	}

	colors := generateColors(heightBands)
	for b, pts := range bands {
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = colors[b]
		s.GlyphStyle.Radius = vg.Points(0.6)
		p.Add(s)

		lo := zMin + (zMax-zMin)*float64(b)/heightBands
		p.Legend.Add(fmt.Sprintf("z ≥ %.1f m", lo), s)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save frame plot: %w", err)
	}
	return nil
}

// heightBand maps z into [0, heightBands).
func heightBand(z, zMin, zMax float64) int {
	if zMax <= zMin {
		return 0
	}
	b := int((z - zMin) / (zMax - zMin) * heightBands)
	if b >= heightBands {
		b = heightBands - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

// generateColors creates a palette running from blue (low) to red (high).
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := 0.66 * (1 - float64(i)/float64(n))
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

package l2frames

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/lidar-buffer/internal/units"
)

//go:embed sensor_configs/*.csv
var embeddedConfigs embed.FS

// Sensor model names accepted by LoadEmbeddedCalibration.
const (
	ModelVLP16     = "VLP-16"
	ModelPuckLite  = "Puck LITE"
	ModelPuckHiRes = "Puck Hi-Res"
)

var embeddedFiles = map[string]string{
	ModelVLP16:     "sensor_configs/VLP-16.csv",
	ModelPuckLite:  "sensor_configs/Puck LITE.csv",
	ModelPuckHiRes: "sensor_configs/Puck Hi-Res.csv",
}

// Calibration holds one vertical angle and one vertical correction per laser
// channel. It is immutable after construction and safe to share between
// converters running on different goroutines.
type Calibration struct {
	verticalAngles      []units.Angle
	verticalCorrections []units.Length
}

// NewCalibration copies the per-channel tables into a Calibration.
func NewCalibration(verticalAngles []units.Angle, verticalCorrections []units.Length) (*Calibration, error) {
	if len(verticalAngles) == 0 {
		return nil, fmt.Errorf("%w: calibration has no channels", ErrConfiguration)
	}
	if len(verticalAngles) != len(verticalCorrections) {
		return nil, fmt.Errorf("%w: %d vertical angles but %d vertical corrections",
			ErrConfiguration, len(verticalAngles), len(verticalCorrections))
	}
	c := &Calibration{
		verticalAngles:      make([]units.Angle, len(verticalAngles)),
		verticalCorrections: make([]units.Length, len(verticalCorrections)),
	}
	copy(c.verticalAngles, verticalAngles)
	copy(c.verticalCorrections, verticalCorrections)
	return c, nil
}

// Channels returns the number of laser channels per firing.
func (c *Calibration) Channels() int {
	return len(c.verticalAngles)
}

// VerticalAngle returns the elevation of channel i.
func (c *Calibration) VerticalAngle(i int) units.Angle {
	return c.verticalAngles[i]
}

// VerticalCorrection returns the height offset of channel i.
func (c *Calibration) VerticalCorrection(i int) units.Length {
	return c.verticalCorrections[i]
}

// VerticalAngles returns a copy of the elevation table.
func (c *Calibration) VerticalAngles() []units.Angle {
	out := make([]units.Angle, len(c.verticalAngles))
	copy(out, c.verticalAngles)
	return out
}

// VerticalCorrections returns a copy of the height offset table.
func (c *Calibration) VerticalCorrections() []units.Length {
	out := make([]units.Length, len(c.verticalCorrections))
	copy(out, c.verticalCorrections)
	return out
}

// LoadEmbeddedCalibration loads the factory calibration for a sensor model.
func LoadEmbeddedCalibration(model string) (*Calibration, error) {
	name, ok := embeddedFiles[model]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sensor model %q", ErrConfiguration, model)
	}
	file, err := embeddedConfigs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded calibration file: %w", err)
	}
	defer file.Close()
	return readCalibrationCSV(file)
}

// LoadCalibrationCSV loads a calibration from a CSV file with the header
// Channel,Vertical Angle (deg),Vertical Correction (mm).
func LoadCalibrationCSV(path string) (*Calibration, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration file: %w", err)
	}
	defer file.Close()
	return readCalibrationCSV(file)
}

func readCalibrationCSV(r io.Reader) (*Calibration, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration CSV: %w", err)
	}
	return parseCalibration(records)
}

// parseCalibration parses calibration records (shared by file and embedded loading)
func parseCalibration(records [][]string) (*Calibration, error) {
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: insufficient data in calibration file", ErrConfiguration)
	}

	header := records[0]
	if len(header) != 3 ||
		strings.ToLower(strings.TrimSpace(header[0])) != "channel" ||
		!strings.HasPrefix(strings.ToLower(strings.TrimSpace(header[1])), "vertical angle") ||
		!strings.HasPrefix(strings.ToLower(strings.TrimSpace(header[2])), "vertical correction") {
		return nil, fmt.Errorf("%w: invalid header in calibration file, expected: Channel,Vertical Angle (deg),Vertical Correction (mm)", ErrConfiguration)
	}

	rows := records[1:]
	angles := make([]units.Angle, len(rows))
	corrections := make([]units.Length, len(rows))
	seen := make([]bool, len(rows))

	for i, record := range rows {
		line := i + 2
		if len(record) != 3 {
			return nil, fmt.Errorf("%w: invalid record at line %d: expected 3 fields", ErrConfiguration, line)
		}
		channel, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid channel number at line %d: %v", ErrConfiguration, line, err)
		}
		if channel < 0 || channel >= len(rows) {
			return nil, fmt.Errorf("%w: channel number %d out of range (0-%d) at line %d", ErrConfiguration, channel, len(rows)-1, line)
		}
		if seen[channel] {
			return nil, fmt.Errorf("%w: duplicate channel %d at line %d", ErrConfiguration, channel, line)
		}
		deg, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid vertical angle at line %d: %v", ErrConfiguration, line, err)
		}
		mm, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid vertical correction at line %d: %v", ErrConfiguration, line, err)
		}
		seen[channel] = true
		angles[channel] = units.Degrees(deg)
		corrections[channel] = units.Millimeters(mm)
	}

	return NewCalibration(angles, corrections)
}

// VLP16Calibration returns the factory VLP-16 calibration.
func VLP16Calibration() *Calibration {
	return mustEmbedded(ModelVLP16)
}

// PuckLiteCalibration returns the factory Puck LITE calibration.
func PuckLiteCalibration() *Calibration {
	return mustEmbedded(ModelPuckLite)
}

// PuckHiResCalibration returns the factory Puck Hi-Res calibration.
func PuckHiResCalibration() *Calibration {
	return mustEmbedded(ModelPuckHiRes)
}

// mustEmbedded panics only if the compiled-in CSV files are broken.
func mustEmbedded(model string) *Calibration {
	c, err := LoadEmbeddedCalibration(model)
	if err != nil {
		panic(fmt.Sprintf("embedded calibration %s: %v", model, err))
	}
	return c
}

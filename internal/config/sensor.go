package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
	"github.com/banshee-data/lidar-buffer/internal/monitoring"
)

// ExampleConfigPath is the annotated example shipped with the repository.
const ExampleConfigPath = "config/vlp16.example.toml"

// maxFileSize bounds config files read from disk.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// SensorConfig is the configuration of one lidar-frames process: the sensor,
// its input and the sinks completed frames go to. The schema is flat and
// identical across JSON, TOML and YAML. Every field is optional; the Get*
// methods supply defaults for omitted fields.
type SensorConfig struct {
	// Sensor
	SensorID         *string `json:"sensor_id,omitempty" toml:"sensor_id" yaml:"sensor_id"`
	Model            *string `json:"model,omitempty" toml:"model" yaml:"model"`
	CalibrationFile  *string `json:"calibration_file,omitempty" toml:"calibration_file" yaml:"calibration_file"`
	RPM              *int    `json:"rpm,omitempty" toml:"rpm" yaml:"rpm"`
	StrictTimestamps *bool   `json:"strict_timestamps,omitempty" toml:"strict_timestamps" yaml:"strict_timestamps"`

	// Input
	ListenAddress *string  `json:"listen_address,omitempty" toml:"listen_address" yaml:"listen_address"`
	RcvBuf        *int     `json:"rcv_buf,omitempty" toml:"rcv_buf" yaml:"rcv_buf"`
	StatsInterval *string  `json:"stats_interval,omitempty" toml:"stats_interval" yaml:"stats_interval"` // duration string like "10s"
	PCAPSpeed     *float64 `json:"pcap_speed,omitempty" toml:"pcap_speed" yaml:"pcap_speed"`

	// Raw packet forwarding
	ForwardAddress *string `json:"forward_address,omitempty" toml:"forward_address" yaml:"forward_address"`
	ForwardPort    *int    `json:"forward_port,omitempty" toml:"forward_port" yaml:"forward_port"`

	// MQTT sink
	MQTTBroker    *string `json:"mqtt_broker,omitempty" toml:"mqtt_broker" yaml:"mqtt_broker"`
	MQTTTopic     *string `json:"mqtt_topic,omitempty" toml:"mqtt_topic" yaml:"mqtt_topic"`
	MQTTQoS       *int    `json:"mqtt_qos,omitempty" toml:"mqtt_qos" yaml:"mqtt_qos"`
	MQTTRetain    *bool   `json:"mqtt_retain,omitempty" toml:"mqtt_retain" yaml:"mqtt_retain"`
	MQTTMaxPoints *int    `json:"mqtt_max_points,omitempty" toml:"mqtt_max_points" yaml:"mqtt_max_points"`

	// Plot sink
	PlotDir   *string `json:"plot_dir,omitempty" toml:"plot_dir" yaml:"plot_dir"`
	PlotEvery *int    `json:"plot_every,omitempty" toml:"plot_every" yaml:"plot_every"`

	// Logging
	LogFile      *string `json:"log_file,omitempty" toml:"log_file" yaml:"log_file"`
	LogMaxSizeMB *int    `json:"log_max_size_mb,omitempty" toml:"log_max_size_mb" yaml:"log_max_size_mb"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySensorConfig returns a SensorConfig with all fields set to nil.
func EmptySensorConfig() *SensorConfig {
	return &SensorConfig{}
}

// DefaultSensorConfig returns a SensorConfig with every field set to its
// default.
func DefaultSensorConfig() *SensorConfig {
	return &SensorConfig{
		SensorID:         ptrString("vlp16"),
		Model:            ptrString(l2frames.ModelVLP16),
		CalibrationFile:  ptrString(""),
		RPM:              ptrInt(600),
		StrictTimestamps: ptrBool(false),
		ListenAddress:    ptrString(":2368"),
		RcvBuf:           ptrInt(4 << 20),
		StatsInterval:    ptrString("10s"),
		PCAPSpeed:        ptrFloat64(1.0),
		ForwardAddress:   ptrString(""),
		ForwardPort:      ptrInt(2369),
		MQTTBroker:       ptrString(""),
		MQTTTopic:        ptrString("lidar/frames"),
		MQTTQoS:          ptrInt(0),
		MQTTRetain:       ptrBool(false),
		MQTTMaxPoints:    ptrInt(0),
		PlotDir:          ptrString(""),
		PlotEvery:        ptrInt(100),
		LogFile:          ptrString(""),
		LogMaxSizeMB:     ptrInt(25),
	}
}

// LoadSensorConfig loads a SensorConfig from a .json, .toml, .yaml or .yml
// file. Unknown keys are rejected so typos do not silently fall back to
// defaults.
func LoadSensorConfig(path string) (*SensorConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".toml", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .toml, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySensorConfig()
	switch ext {
	case ".json":
		err = decodeJSON(data, cfg)
	case ".toml":
		err = decodeTOML(data, cfg)
	default:
		err = decodeYAML(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decodeJSON(data []byte, cfg *SensorConfig) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

func decodeTOML(data []byte, cfg *SensorConfig) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("failed to parse config TOML: unknown keys %s", strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(data []byte, cfg *SensorConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// an empty document leaves every field at its default
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *SensorConfig) Validate() error {
	if c.SensorID != nil && *c.SensorID == "" {
		return fmt.Errorf("sensor_id must not be empty")
	}

	if c.RPM != nil {
		if *c.RPM <= 0 || *c.RPM%60 != 0 {
			return fmt.Errorf("rpm must be a positive multiple of 60, got %d", *c.RPM)
		}
	}

	// a calibration file replaces the model's factory table
	if c.Model != nil && (c.CalibrationFile == nil || *c.CalibrationFile == "") {
		switch *c.Model {
		case l2frames.ModelVLP16, l2frames.ModelPuckLite, l2frames.ModelPuckHiRes:
		default:
			return fmt.Errorf("unknown model %q", *c.Model)
		}
	}

	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf)
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		d, err := time.ParseDuration(*c.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("stats_interval must be positive, got %s", *c.StatsInterval)
		}
	}

	if c.PCAPSpeed != nil && *c.PCAPSpeed < 0 {
		return fmt.Errorf("pcap_speed must be non-negative, got %f", *c.PCAPSpeed)
	}

	if c.ForwardPort != nil && (*c.ForwardPort < 0 || *c.ForwardPort > 65535) {
		return fmt.Errorf("forward_port must be between 0 and 65535, got %d", *c.ForwardPort)
	}

	if c.MQTTQoS != nil && (*c.MQTTQoS < 0 || *c.MQTTQoS > 2) {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", *c.MQTTQoS)
	}

	if c.PlotEvery != nil && *c.PlotEvery < 1 {
		return fmt.Errorf("plot_every must be at least 1, got %d", *c.PlotEvery)
	}

	if c.LogMaxSizeMB != nil && *c.LogMaxSizeMB < 0 {
		return fmt.Errorf("log_max_size_mb must be non-negative, got %d", *c.LogMaxSizeMB)
	}

	return nil
}

// GetSensorID returns the sensor_id value or the default.
func (c *SensorConfig) GetSensorID() string {
	if c.SensorID == nil || *c.SensorID == "" {
		return "vlp16"
	}
	return *c.SensorID
}

// GetModel returns the model value or the default.
func (c *SensorConfig) GetModel() string {
	if c.Model == nil || *c.Model == "" {
		return l2frames.ModelVLP16
	}
	return *c.Model
}

// GetCalibrationFile returns the calibration_file value or "".
func (c *SensorConfig) GetCalibrationFile() string {
	if c.CalibrationFile == nil {
		return ""
	}
	return *c.CalibrationFile
}

// GetRPM returns the rpm value or the default.
func (c *SensorConfig) GetRPM() int {
	if c.RPM == nil {
		return 600
	}
	return *c.RPM
}

// GetStrictTimestamps returns the strict_timestamps value or the default.
func (c *SensorConfig) GetStrictTimestamps() bool {
	if c.StrictTimestamps == nil {
		return false
	}
	return *c.StrictTimestamps
}

// GetListenAddress returns the listen_address value or the default.
func (c *SensorConfig) GetListenAddress() string {
	if c.ListenAddress == nil || *c.ListenAddress == "" {
		return ":2368"
	}
	return *c.ListenAddress
}

// GetRcvBuf returns the rcv_buf value or the default.
func (c *SensorConfig) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return 4 << 20
	}
	return *c.RcvBuf
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *SensorConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetPCAPSpeed returns the pcap_speed value or the default.
func (c *SensorConfig) GetPCAPSpeed() float64 {
	if c.PCAPSpeed == nil {
		return 1.0
	}
	return *c.PCAPSpeed
}

// GetForwardAddress returns the forward_address value; "" disables forwarding.
func (c *SensorConfig) GetForwardAddress() string {
	if c.ForwardAddress == nil {
		return ""
	}
	return *c.ForwardAddress
}

// GetForwardPort returns the forward_port value or the default.
func (c *SensorConfig) GetForwardPort() int {
	if c.ForwardPort == nil || *c.ForwardPort == 0 {
		return 2369
	}
	return *c.ForwardPort
}

// GetMQTTBroker returns the mqtt_broker value; "" disables publishing.
func (c *SensorConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

// GetMQTTTopic returns the mqtt_topic value or the default.
func (c *SensorConfig) GetMQTTTopic() string {
	if c.MQTTTopic == nil || *c.MQTTTopic == "" {
		return "lidar/frames"
	}
	return *c.MQTTTopic
}

// GetMQTTQoS returns the mqtt_qos value or the default.
func (c *SensorConfig) GetMQTTQoS() byte {
	if c.MQTTQoS == nil {
		return 0
	}
	return byte(*c.MQTTQoS)
}

// GetMQTTRetain returns the mqtt_retain value or the default.
func (c *SensorConfig) GetMQTTRetain() bool {
	if c.MQTTRetain == nil {
		return false
	}
	return *c.MQTTRetain
}

// GetMQTTMaxPoints returns the mqtt_max_points value or the default.
func (c *SensorConfig) GetMQTTMaxPoints() int {
	if c.MQTTMaxPoints == nil {
		return 0
	}
	return *c.MQTTMaxPoints
}

// GetPlotDir returns the plot_dir value; "" disables plotting.
func (c *SensorConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}

// GetPlotEvery returns the plot_every value or the default.
func (c *SensorConfig) GetPlotEvery() int {
	if c.PlotEvery == nil {
		return 100
	}
	return *c.PlotEvery
}

// LogConfig returns the logging settings.
func (c *SensorConfig) LogConfig() monitoring.LogConfig {
	cfg := monitoring.LogConfig{MaxSizeMB: 25}
	if c.LogFile != nil {
		cfg.File = *c.LogFile
	}
	if c.LogMaxSizeMB != nil && *c.LogMaxSizeMB > 0 {
		cfg.MaxSizeMB = *c.LogMaxSizeMB
	}
	return cfg
}

// LoadCalibration returns the calibration named by calibration_file, or the
// factory table of the configured model.
func (c *SensorConfig) LoadCalibration() (*l2frames.Calibration, error) {
	if path := c.GetCalibrationFile(); path != "" {
		return l2frames.LoadCalibrationCSV(path)
	}
	return l2frames.LoadEmbeddedCalibration(c.GetModel())
}

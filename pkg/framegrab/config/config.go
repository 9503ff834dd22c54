package config

import (
	"fmt"
	"os"
	"time"

	"github.com/norasector/framegrab/pkg/deframe"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Device           string `yaml:"device"`
	PlaybackLocation string `yaml:"playback_location"`
	RecordLocation   string `yaml:"record_location"`
	ReadSize         int    `yaml:"read_size"`
	// ReadDelay paces file playback.
	ReadDelay   time.Duration `yaml:"read_delay"`
	IdleBackoff time.Duration `yaml:"idle_backoff"`

	Serial struct {
		Port        string        `yaml:"port"`
		BaudRate    int           `yaml:"baud_rate"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"serial"`
	RTT struct {
		Address      string        `yaml:"address"`
		StartTimeout time.Duration `yaml:"start_timeout"`
		ReadDeadline time.Duration `yaml:"read_deadline"`
	} `yaml:"rtt"`

	Framing Framing `yaml:"framing"`

	Output struct {
		Dir    string `yaml:"dir"`
		Prefix string `yaml:"prefix"`
	} `yaml:"output"`
	OutputDestinations []OutputDestination `yaml:"output_destinations"`

	VizServer struct {
		Port           int           `yaml:"port"`
		UpdateInterval time.Duration `yaml:"update_interval"`
	} `yaml:"viz_server"`
	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

type Framing struct {
	HeaderTag      string        `yaml:"header_tag"`
	Separator      string        `yaml:"separator"`
	Sentinel       string        `yaml:"sentinel"`
	ErrorMarker    string        `yaml:"error_marker"`
	MaxPayload     int           `yaml:"max_payload"`
	MaxLine        int           `yaml:"max_line"`
	PayloadTimeout time.Duration `yaml:"payload_timeout"`
	Preempt        string        `yaml:"preempt"`
}

type OutputDestination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

const (
	DeviceSerial = "serial"
	DeviceRTT    = "rtt"
	DeviceFile   = "file"
)

func Load(path string) (Config, error) {
	var cfg Config
	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate fills defaults and rejects values the grabber cannot run with.
func (c *Config) Validate() error {
	if c.PlaybackLocation != "" {
		c.Device = DeviceFile
	}
	switch c.Device {
	case "":
		c.Device = DeviceSerial
	case DeviceSerial, DeviceRTT, DeviceFile:
	default:
		return fmt.Errorf("unknown device %q", c.Device)
	}
	if c.Device == DeviceFile && c.PlaybackLocation == "" {
		return fmt.Errorf("file device needs playback_location")
	}

	defaults := deframe.DefaultConfig()
	if c.ReadSize == 0 {
		c.ReadSize = defaults.ReadSize
	}
	if c.IdleBackoff == 0 {
		c.IdleBackoff = defaults.IdleBackoff
	}
	if c.Serial.Port == "" {
		c.Serial.Port = "/dev/ttyACM0"
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 2000000
	}
	if c.RTT.StartTimeout == 0 {
		c.RTT.StartTimeout = 10 * time.Second
	}

	f := &c.Framing
	if f.HeaderTag == "" {
		f.HeaderTag = defaults.HeaderTag
	}
	if f.Separator == "" {
		f.Separator = defaults.Separator
	}
	if f.Sentinel == "" {
		f.Sentinel = defaults.Sentinel
	}
	if f.ErrorMarker == "" {
		f.ErrorMarker = defaults.ErrorMarker
	}
	if f.MaxPayload == 0 {
		f.MaxPayload = defaults.MaxPayload
	}
	if f.MaxLine == 0 {
		f.MaxLine = defaults.MaxLine
	}
	// a negative payload_timeout disables the bound
	if f.PayloadTimeout == 0 {
		f.PayloadTimeout = defaults.PayloadTimeout
	}
	switch deframe.PreemptPolicy(f.Preempt) {
	case "":
		f.Preempt = string(defaults.Preempt)
	case deframe.PreemptEmit, deframe.PreemptDiscard:
	default:
		return fmt.Errorf("unknown preempt policy %q", f.Preempt)
	}
	if f.MaxPayload < 0 || f.MaxLine < 0 {
		return fmt.Errorf("framing limits must not be negative")
	}

	if c.Output.Prefix == "" {
		c.Output.Prefix = "capture_"
	}
	if c.VizServer.UpdateInterval == 0 {
		c.VizServer.UpdateInterval = 500 * time.Millisecond
	}
	return nil
}

// EngineConfig converts the framing section for the deframe engine.
func (c Config) EngineConfig() deframe.Config {
	return deframe.Config{
		HeaderTag:      c.Framing.HeaderTag,
		Separator:      c.Framing.Separator,
		Sentinel:       c.Framing.Sentinel,
		ErrorMarker:    c.Framing.ErrorMarker,
		MaxPayload:     c.Framing.MaxPayload,
		MaxLine:        c.Framing.MaxLine,
		ReadSize:       c.ReadSize,
		PayloadTimeout: c.Framing.PayloadTimeout,
		IdleBackoff:    c.IdleBackoff,
		Preempt:        deframe.PreemptPolicy(c.Framing.Preempt),
	}
}

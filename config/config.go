package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// ControllerType identifies the kind of controller
type ControllerType string

const (
	ControllerLaunchpadX    ControllerType = "launchpad-x"
	ControllerLaunchpadMini ControllerType = "launchpad-mini"
	ControllerKeyboard      ControllerType = "keyboard"
)

// ControllerConfig defines a saved controller configuration
type ControllerConfig struct {
	PortName     string         `json:"portName"`
	Type         ControllerType `json:"type"`
	AutoConnect  bool           `json:"autoConnect"`
	InputChannel int            `json:"inputChannel,omitempty"` // for keyboards, 0 = any
}

// AudioConfig covers the output device and the sample bank
type AudioConfig struct {
	SampleRate   int     `json:"sampleRate,omitempty"`
	BufferMs     int     `json:"bufferMs,omitempty"`
	MasterVolume float64 `json:"masterVolume,omitempty"`
	// Bank paths, relative to the config dir unless absolute
	BankAudio string `json:"bankAudio,omitempty"`
	BankIndex string `json:"bankIndex,omitempty"`
}

// SchedulerConfig tunes the lookahead scheduler
type SchedulerConfig struct {
	LookaheadSlots int `json:"lookaheadSlots,omitempty"`
	RefillMs       int `json:"refillMs,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	Palette  string `json:"palette,omitempty"` // GPL file; empty uses the built-in palette
	ShowHelp bool   `json:"showHelp,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Audio       AudioConfig        `json:"audio,omitempty"`
	Scheduler   SchedulerConfig    `json:"scheduler,omitempty"`
	Session     Session            `json:"session,omitempty"`
	Controllers []ControllerConfig `json:"controllers,omitempty"`
	UI          UIConfig           `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:   44100,
			BufferMs:     100,
			MasterVolume: 1,
			BankAudio:    filepath.Join("bank", "main.mp3"),
			BankIndex:    filepath.Join("bank", "main.json"),
		},
		Scheduler: SchedulerConfig{
			LookaheadSlots: 64,
			RefillMs:       1000,
		},
		Session: Session{
			Machine: "salsa",
		},
		Controllers: []ControllerConfig{
			{
				PortName:    "Launchpad X LPX MIDI",
				Type:        ControllerLaunchpadX,
				AutoConnect: true,
			},
		},
		UI: UIConfig{
			ShowHelp: true,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-beatmachine"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFile(path)
}

// LoadFile reads a config file. Missing files and missing fields take the
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config to path, creating its directory
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// BankPaths resolves the bank files against the config dir
func (c *Config) BankPaths() (audio, index string) {
	dir, _ := ConfigDir()
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || dir == "" {
			return p
		}
		return filepath.Join(dir, p)
	}
	return resolve(c.Audio.BankAudio), resolve(c.Audio.BankIndex)
}

// Buffer returns the output buffer length
func (c *Config) Buffer() time.Duration {
	return time.Duration(c.Audio.BufferMs) * time.Millisecond
}

// RefillInterval returns the scheduler refill period
func (c *Config) RefillInterval() time.Duration {
	return time.Duration(c.Scheduler.RefillMs) * time.Millisecond
}

// FindController finds a controller config by port name
func (c *Config) FindController(portName string) *ControllerConfig {
	for i := range c.Controllers {
		if c.Controllers[i].PortName == portName {
			return &c.Controllers[i]
		}
	}
	return nil
}

// AddController adds or updates a controller config
func (c *Config) AddController(ctrl ControllerConfig) {
	for i := range c.Controllers {
		if c.Controllers[i].PortName == ctrl.PortName {
			c.Controllers[i] = ctrl
			return
		}
	}
	c.Controllers = append(c.Controllers, ctrl)
}

// AutoConnectControllers returns controllers with autoConnect enabled
func (c *Config) AutoConnectControllers() []ControllerConfig {
	var result []ControllerConfig
	for _, ctrl := range c.Controllers {
		if ctrl.AutoConnect {
			result = append(result, ctrl)
		}
	}
	return result
}

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"lautenbacher.net/spimotor/card"
	"lautenbacher.net/spimotor/chain"
)

const CONFILE = "spimotor.yml"

const (
	BackendRpio   = "rpio"
	BackendPeriph = "periph.io"
	BackendSim    = "sim"
)

type Config struct {
	Hardware HardwareConfig     `yaml:"Hardware"`
	Chain    ChainConfig        `yaml:"Chain"`
	Cards    map[string]CardCfg `yaml:"Cards"`
	Startup  []StartupCmd       `yaml:"Startup"`
	MQTT     MQTTConfig         `yaml:"MQTT"`
	Web      WebConfig          `yaml:"Web"`
	Logging  LoggingConfig      `yaml:"Logging"`
}

type HardwareConfig struct {
	Backend      string `yaml:"Backend"`
	SPIDevice    string `yaml:"SPIDevice"`
	SPIFrequency int    `yaml:"SPIFrequency"`
	CSPin        int    `yaml:"CSPin"`
	// SimBrokenCard makes the simulated card at this position drop its
	// output line. Only used with the sim backend, 0 disables it.
	SimBrokenCard int `yaml:"SimBrokenCard"`
}

type ChainConfig struct {
	Total           int `yaml:"Total"`
	MaxDetectCycles int `yaml:"MaxDetectCycles"`
	TraceDepth      int `yaml:"TraceDepth"`
}

type CardCfg struct {
	Position  int  `yaml:"Position" json:"position"`
	InvertPWM bool `yaml:"InvertPWM" json:"invertPWM"`
}

// StartupCmd is applied to a card right after the chain length was confirmed.
type StartupCmd struct {
	Card      string `yaml:"Card" json:"card"`
	Channel   string `yaml:"Channel" json:"channel"`
	Direction string `yaml:"Direction" json:"direction"`
	Speed     int    `yaml:"Speed" json:"speed"`
}

type MQTTConfig struct {
	Enabled bool   `yaml:"Enabled"`
	Broker  string `yaml:"Broker"`
	QoS     byte   `yaml:"QoS"`
}

// WebConfig enables the HTTP API for card status and runtime settings.
type WebConfig struct {
	Enabled bool   `yaml:"Enabled"`
	Listen  string `yaml:"Listen"`
}

type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	File   string `yaml:"File"`
}

// LoggingConfig has separate settings for the simulation TUI and for real
// hardware.
type LoggingConfig struct {
	TUI LogConfig `yaml:"TUI"`
	HW  LogConfig `yaml:"HW"`
}

func ReadConfig(cfile string) (Config, error) {
	var conf Config
	data, err := os.ReadFile(cfile)
	if err != nil {
		return conf, fmt.Errorf("can't read config file %s: %w", cfile, err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}
	conf.applyDefaults()
	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("invalid config file %s: %w", cfile, err)
	}
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.Chain.MaxDetectCycles == 0 {
		c.Chain.MaxDetectCycles = chain.DefaultMaxDetectCycles
	}
	if c.Hardware.SPIDevice == "" {
		c.Hardware.SPIDevice = "/dev/spidev0.0"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Hardware.Backend {
	case BackendRpio, BackendPeriph:
		if c.Hardware.SPIFrequency <= 0 {
			errs = append(errs, fmt.Errorf("Hardware.SPIFrequency must be positive, got %d", c.Hardware.SPIFrequency))
		}
		if c.Hardware.CSPin < 0 || c.Hardware.CSPin > 27 {
			errs = append(errs, fmt.Errorf("Hardware.CSPin must be between 0 and 27, got %d", c.Hardware.CSPin))
		}
	case BackendSim:
		if c.Hardware.SimBrokenCard < 0 || c.Hardware.SimBrokenCard > c.Chain.Total {
			errs = append(errs, fmt.Errorf("Hardware.SimBrokenCard must be between 0 and %d, got %d", c.Chain.Total, c.Hardware.SimBrokenCard))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown Hardware.Backend %q (want %s, %s or %s)", c.Hardware.Backend, BackendRpio, BackendPeriph, BackendSim))
	}

	if c.Chain.MaxDetectCycles < 1 {
		errs = append(errs, fmt.Errorf("Chain.MaxDetectCycles must be positive, got %d", c.Chain.MaxDetectCycles))
	}
	if c.Chain.Total < 1 || c.Chain.Total > c.Chain.MaxDetectCycles {
		errs = append(errs, fmt.Errorf("Chain.Total must be between 1 and %d, got %d", c.Chain.MaxDetectCycles, c.Chain.Total))
	}
	if c.Chain.TraceDepth < 0 {
		errs = append(errs, fmt.Errorf("Chain.TraceDepth must not be negative, got %d", c.Chain.TraceDepth))
	}

	if len(c.Cards) == 0 {
		errs = append(errs, errors.New("at least one card must be configured"))
	}
	positions := make(map[int]string, len(c.Cards))
	for _, name := range c.CardNames() {
		cfg := c.Cards[name]
		if _, err := chain.NewAddress(cfg.Position, c.Chain.Total); err != nil {
			errs = append(errs, fmt.Errorf("card %s: Position must be between 1 and %d, got %d", name, c.Chain.Total, cfg.Position))
			continue
		}
		if other, dup := positions[cfg.Position]; dup {
			errs = append(errs, fmt.Errorf("cards %s and %s share position %d", other, name, cfg.Position))
		}
		positions[cfg.Position] = name
	}

	for i, cmd := range c.Startup {
		if _, ok := c.Cards[cmd.Card]; !ok {
			errs = append(errs, fmt.Errorf("Startup[%d]: unknown card %q", i, cmd.Card))
		}
		if _, err := card.ParseChannel(cmd.Channel); err != nil {
			errs = append(errs, fmt.Errorf("Startup[%d]: %w", i, err))
		}
		if _, err := card.ParseDirection(cmd.Direction); err != nil {
			errs = append(errs, fmt.Errorf("Startup[%d]: %w", i, err))
		}
		if cmd.Speed < 0 || cmd.Speed > 255 {
			errs = append(errs, fmt.Errorf("Startup[%d]: Speed must be between 0 and 255, got %d", i, cmd.Speed))
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("MQTT.Broker must be set when MQTT is enabled"))
	}
	if c.Web.Enabled && c.Web.Listen == "" {
		errs = append(errs, errors.New("Web.Listen must be set when the web API is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT.QoS must be between 0 and 2, got %d", c.MQTT.QoS))
	}

	for name, lc := range map[string]LogConfig{"TUI": c.Logging.TUI, "HW": c.Logging.HW} {
		switch strings.ToUpper(lc.Level) {
		case "", "DEBUG", "INFO", "WARN", "ERROR":
		default:
			errs = append(errs, fmt.Errorf("Logging.%s.Level %q unknown", name, lc.Level))
		}
		switch strings.ToLower(lc.Format) {
		case "", "text", "json":
		default:
			errs = append(errs, fmt.Errorf("Logging.%s.Format %q unknown", name, lc.Format))
		}
	}

	return errors.Join(errs...)
}

// CardNames returns the configured card names ordered by chain position.
func (c *Config) CardNames() []string {
	names := make([]string, 0, len(c.Cards))
	for name := range c.Cards {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := c.Cards[names[i]].Position, c.Cards[names[j]].Position
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// Package config parses the engine's command-line flags (§6) and an
// optional YAML overrides file, mirroring the teacher's config.go
// precedent that command-line values win over a config file.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// BoardID values for the discovery reply (§6).
type BoardID byte

const (
	BoardSaturn   BoardID = 10
	BoardOrionMk2 BoardID = 5
)

// MicInput selects balanced XLR or 3.5mm jack microphone input (§6 "-m").
type MicInput string

const (
	MicXLR  MicInput = "xlr"
	MicJack MicInput = "jack"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Board       BoardID
	Mic         MicInput
	TestDDSHz   int
	TestDDS     bool
	NoExitCheck bool // -s, suppress console exit checker
	Debug       bool // -d

	FirmwareVersion int
	ProtocolVersion byte // 39 = v3.8

	DNSSDName    string
	DNSSDEnabled bool

	// InterlockGPIOChip/Line, when non-empty/non-zero, configure the
	// optional external interlock input (SPEC_FULL §4.6 supplement).
	InterlockGPIOChip string
	InterlockGPIOLine int

	// PortOverrides holds the port_overrides map read from a YAML file. It
	// is loaded into Config only; nothing applies it to the endpoint table,
	// so the fixed default endpoint ports stay in effect.
	PortOverrides map[string]int `yaml:"port_overrides"`

	// CATRigModel/CATRigPort configure the goHamlib-backed CAT bridge
	// (SPEC_FULL "CAT bridge" supplement). Model 1 is goHamlib's dummy
	// rig, which needs no physical port.
	CATRigModel int
	CATRigPort  string

	// NetworkInterface names the interface LocalMAC reads for the
	// discovery reply (§6, §8 scenario 1).
	NetworkInterface string

	// RegisterDeviceNode is the register-window character device
	// (§6 "DMA character devices") watched for hot-plug removal via
	// SPEC_FULL §4.1's udev device-presence collaborator. Empty disables
	// the watch (e.g. against the simulated transport).
	RegisterDeviceNode string
}

// fileConfig is the subset of Config that may come from a YAML file; CLI
// flags always override it.
type fileConfig struct {
	DNSSDName         string         `yaml:"dns_sd_name"`
	DNSSDEnabled      *bool          `yaml:"dns_sd_enabled"`
	FirmwareVersion   *int           `yaml:"firmware_version"`
	InterlockGPIOChip string         `yaml:"interlock_gpio_chip"`
	InterlockGPIOLine int            `yaml:"interlock_gpio_line"`
	PortOverrides     map[string]int `yaml:"port_overrides"`
}

// Default returns the built-in defaults before flags or a config file are
// applied.
func Default() Config {
	return Config{
		Board:            BoardSaturn,
		Mic:              MicXLR,
		FirmwareVersion:  20,
		ProtocolVersion:  39,
		DNSSDEnabled:     true,
		DNSSDName:        "",
		CATRigModel:      1, // goHamlib dummy rig
		NetworkInterface: "eth0",
	}
}

// Parse builds a Config from argv, loading an optional --config YAML file
// first so that flags can still override it (§6, SPEC_FULL "Configuration").
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("hpsdrd", pflag.ContinueOnError)

	var (
		identFlag  = fs.StringP("i", "i", "saturn", "board identity: saturn | orionmk2")
		micFlag    = fs.StringP("m", "m", "xlr", "microphone input: xlr | jack")
		testDDS    = fs.Float64P("f", "f", 0, "enable internal test DDS at the given frequency (Hz) and route both ADCs to it")
		noExit     = fs.BoolP("s", "s", false, "suppress the console exit checker (service mode)")
		debug      = fs.BoolP("d", "d", false, "enable debug logging")
		configPath = fs.String("config", "", "path to an optional YAML overrides file")
		version    = fs.Bool("version", false, "print version and exit")
		iface      = fs.StringP("n", "n", "eth0", "network interface to advertise in discovery replies")
	)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *version {
		return Config{}, errVersionRequested
	}

	if *configPath != "" {
		fc, err := loadFile(*configPath)
		if err != nil {
			return Config{}, err
		}

		applyFile(&cfg, fc)
	}

	switch *identFlag {
	case "saturn":
		cfg.Board = BoardSaturn
	case "orionmk2":
		cfg.Board = BoardOrionMk2
	default:
		return Config{}, fmt.Errorf("config: unknown -i value %q", *identFlag)
	}

	switch MicInput(*micFlag) {
	case MicXLR, MicJack:
		cfg.Mic = MicInput(*micFlag)
	default:
		return Config{}, fmt.Errorf("config: unknown -m value %q", *micFlag)
	}

	if *testDDS > 0 {
		cfg.TestDDS = true
		cfg.TestDDSHz = int(*testDDS)
	}

	cfg.NoExitCheck = *noExit
	cfg.Debug = *debug
	cfg.NetworkInterface = *iface

	return cfg, nil
}

var errVersionRequested = fmt.Errorf("config: version requested")

// IsVersionRequested reports whether Parse's error was the --version
// sentinel rather than a real parse failure.
func IsVersionRequested(err error) bool { return err == errVersionRequested }

func loadFile(path string) (fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return fc, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	if fc.DNSSDName != "" {
		cfg.DNSSDName = fc.DNSSDName
	}

	if fc.DNSSDEnabled != nil {
		cfg.DNSSDEnabled = *fc.DNSSDEnabled
	}

	if fc.FirmwareVersion != nil {
		cfg.FirmwareVersion = *fc.FirmwareVersion
	}

	cfg.InterlockGPIOChip = fc.InterlockGPIOChip
	cfg.InterlockGPIOLine = fc.InterlockGPIOLine

	if len(fc.PortOverrides) > 0 {
		cfg.PortOverrides = fc.PortOverrides
	}
}

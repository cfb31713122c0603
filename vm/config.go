package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// unitMultiplier mirrors original_source/types.h's memory_prefix enum
// (MEM_BYTE=1, MEM_KB=1024, MEM_MB=1024*1024, MEM_GB=1024^3).
func unitMultiplier(unit string) (uint64, error) {
	switch unit {
	case "", "byte", "bytes":
		return 1, nil
	case "kb", "KB":
		return 1024, nil
	case "mb", "MB":
		return 1024 * 1024, nil
	case "gb", "GB":
		return 1024 * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("rvm: unknown memory unit %q", unit)
	}
}

// Config is the TOML-loadable VM construction parameter set of spec §6.
// Grounded on lookbusy1344-arm_emulator/config/config.go's nested,
// toml-tagged Config struct and DefaultConfig()/LoadFrom(path) pair — the
// one repo in the pack with a real configuration layer to learn the idiom
// from.
type Config struct {
	Registers struct {
		Width Width `toml:"width"` // one of 1,2,4,8 bytes
		Count int    `toml:"count"` // general-purpose register count, <= 253
	} `toml:"registers"`

	Memory struct {
		HeapSize   uint64 `toml:"heap_size"`
		HeapUnit   string `toml:"heap_unit"`
		StackSize  uint64 `toml:"stack_size"`
		StackUnit  string `toml:"stack_unit"`
	} `toml:"memory"`
}

// DefaultConfig mirrors spec §3's stated default of 32 general registers,
// sized for the §8 S1/S6 fixtures (8-byte-wide registers, an 8KB heap and a
// 1KB stack are ample headroom for either).
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Registers.Width = W8
	cfg.Registers.Count = 32
	cfg.Memory.HeapSize = 8
	cfg.Memory.HeapUnit = "kb"
	cfg.Memory.StackSize = 1
	cfg.Memory.StackUnit = "kb"
	return cfg
}

// LoadConfig reads a TOML document from path, overlaying it onto
// DefaultConfig. A missing file is not an error — the defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("rvm: failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadConfigString decodes a TOML document held in memory, overlaying it
// onto DefaultConfig. Useful for tests and for embedding a config alongside
// a compiled program without touching the filesystem.
func LoadConfigString(doc string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.Decode(doc, cfg); err != nil {
		return nil, fmt.Errorf("rvm: failed to parse config: %w", err)
	}
	return cfg, nil
}

// HeapBytes and StackBytes resolve the size+unit pair into a raw byte count.
func (c *Config) HeapBytes() (uint64, error) {
	m, err := unitMultiplier(c.Memory.HeapUnit)
	if err != nil {
		return 0, err
	}
	return c.Memory.HeapSize * m, nil
}

func (c *Config) StackBytes() (uint64, error) {
	m, err := unitMultiplier(c.Memory.StackUnit)
	if err != nil {
		return 0, err
	}
	return c.Memory.StackSize * m, nil
}

// validate checks the §6 constraint 2^(8*max_width) >= heap_capacity_bytes
// and the register-count/width bounds, returning a MemorySizeInvalid
// CompileError on violation, or the plain unit error for an unknown unit.
func (c *Config) validate() error {
	if !c.Registers.Width.valid() {
		return errMemorySizeInvalid(c.Registers.Width, 0, "invalid register width")
	}
	if c.Registers.Count <= 0 || c.Registers.Count > 253 {
		return &CompileError{Kind: MemorySizeInvalid, What: "register count must be in (0,253]"}
	}
	heapBytes, err := c.HeapBytes()
	if err != nil {
		return err
	}
	stackBytes, err := c.StackBytes()
	if err != nil {
		return err
	}
	if c.Registers.Width < W8 {
		limit := uint64(1) << (8 * c.Registers.Width)
		if heapBytes > limit {
			return errMemorySizeInvalid(c.Registers.Width, int64(heapBytes), c.Memory.HeapUnit)
		}
		if stackBytes > limit {
			return errMemorySizeInvalid(c.Registers.Width, int64(stackBytes), c.Memory.StackUnit)
		}
	}
	return nil
}

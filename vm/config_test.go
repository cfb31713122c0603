package vm

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert(t, cfg.validate() == nil, "default config should validate")
}

func TestLoadConfigStringOverlaysDefaults(t *testing.T) {
	cfg, err := LoadConfigString(`
		[registers]
		count = 8

		[memory]
		heap_size = 2
		heap_unit = "kb"
	`)
	assert(t, err == nil, "load failed: %s", err)
	assert(t, cfg.Registers.Count == 8, "count: got %d, want 8", cfg.Registers.Count)
	assert(t, cfg.Registers.Width == W8, "width should keep its default: got %s", cfg.Registers.Width)

	heap, err := cfg.HeapBytes()
	assert(t, err == nil, "heap bytes: %s", err)
	assert(t, heap == 2048, "heap bytes: got %d, want 2048", heap)
}

func TestConfigRejectsOversizedHeapForNarrowWidth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registers.Width = W1
	cfg.Memory.HeapUnit = "byte"
	cfg.Memory.HeapSize = 1000 // exceeds 2^8 addressable with a 1-byte register

	assert(t, cfg.validate() != nil, "expected validation error for heap too large for B1 registers")
}

func TestConfigRejectsBadRegisterCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registers.Count = 0
	assert(t, cfg.validate() != nil, "expected validation error for zero register count")
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/rvm.toml")
	assert(t, err == nil, "missing config file should not error: %s", err)
	assert(t, cfg.Registers.Count == DefaultConfig().Registers.Count, "should fall back to defaults")
}

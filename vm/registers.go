package vm

// Reserved register IDs, per spec §3/§6: COUNTER and STACK are program-owned
// and never appear as entries in the RegisterFile itself, but share the
// single-byte addressing space with general-purpose registers.
const (
	CounterRegisterID byte = 0xFE
	StackRegisterID    byte = 0xFF
)

// RegisterFile is a fixed-count array of Value carriers, addressed by a
// single byte with modular wrapping for out-of-range general-purpose IDs.
// Grounded on the teacher's vm.go register slice, generalized to a
// configurable count and width (the teacher's VM is fixed at 32 registers).
type RegisterFile struct {
	regs  []Value
	width Width
}

func NewRegisterFile(count int, width Width) *RegisterFile {
	regs := make([]Value, count)
	for i := range regs {
		regs[i] = Value{Width: width}
	}
	return &RegisterFile{regs: regs, width: width}
}

func (rf *RegisterFile) Count() int    { return len(rf.regs) }
func (rf *RegisterFile) Width() Width  { return rf.width }

// index maps a general-purpose register ID to a slot, wrapping modulo the
// configured count. Callers must not pass CounterRegisterID/StackRegisterID
// here — those are dispatched by the VM before reaching the register file.
func (rf *RegisterFile) index(id byte) int {
	return int(id) % len(rf.regs)
}

func (rf *RegisterFile) Get(id byte) Value {
	return rf.regs[rf.index(id)]
}

func (rf *RegisterFile) Set(id byte, v Value) {
	rf.regs[rf.index(id)] = NewValue(rf.width, v.Get())
}

// Snapshot returns a copy of all general-purpose register values, for
// deterministic-execution comparisons (spec §8 property 7) and debug dumps.
func (rf *RegisterFile) Snapshot() []Value {
	out := make([]Value, len(rf.regs))
	copy(out, rf.regs)
	return out
}

package vm

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
)

// VM is the register-based virtual machine of spec §4.5. Its shape mirrors
// the teacher's VM struct (vm/vm.go): a register array, a program-owned
// program counter and stack pointer kept outside the general-purpose
// register file, the backing program bytes, and a last-error slot read by
// Run's caller after execution stops. Width and register count are
// parametric here where the teacher's are fixed.
type VM struct {
	cfg  *Config
	regs *RegisterFile
	mem  *Memory

	pc uint64 // byte offset into program; register-shaped but program-owned
	sp Value  // stack pointer value, program-owned

	program []byte
	errcode error
}

// NewVM validates cfg and reserves the stack and heap regions it describes.
func NewVM(cfg *Config) (*VM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	stackBytes, _ := cfg.StackBytes()
	heapBytes, _ := cfg.HeapBytes()

	mem, err := NewMemory(stackBytes, heapBytes)
	if err != nil {
		return nil, err
	}

	return &VM{
		cfg:  cfg,
		regs: NewRegisterFile(cfg.Registers.Count, cfg.Registers.Width),
		mem:  mem,
		sp:   NewValue(cfg.Registers.Width, 0),
	}, nil
}

// LoadProgram installs bytes as the program to execute, resetting PC/SP and
// requiring the compiler-reported heap requirement to fit the VM's reserved
// heap region.
func (vm *VM) LoadProgram(bytes []byte, requiredHeapSize uint64) error {
	if requiredHeapSize > vm.mem.HeapSize() {
		return errMemorySizeInvalid(vm.cfg.Registers.Width, int64(requiredHeapSize), "byte")
	}
	vm.program = bytes
	vm.pc = 0
	vm.sp = NewValue(vm.cfg.Registers.Width, 0)
	vm.errcode = nil
	return nil
}

func (vm *VM) getRegisterValue(id byte) Value {
	switch id {
	case CounterRegisterID:
		return NewValue(vm.regs.Width(), int64(vm.pc))
	case StackRegisterID:
		return vm.sp
	default:
		return vm.regs.Get(id)
	}
}

func (vm *VM) setRegisterValue(id byte, v Value) {
	switch id {
	case CounterRegisterID:
		vm.pc = v.GetUnsigned()
	case StackRegisterID:
		vm.sp = NewValue(vm.regs.Width(), v.Get())
	default:
		vm.regs.Set(id, v)
	}
}

func (vm *VM) loadFromAddress(addrRegID byte, addr uint64, w Width) (Value, error) {
	if addrRegID == StackRegisterID {
		return vm.mem.ReadStack(addr, w)
	}
	return vm.mem.ReadHeap(addr, w)
}

func (vm *VM) storeToAddress(addrRegID byte, addr uint64, v Value) error {
	if addrRegID == StackRegisterID {
		return vm.mem.WriteStack(addr, v)
	}
	return vm.mem.WriteHeap(addr, v)
}

// Run executes the loaded program to completion (Halt, fall-through, or
// error), single-threaded and non-suspending per spec §5, and converts the
// outcome to a stable Retcode (spec §6). GC is disabled for the duration of
// the tight interpreter loop and restored afterward, exactly as the
// teacher's RunProgram does it (vm/run.go) — function calls and allocations
// are too costly to pay per-instruction in a fetch-decode-execute loop.
func (vm *VM) Run() (rc Retcode) {
	defer func() {
		if r := recover(); r != nil {
			vm.errcode = ErrSegmentationFault
			rc = SegmentationFault
		}
	}()

	if len(vm.program) == 0 {
		return NoProgram
	}

	restoreGC := disableGC()
	defer restoreGC()

	for vm.pc < uint64(len(vm.program)) {
		if err := vm.step(); err != nil {
			vm.errcode = err
			return retcodeForError(err)
		}
	}
	return Success
}

func disableGC() func() {
	key, ok := os.LookupEnv("GOGC")
	if !ok {
		key = "100"
	}
	percent, err := strconv.ParseInt(key, 10, 32)
	if err != nil {
		percent = 100
	}
	debug.SetGCPercent(-1)
	return func() { debug.SetGCPercent(int(percent)) }
}

func (vm *VM) step() error {
	d, err := decode(vm.program[vm.pc:])
	if err != nil {
		return err
	}
	instrStart := vm.pc
	vm.pc += uint64(d.nbytes)
	return vm.execute(&d.instr, instrStart)
}

func (vm *VM) execute(i *Instruction, instrStart uint64) error {
	switch i.Op {
	case OpNop:
		return nil
	case OpHalt:
		return ErrProgramHalted

	case OpMovRegAddrToReg:
		addr := vm.getRegisterValue(i.B).GetUnsigned()
		v, err := vm.loadFromAddress(i.B, addr, i.Width)
		if err != nil {
			return err
		}
		vm.setRegisterValue(i.A, v)
		return nil
	case OpMovRegAddrToMem:
		addr := vm.getRegisterValue(i.B).GetUnsigned()
		return vm.storeToAddress(i.B, addr, NewValue(i.Width, vm.getRegisterValue(i.A).Get()))
	case OpMovConstAddrToReg:
		v, err := vm.mem.ReadHeap(uint64(i.Imm), i.Width)
		if err != nil {
			return err
		}
		vm.setRegisterValue(i.A, v)
		return nil
	case OpMovConstAddrToMem:
		return vm.mem.WriteHeap(uint64(i.Imm), NewValue(i.Width, vm.getRegisterValue(i.A).Get()))
	case OpLoadConst:
		vm.setRegisterValue(i.A, NewValue(i.Width, i.Imm))
		return nil
	case OpCopyReg:
		vm.setRegisterValue(i.Out, vm.getRegisterValue(i.A))
		return nil

	case OpAdd:
		return vm.aluBinary(i, func(a, b int64) (int64, error) { return a + b, nil })
	case OpSub:
		return vm.aluBinary(i, func(a, b int64) (int64, error) { return a - b, nil })
	case OpMul:
		return vm.aluBinary(i, func(a, b int64) (int64, error) { return a * b, nil })
	case OpDiv:
		return vm.aluBinary(i, func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, ErrDivideByZero
			}
			return a / b, nil
		})
	case OpMod:
		return vm.aluBinary(i, func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, ErrDivideByZero
			}
			return a % b, nil
		})

	case OpNeg:
		vm.setRegisterValue(i.A, vm.regValue(-vm.getRegisterValue(i.A).Get()))
		return nil
	case OpIncIP:
		vm.setRegisterValue(i.A, vm.regValue(vm.getRegisterValue(i.A).Get()+1))
		return nil
	case OpDecIP:
		vm.setRegisterValue(i.A, vm.regValue(vm.getRegisterValue(i.A).Get()-1))
		return nil
	case OpNegMv:
		vm.setRegisterValue(i.Out, vm.regValue(-vm.getRegisterValue(i.A).Get()))
		return nil
	case OpIncMv:
		vm.setRegisterValue(i.Out, vm.regValue(vm.getRegisterValue(i.A).Get()+1))
		return nil
	case OpDecMv:
		vm.setRegisterValue(i.Out, vm.regValue(vm.getRegisterValue(i.A).Get()-1))
		return nil

	case OpAddConst:
		return vm.aluConst(i, func(in, c int64) (int64, error) { return in + c, nil })
	case OpSubConstRHS:
		return vm.aluConst(i, func(in, c int64) (int64, error) { return in - c, nil })
	case OpSubConstLHS:
		return vm.aluConst(i, func(in, c int64) (int64, error) { return c - in, nil })
	case OpMulConst:
		return vm.aluConst(i, func(in, c int64) (int64, error) { return in * c, nil })
	case OpDivConstRHS:
		return vm.aluConst(i, func(in, c int64) (int64, error) {
			if c == 0 {
				return 0, ErrDivideByZero
			}
			return in / c, nil
		})
	case OpDivConstLHS:
		return vm.aluConst(i, func(in, c int64) (int64, error) {
			if in == 0 {
				return 0, ErrDivideByZero
			}
			return c / in, nil
		})
	case OpModConstRHS:
		return vm.aluConst(i, func(in, c int64) (int64, error) {
			if c == 0 {
				return 0, ErrDivideByZero
			}
			return in % c, nil
		})
	case OpModConstLHS:
		return vm.aluConst(i, func(in, c int64) (int64, error) {
			if in == 0 {
				return 0, ErrDivideByZero
			}
			return c % in, nil
		})

	case OpJump:
		return vm.jump(i, instrStart, true)
	case OpJumpLess:
		return vm.jump(i, instrStart, vm.getRegisterValue(i.A).Get() < vm.getRegisterValue(i.B).Get())
	case OpJumpEq:
		return vm.jump(i, instrStart, vm.getRegisterValue(i.A).Get() == vm.getRegisterValue(i.B).Get())
	case OpJumpNeq:
		return vm.jump(i, instrStart, vm.getRegisterValue(i.A).Get() != vm.getRegisterValue(i.B).Get())

	default:
		return ErrUnknownCommand
	}
}

func (vm *VM) regValue(n int64) Value { return NewValue(vm.regs.Width(), n) }

func (vm *VM) aluBinary(i *Instruction, f func(a, b int64) (int64, error)) error {
	a, b := vm.getRegisterValue(i.A).Get(), vm.getRegisterValue(i.B).Get()
	r, err := f(a, b)
	if err != nil {
		return err
	}
	vm.setRegisterValue(i.Out, vm.regValue(r))
	return nil
}

func (vm *VM) aluConst(i *Instruction, f func(in, c int64) (int64, error)) error {
	in := vm.getRegisterValue(i.A).Get()
	r, err := f(in, i.Imm)
	if err != nil {
		return err
	}
	vm.setRegisterValue(i.Out, vm.regValue(r))
	return nil
}

func (vm *VM) jump(i *Instruction, instrStart uint64, take bool) error {
	if !take {
		return nil
	}
	var target int64
	if i.Relative {
		target = int64(instrStart) + i.Imm
	} else {
		target = int64(Value{Width: i.Width, Payload: i.Imm}.GetUnsigned())
	}
	if target < 0 || target >= int64(len(vm.program)) {
		return ErrJumpOutOfRange
	}
	vm.pc = uint64(target)
	return nil
}

// PrintRegisters and PrintMemory are the optional debug-observation surface
// of spec §6: human-readable dumps, never relied upon by tests beyond
// snapshot comparisons of final state. Grounded on the teacher's
// printCurrentState (vm/vm.go).
func (vm *VM) PrintRegisters() {
	fmt.Println("registers>", vm.regs.Snapshot())
	fmt.Println("pc>", vm.pc, "sp>", vm.sp)
}

func (vm *VM) PrintMemory() {
	n := min(vm.mem.HeapSize(), 64)
	fmt.Printf("heap[0:%d]> % x\n", n, vm.mem.data[vm.mem.heapBase:vm.mem.heapBase+n])
}

// ReadHeapValue exposes a single heap read for tests verifying final memory
// state against expectations (spec §8 scenarios).
func (vm *VM) ReadHeapValue(offset uint64, w Width) (Value, error) { return vm.mem.ReadHeap(offset, w) }

// RegisterValue exposes a single register's final value for tests.
func (vm *VM) RegisterValue(id byte) Value { return vm.getRegisterValue(id) }

// LastError is the sentinel error Run left behind, if any.
func (vm *VM) LastError() error { return vm.errcode }

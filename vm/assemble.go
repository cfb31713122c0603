package vm

// Compile runs the full pipeline of spec §4.9 over stmts: lower, allocate,
// then finalize into a flat byte program plus the heap size the compiled
// program requires (for LoadProgram's capacity check). Grounded on
// original_source/optimizer.cpp's compileOptimizeList, which runs these same
// three stages in this same order over one global scope.
func Compile(stmts []Stmt, width Width, regCount int) ([]byte, uint64, error) {
	list, scope, mem, err := Lower(stmts, width)
	if err != nil {
		return nil, 0, err
	}
	if err := Allocate(scope, list, mem, width, regCount); err != nil {
		return nil, 0, err
	}
	buf, err := finalize(list)
	if err != nil {
		return nil, 0, err
	}
	return buf, mem.size(), nil
}

// listEntry pairs a list element's instruction with the byte offset it will
// occupy in the final program — known only once every instruction ahead of
// it has a settled size (spec §4.9 step 1's "compute instruction lengths").
type listEntry struct {
	instr  *Instruction
	offset uint64
	size   int
}

// finalize computes byte offsets, encodes every instruction, and resolves
// every label reference via a labelTable (spec §4.9 step 4), returning
// UnresolvedLabel if any jump still targets an undefined label once the
// whole list has been walked.
func finalize(list *instrList) ([]byte, error) {
	entries := make([]listEntry, 0, list.Len())
	var offset uint64
	for e := list.Front(); e != nil; e = e.Next() {
		instr := e.Value.(*Instruction)
		size := instr.Size()
		entries = append(entries, listEntry{instr: instr, offset: offset, size: size})
		offset += uint64(size)
	}

	buf := make([]byte, offset)
	labels := newLabelTable()

	for _, en := range entries {
		if en.instr.Op == OpLabel {
			if err := labels.define(en.instr.Label, en.offset); err != nil {
				return nil, err
			}
			continue
		}
		slice := buf[en.offset : en.offset+uint64(en.size)]
		immOffset := en.instr.encode(slice)
		if en.instr.isJump() && en.instr.Label != "" {
			labels.setTarget(en.instr.Label, slice, immOffset, en.instr.Width, en.instr.Relative, en.offset)
		}
	}

	if unresolved := labels.unresolved(); len(unresolved) > 0 {
		return nil, errUnresolvedLabel(unresolved[0])
	}
	return buf, nil
}

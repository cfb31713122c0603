package vm

// interval is the inclusive lowering-time position range [start,end] a
// variable's chosen register must stay free for (spec §4.8).
type interval struct{ start, end int }

func (iv interval) overlaps(first, last int) bool {
	return iv.start <= last && first <= iv.end
}

// Allocate runs linear-scan register allocation over scope's ra-lists (spec
// §4.8), as a wholly separate second pass over the instruction list lower
// already produced — grounded on original_source/optimizer.cpp's exact
// two-phase sequencing (compile, then allocateRegisters), not interleaved
// with lowering.
//
// Each distinct variable gets exactly one physical register for the whole
// span of its ra-list (its first reference through its last); the scan
// considers registers in ascending order and picks the first whose already
// assigned intervals don't overlap the new one. Memory-backed variables (the
// ones AssignStmt reserved a heap slot for) additionally get a load inserted
// before their first reference — unless that reference is itself the
// defining write, in which case there is nothing yet in memory worth loading
// — and a store inserted after their last, so the heap reflects their final
// value once the register is free to be reused by something else.
func Allocate(scope *Scope, list *instrList, mem *memMap, width Width, regCount int) error {
	assigned := make([][]interval, regCount)

	for _, head := range scope.listHeads() {
		nodes := scope.nodesOf(head)
		if len(nodes) == 0 {
			continue
		}
		v := scope.arena[head].v
		first := scope.arena[nodes[0]].pos
		last := scope.arena[nodes[len(nodes)-1]].pos

		reg := -1
		for r := 0; r < regCount; r++ {
			free := true
			for _, iv := range assigned[r] {
				if iv.overlaps(first, last) {
					free = false
					break
				}
			}
			if free {
				reg = r
				break
			}
		}
		if reg == -1 {
			return errOutOfRegisters()
		}
		assigned[reg] = append(assigned[reg], interval{start: first, end: last})

		for _, idx := range nodes {
			scope.arena[idx].slot.Set(byte(reg))
		}

		spot, ok := mem.get(v)
		if !ok {
			continue
		}

		firstNode := scope.arena[nodes[0]]
		if !firstNode.defined {
			load := &Instruction{Op: OpMovConstAddrToReg, Width: spot.width, A: byte(reg), Imm: int64(spot.offset)}
			list.insertBefore(load, firstNode.elem)
		}

		lastNode := scope.arena[nodes[len(nodes)-1]]
		store := &Instruction{Op: OpMovConstAddrToMem, Width: spot.width, A: byte(reg), Imm: int64(spot.offset)}
		list.insertAfter(store, lastNode.elem)
	}

	return nil
}

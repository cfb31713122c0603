package vm

import "container/list"

// instrList is the "instruction list L" of spec §3: an ordered sequence
// supporting O(1) insertion before/after an existing element with stable
// iterators. container/list.List gives exactly this — its elements are
// individually heap-allocated and never move, which is also what lets an
// OperandSlot hold a raw *byte into an element's Instruction safely (spec §9
// "operand-slot backpatching").
type instrList struct {
	l   *list.List
	pos int
}

func newInstrList() *instrList { return &instrList{l: list.New()} }

// push appends instr and returns its element plus the lowering-time position
// hint assigned to it. The position counter is a simple monotonic count of
// pushes during lowering — it orders ra-list entries for the allocator and
// has no relation to final byte offsets, which are only known after
// encoding (spec §4.9).
func (il *instrList) push(instr *Instruction) (*list.Element, int) {
	e := il.l.PushBack(instr)
	p := il.pos
	il.pos++
	return e, p
}

func (il *instrList) insertBefore(instr *Instruction, mark *list.Element) *list.Element {
	return il.l.InsertBefore(instr, mark)
}

func (il *instrList) insertAfter(instr *Instruction, mark *list.Element) *list.Element {
	return il.l.InsertAfter(instr, mark)
}

func (il *instrList) Front() *list.Element { return il.l.Front() }
func (il *instrList) Len() int             { return il.l.Len() }

// lowerCtx is threaded through every Expr.lower/Stmt.lower call: the active
// instruction list, the scope (ra-lists, loop-live stack, labels), the
// id-factory, the memory map, and the configured program width used for
// every constant and spill instruction this lowering pass emits.
type lowerCtx struct {
	list  *instrList
	scope *Scope
	ids   *idFactory
	mem   *memMap
	width Width
}

// Lower walks stmts top to bottom into a fresh instruction list (spec
// §4.7/§4.9 pipeline stage 1), grounded on original_source/optimizer.cpp's
// compileOptimizeList: a single global scope, statements lowered in order,
// with register allocation run as a wholly separate second pass (see
// regalloc.go) rather than interleaved.
func Lower(stmts []Stmt, width Width) (*instrList, *Scope, *memMap, error) {
	c := &lowerCtx{
		list:  newInstrList(),
		scope: NewScope(),
		ids:   newIDFactory(),
		mem:   newMemMap(),
		width: width,
	}
	for _, st := range stmts {
		if err := st.lower(c); err != nil {
			return nil, nil, nil, err
		}
	}
	return c.list, c.scope, c.mem, nil
}

// --- Expression lowering (spec §4.7) ---------------------------------------

// target, when non-zero, asks the expression to tag its final producing
// instruction's output slot with that VariableID instead of a fresh one —
// this is how Assign threads its left-hand variable down to avoid an extra
// copy for the common `v = a op b` shape. Expressions with no producing
// instruction of their own (a bare variable reference, or unary `+`) ignore
// target; Assign notices the mismatch and inserts one corrective copy.

func (e *VarExpr) lower(c *lowerCtx, target VariableID) (VariableID, error) {
	return e.ID, nil
}

func (e *ConstExpr) lower(c *lowerCtx, target VariableID) (VariableID, error) {
	resID := target
	if resID == 0 {
		resID = c.ids.newID()
	}
	instr := &Instruction{Op: OpLoadConst, Width: c.width, Imm: e.Value}
	elem, pos := c.list.push(instr)
	c.scope.addEntry(resID, pos, instr.SlotA(), elem, true, false)
	return resID, nil
}

func (e *BinaryExpr) lower(c *lowerCtx, target VariableID) (VariableID, error) {
	// Right-to-left evaluation order is deliberate and contractual (spec
	// §4.7/§5/§9) — it must not be left to the host language's own
	// left-to-right call evaluation, so RHS is lowered in a separate
	// statement before LHS is even referenced.
	rhsID, err := e.RHS.lower(c, 0)
	if err != nil {
		return 0, err
	}
	lhsID, err := e.LHS.lower(c, 0)
	if err != nil {
		return 0, err
	}

	resID := target
	if resID == 0 {
		resID = c.ids.newID()
	}
	instr := &Instruction{Op: binOpKind(e.Op)}
	elem, pos := c.list.push(instr)
	c.scope.addEntry(lhsID, pos, instr.SlotA(), elem, false, false)
	c.scope.addEntry(rhsID, pos, instr.SlotB(), elem, false, false)
	c.scope.addEntry(resID, pos, instr.SlotOut(), elem, true, false)
	return resID, nil
}

// binOpKind maps the IR's binary operator to its ALU opcode. Modulus is
// always OpMod here — original_source/optimizer.h's oldest lowering path
// aliased Modulus to DIVISION by copy-paste (spec §9 item 1); that is
// treated as a bug, not a contract, and is not reproduced.
func binOpKind(op BinOp) OpKind {
	switch op {
	case OpBinAdd:
		return OpAdd
	case OpBinSub:
		return OpSub
	case OpBinMul:
		return OpMul
	case OpBinDiv:
		return OpDiv
	default:
		return OpMod
	}
}

func (e *UnaryExpr) lower(c *lowerCtx, target VariableID) (VariableID, error) {
	switch {
	case !e.Post && e.Op == OpUnPos:
		// '+' pre: identity. No instruction of its own.
		return e.Operand.lower(c, 0)

	case !e.Post && e.Op == OpUnNeg:
		id, err := e.Operand.lower(c, 0)
		if err != nil {
			return 0, err
		}
		resID := target
		if resID == 0 {
			resID = c.ids.newID()
		}
		instr := &Instruction{Op: OpNegMv}
		elem, pos := c.list.push(instr)
		c.scope.addEntry(id, pos, instr.SlotA(), elem, false, false)
		c.scope.addEntry(resID, pos, instr.SlotOut(), elem, true, false)
		return resID, nil

	case e.Post && (e.Op == OpUnInc || e.Op == OpUnDec):
		// Post ++/--: copy (pre-value) then in-place mutate.
		id, err := e.Operand.lower(c, 0)
		if err != nil {
			return 0, err
		}
		preResID := target
		if preResID == 0 {
			preResID = c.ids.newID()
		}
		cp := &Instruction{Op: OpCopyReg}
		cpElem, cpPos := c.list.push(cp)
		c.scope.addEntry(id, cpPos, cp.SlotA(), cpElem, false, false)
		c.scope.addEntry(preResID, cpPos, cp.SlotOut(), cpElem, true, false)

		mut := &Instruction{Op: mutateOp(e.Op)}
		mutElem, mutPos := c.list.push(mut)
		c.scope.addEntry(id, mutPos, mut.SlotA(), mutElem, false, false)
		return preResID, nil

	case !e.Post && (e.Op == OpUnInc || e.Op == OpUnDec):
		// Pre ++/--: in-place mutate then copy (post-value).
		id, err := e.Operand.lower(c, 0)
		if err != nil {
			return 0, err
		}
		mut := &Instruction{Op: mutateOp(e.Op)}
		mutElem, mutPos := c.list.push(mut)
		c.scope.addEntry(id, mutPos, mut.SlotA(), mutElem, false, false)

		resID := target
		if resID == 0 {
			resID = c.ids.newID()
		}
		cp := &Instruction{Op: OpCopyReg}
		cpElem, cpPos := c.list.push(cp)
		c.scope.addEntry(id, cpPos, cp.SlotA(), cpElem, false, false)
		c.scope.addEntry(resID, cpPos, cp.SlotOut(), cpElem, true, false)
		return resID, nil

	default:
		// '+' post and '-' post are illegal combinations.
		return 0, errInvalidOperation(unaryOpString(e.Op), e.Post)
	}
}

func mutateOp(op UnaryOp) OpKind {
	if op == OpUnDec {
		return OpDecIP
	}
	return OpIncIP
}

func unaryOpString(op UnaryOp) string {
	switch op {
	case OpUnPos:
		return "+"
	case OpUnNeg:
		return "-"
	case OpUnInc:
		return "++"
	default:
		return "--"
	}
}

// --- Statement lowering (spec §4.7) ----------------------------------------

func (s *AssignStmt) lower(c *lowerCtx) error {
	if s.Define && !c.mem.exists(s.Var) {
		c.mem.reserve(s.Var, c.width)
	}
	id, err := s.Expr.lower(c, s.Var)
	if err != nil {
		return err
	}
	if id != s.Var {
		// The expression had no producing instruction of its own to tag
		// (a bare variable reference, or unary '+') — materialize the
		// assignment with one explicit copy.
		cp := &Instruction{Op: OpCopyReg}
		elem, pos := c.list.push(cp)
		c.scope.addEntry(id, pos, cp.SlotA(), elem, false, false)
		c.scope.addEntry(s.Var, pos, cp.SlotOut(), elem, true, false)
	}
	return nil
}

func (s *ExprStmt) lower(c *lowerCtx) error {
	_, err := s.Expr.lower(c, 0)
	return err
}

func (s *FlowControlStmt) lower(c *lowerCtx) error {
	var label string
	var ok bool
	if s.Kind == FlowBreak {
		label, ok = c.scope.currentBreakLabel()
	} else {
		label, ok = c.scope.currentContinueLabel()
	}
	if !ok {
		return errScopeControl("break/continue used outside a loop")
	}
	c.list.push(&Instruction{Op: OpJump, Width: c.width, Label: label})
	return nil
}

func (s *LoopStmt) lower(c *lowerCtx) error {
	beginLabel := c.scope.nextLabel("Begin")
	checkLabel := c.scope.nextLabel("Check")
	endLabel := c.scope.nextLabel("End")

	c.scope.pushLoop(endLabel, beginLabel)

	if s.Init != nil {
		if err := s.Init.lower(c); err != nil {
			return err
		}
	}

	zeroID := c.ids.newID()
	zeroInstr := &Instruction{Op: OpLoadConst, Width: c.width, Imm: 0}
	zElem, zPos := c.list.push(zeroInstr)
	c.scope.addEntry(zeroID, zPos, zeroInstr.SlotA(), zElem, true, false)

	c.list.push(&Instruction{Op: OpJump, Width: c.width, Label: checkLabel})
	c.list.push(&Instruction{Op: OpLabel, Label: beginLabel})

	for _, st := range s.Body {
		if err := st.lower(c); err != nil {
			return err
		}
	}
	if s.Inc != nil {
		if err := s.Inc.lower(c); err != nil {
			return err
		}
	}

	c.list.push(&Instruction{Op: OpLabel, Label: checkLabel})

	if s.Cond != nil {
		condID, err := s.Cond.lower(c, 0)
		if err != nil {
			return err
		}
		jl := &Instruction{Op: OpJumpLess, Width: c.width, Label: beginLabel}
		elem, pos := c.list.push(jl)
		c.scope.addEntry(zeroID, pos, jl.SlotA(), elem, false, false)
		c.scope.addEntry(condID, pos, jl.SlotB(), elem, false, false)
	} else {
		c.list.push(&Instruction{Op: OpJump, Width: c.width, Label: beginLabel})
	}

	endElem, endPos := c.list.push(&Instruction{Op: OpLabel, Label: endLabel})
	c.scope.popLoop(endPos, endElem)
	return nil
}

func (s *ConditionalStmt) lower(c *lowerCtx) error {
	if len(s.IfBlocks) == 0 {
		return errMissingExpression("conditional requires at least one if-block")
	}

	startIdx := len(c.scope.arena)
	zeroID := c.ids.newID()
	zeroInstr := &Instruction{Op: OpLoadConst, Width: c.width, Imm: 0}
	zElem, zPos := c.list.push(zeroInstr)
	c.scope.addEntry(zeroID, zPos, zeroInstr.SlotA(), zElem, true, false)

	ifLabels := make([]string, len(s.IfBlocks))
	for i := range s.IfBlocks {
		ifLabels[i] = c.scope.nextLabel("If")
	}
	elseLabel := c.scope.nextLabel("Else")
	endLabel := c.scope.nextLabel("End")

	for i, blk := range s.IfBlocks {
		condID, err := blk.Cond.lower(c, 0)
		if err != nil {
			return err
		}
		jl := &Instruction{Op: OpJumpLess, Width: c.width, Label: ifLabels[i]}
		elem, pos := c.list.push(jl)
		c.scope.addEntry(zeroID, pos, jl.SlotA(), elem, false, false)
		c.scope.addEntry(condID, pos, jl.SlotB(), elem, false, false)
	}
	c.list.push(&Instruction{Op: OpJump, Width: c.width, Label: elseLabel})

	for i, blk := range s.IfBlocks {
		c.list.push(&Instruction{Op: OpLabel, Label: ifLabels[i]})
		for _, st := range blk.Body {
			if err := st.lower(c); err != nil {
				return err
			}
		}
		c.list.push(&Instruction{Op: OpJump, Width: c.width, Label: endLabel})
	}

	c.list.push(&Instruction{Op: OpLabel, Label: elseLabel})
	for _, st := range s.Else {
		if err := st.lower(c); err != nil {
			return err
		}
	}
	endElem, endPos := c.list.push(&Instruction{Op: OpLabel, Label: endLabel})

	// Re-register every memory-backed variable the chain referenced at the
	// End label, so its spill-store lands after the join point and runs
	// whichever branch was taken.
	seen := make(map[VariableID]bool)
	for _, n := range c.scope.arena[startIdx:] {
		if c.mem.exists(n.v) && !seen[n.v] {
			seen[n.v] = true
			c.scope.addEntry(n.v, endPos, OperandSlot{new(byte)}, endElem, false, true)
		}
	}
	return nil
}

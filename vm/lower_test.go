package vm

import "testing"

func TestLowerConstAssignEmitsSingleLoadConst(t *testing.T) {
	const x VariableID = 1
	stmts := []Stmt{
		&AssignStmt{Var: x, Define: true, Expr: &ConstExpr{Value: 5}},
	}
	list, scope, mem, err := Lower(stmts, W8)
	assert(t, err == nil, "lower failed: %s", err)
	assert(t, list.Len() == 1, "expected 1 instruction, got %d", list.Len())
	assert(t, mem.exists(x), "x should have a memory-map entry")
	assert(t, len(scope.nodesOf(scope.heads[x])) == 1, "x should have exactly one ra-node")
}

func TestLowerBinaryEvaluatesRightToLeft(t *testing.T) {
	const r VariableID = 1
	// r = 7 - 3; RHS (3) must be lowered before LHS (7), so the first
	// LoadConst carries 3, the second 7, and the ALU instruction comes last.
	stmts := []Stmt{
		&AssignStmt{Var: r, Define: true, Expr: &BinaryExpr{Op: OpBinSub, LHS: &ConstExpr{Value: 7}, RHS: &ConstExpr{Value: 3}}},
	}
	list, _, _, err := Lower(stmts, W8)
	assert(t, err == nil, "lower failed: %s", err)
	assert(t, list.Len() == 3, "expected 3 instructions, got %d", list.Len())

	e := list.Front()
	assert(t, e.Value.(*Instruction).Imm == 3, "1st LoadConst: got %d, want 3 (RHS)", e.Value.(*Instruction).Imm)
	e = e.Next()
	assert(t, e.Value.(*Instruction).Imm == 7, "2nd LoadConst: got %d, want 7 (LHS)", e.Value.(*Instruction).Imm)
	instr := e.Next().Value.(*Instruction)
	assert(t, instr.Op == OpSub, "op: got %d, want OpSub", instr.Op)
}

func TestLowerPostIncrementCopiesPreValue(t *testing.T) {
	const (
		v   VariableID = 1
		dst VariableID = 2
	)
	stmts := []Stmt{
		&AssignStmt{Var: v, Define: true, Expr: &ConstExpr{Value: 10}},
		&AssignStmt{Var: dst, Define: true, Expr: &UnaryExpr{Op: OpUnInc, Operand: &VarExpr{ID: v}, Post: true}},
	}
	list, _, _, err := Lower(stmts, W8)
	assert(t, err == nil, "lower failed: %s", err)
	// LoadConst(v=10), CopyReg(v->dst), IncIP(v)
	assert(t, list.Len() == 3, "expected 3 instructions, got %d", list.Len())

	e := list.Front()
	assert(t, e.Value.(*Instruction).Op == OpLoadConst, "1st op")
	e = e.Next()
	assert(t, e.Value.(*Instruction).Op == OpCopyReg, "2nd op")
	e = e.Next()
	assert(t, e.Value.(*Instruction).Op == OpIncIP, "3rd op")
}

func TestLowerInvalidUnaryCombinationRejected(t *testing.T) {
	const v VariableID = 1
	stmts := []Stmt{
		&ExprStmt{Expr: &UnaryExpr{Op: OpUnPos, Operand: &VarExpr{ID: v}, Post: true}},
	}
	_, _, _, err := Lower(stmts, W8)
	assert(t, err != nil, "postfix '+' should be rejected")
}

func TestLowerFlowControlOutsideLoopRejected(t *testing.T) {
	stmts := []Stmt{&FlowControlStmt{Kind: FlowBreak}}
	_, _, _, err := Lower(stmts, W8)
	assert(t, err != nil, "break outside a loop should be rejected")
}

func TestLowerConditionalRequiresIfBlock(t *testing.T) {
	stmts := []Stmt{&ConditionalStmt{}}
	_, _, _, err := Lower(stmts, W8)
	assert(t, err != nil, "conditional with no if-blocks should be rejected")
}

func TestLowerLoopExtendsLiveRangeAcrossBackEdge(t *testing.T) {
	const (
		i   VariableID = 1
		acc VariableID = 2
	)
	stmts := []Stmt{
		&AssignStmt{Var: acc, Define: true, Expr: &ConstExpr{Value: 0}},
		&LoopStmt{
			Init: &AssignStmt{Var: i, Define: true, Expr: &ConstExpr{Value: 0}},
			Cond: &BinaryExpr{Op: OpBinSub, LHS: &ConstExpr{Value: 3}, RHS: &VarExpr{ID: i}},
			Inc:  &AssignStmt{Var: i, Expr: &UnaryExpr{Op: OpUnInc, Operand: &VarExpr{ID: i}}},
			Body: []Stmt{
				&AssignStmt{Var: acc, Expr: &BinaryExpr{Op: OpBinAdd, LHS: &VarExpr{ID: acc}, RHS: &VarExpr{ID: i}}},
			},
		},
	}
	_, scope, _, err := Lower(stmts, W8)
	assert(t, err == nil, "lower failed: %s", err)

	nodes := scope.nodesOf(scope.heads[acc])
	last := nodes[len(nodes)-1]
	assert(t, scope.arena[last].synthetic, "acc's last ra-node should be the synthetic loop-live extension")
}

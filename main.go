// Command rvm compiles and runs a couple of small fixed programs built
// directly against the IR, demonstrating the full lower → allocate →
// assemble → run pipeline end to end. There is no textual front end here —
// programs are built as Go values, the way original_source/main.cpp and
// main_optimizer.cpp hand-built their compiler_command lists before handing
// them to the optimizer.
package main

import (
	"fmt"
	"os"

	rvm "rvm/vm"
)

func main() {
	fmt.Println("=== fibonacci ===")
	if err := runFibonacci(); err != nil {
		fmt.Fprintln(os.Stderr, "fibonacci:", err)
		os.Exit(1)
	}

	fmt.Println("=== arithmetic ===")
	if err := runArithmetic(); err != nil {
		fmt.Fprintln(os.Stderr, "arithmetic:", err)
		os.Exit(1)
	}
}

// runFibonacci builds a scaled-down Fibonacci loop: a,b start at 0,1; each
// of 8 iterations sets tmp=a+b, a=b, b=tmp, counting i from 0 to 8. It is
// original_source/main.cpp's fixture with the iteration count brought down
// from 1000 to 8 so the final register values stay easy to eyeball.
func runFibonacci() error {
	const (
		a rvm.VariableID = iota + 1
		b
		i
		tmp
	)

	stmts := []rvm.Stmt{
		&rvm.AssignStmt{Var: a, Define: true, Expr: &rvm.ConstExpr{Value: 0}},
		&rvm.AssignStmt{Var: b, Define: true, Expr: &rvm.ConstExpr{Value: 1}},
		&rvm.LoopStmt{
			Init: &rvm.AssignStmt{Var: i, Define: true, Expr: &rvm.ConstExpr{Value: 0}},
			Cond: &rvm.BinaryExpr{Op: rvm.OpBinSub, LHS: &rvm.ConstExpr{Value: 8}, RHS: &rvm.VarExpr{ID: i}},
			Inc:  &rvm.AssignStmt{Var: i, Expr: &rvm.UnaryExpr{Op: rvm.OpUnInc, Operand: &rvm.VarExpr{ID: i}}},
			Body: []rvm.Stmt{
				&rvm.AssignStmt{Var: tmp, Define: true, Expr: &rvm.BinaryExpr{Op: rvm.OpBinAdd, LHS: &rvm.VarExpr{ID: a}, RHS: &rvm.VarExpr{ID: b}}},
				&rvm.AssignStmt{Var: a, Expr: &rvm.VarExpr{ID: b}},
				&rvm.AssignStmt{Var: b, Expr: &rvm.VarExpr{ID: tmp}},
			},
		},
	}

	return compileAndRun(stmts)
}

// runArithmetic is original_source/main_optimizer.cpp's literal fixture:
// a=31; b=33; c=b-a; d=(a+b)%10.
func runArithmetic() error {
	const (
		a rvm.VariableID = iota + 1
		b
		c
		d
	)

	stmts := []rvm.Stmt{
		&rvm.AssignStmt{Var: a, Define: true, Expr: &rvm.ConstExpr{Value: 31}},
		&rvm.AssignStmt{Var: b, Define: true, Expr: &rvm.ConstExpr{Value: 33}},
		&rvm.AssignStmt{Var: c, Define: true, Expr: &rvm.BinaryExpr{Op: rvm.OpBinSub, LHS: &rvm.VarExpr{ID: b}, RHS: &rvm.VarExpr{ID: a}}},
		&rvm.AssignStmt{Var: d, Define: true, Expr: &rvm.BinaryExpr{
			Op:  rvm.OpBinMod,
			LHS: &rvm.BinaryExpr{Op: rvm.OpBinAdd, LHS: &rvm.VarExpr{ID: a}, RHS: &rvm.VarExpr{ID: b}},
			RHS: &rvm.ConstExpr{Value: 10},
		}},
	}

	return compileAndRun(stmts)
}

func compileAndRun(stmts []rvm.Stmt) error {
	cfg := rvm.DefaultConfig()

	program, heapSize, err := rvm.Compile(stmts, cfg.Registers.Width, cfg.Registers.Count)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	machine, err := rvm.NewVM(cfg)
	if err != nil {
		return fmt.Errorf("new vm: %w", err)
	}
	if err := machine.LoadProgram(program, heapSize); err != nil {
		return fmt.Errorf("load program: %w", err)
	}

	if rc := machine.Run(); rc != rvm.Success && rc != rvm.Halted {
		return fmt.Errorf("run: %s (%v)", rc, machine.LastError())
	}

	machine.PrintRegisters()
	machine.PrintMemory()
	return nil
}

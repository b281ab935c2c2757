package codegen

import (
	"errors"
	"fmt"
	"math"
)

// ErrExec is returned when interpreting a program fails.
var ErrExec = errors.New("codegen: execution failed")

// ExternFunc implements an Extern for the Machine.
type ExternFunc func(in, out []float64) error

// Machine interprets a Program. Integer arrays are stored as float64.
type Machine struct {
	prog    *Program
	mem     map[*Variable][]float64
	externs map[string]ExternFunc
}

// NewMachine allocates the workspace and loads the static tables of p.
func NewMachine(p *Program) *Machine {
	m := &Machine{prog: p, mem: make(map[*Variable][]float64), externs: make(map[string]ExternFunc)}
	for _, v := range p.vars {
		m.mem[v] = make([]float64, v.Size())
		if v.Scope == Static {
			copy(m.mem[v], v.Values)
		}
	}
	return m
}

// Bind provides the implementation of an external function.
func (m *Machine) Bind(name string, fn ExternFunc) {
	m.externs[name] = fn
}

// Workspace returns the live storage of a global variable.
func (m *Machine) Workspace(name string) ([]float64, bool) {
	v, ok := m.prog.Variable(name)
	if !ok {
		return nil, false
	}
	return m.mem[v], true
}

type frame struct {
	arrays map[*Variable][]float64
	ints   map[string]int
	ret    float64
	done   bool
}

type execError struct{ err error }

func (m *Machine) fail(format string, args ...interface{}) {
	panic(execError{fmt.Errorf("%w: %s", ErrExec, fmt.Sprintf(format, args...))})
}

// Call runs the named callable. Arrays are passed as []float64 and are modified in place,
// integers as int and reals as float64.
func (m *Machine) Call(name string, args ...interface{}) (ret float64, err error) {
	c, ok := m.prog.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown function %s", ErrExec, name)
	}
	params := c.Params()
	if len(args) != len(params) {
		return 0, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrExec, name, len(params), len(args))
	}
	bound := make([]interface{}, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case []float64:
			bound[i] = v
		case int:
			bound[i] = v
		case float64:
			bound[i] = []float64{v}
		default:
			return 0, fmt.Errorf("%w: argument %d of %s has type %T", ErrExec, i, name, a)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(execError)
			if !ok {
				panic(r)
			}
			err = e.err
		}
	}()
	return m.invoke(c, bound), nil
}

func (m *Machine) invoke(c Callable, args []interface{}) float64 {
	params := c.Params()
	arrays := make([][]float64, len(params))
	ints := make(map[string]int)
	for i, p := range params {
		switch a := args[i].(type) {
		case []float64:
			if len(a) < p.Size() {
				m.fail("%s: argument %s has %d entries, needs %d", c.Name(), p.Name, len(a), p.Size())
			}
			arrays[i] = a
		case int:
			if p.Type != Int || p.Scope != Value {
				m.fail("%s: integer passed for %s", c.Name(), p.Name)
			}
			ints[p.Name] = a
		}
	}
	switch fn := c.(type) {
	case *Extern:
		impl, ok := m.externs[fn.FName]
		if !ok {
			m.fail("extern %s is not bound", fn.FName)
		}
		if err := impl(arrays[0][:fn.In.Size()], arrays[1][:fn.Out.Size()]); err != nil {
			m.fail("%s: %v", fn.FName, err)
		}
		return 0
	case *ODEFunction:
		if err := fn.F.Evaluate(0, arrays[0], arrays[1]); err != nil {
			m.fail("%s: %v", fn.FName, err)
		}
		return 0
	case *Function:
		fr := &frame{arrays: make(map[*Variable][]float64), ints: ints}
		for i, p := range fn.In {
			if arrays[i] != nil {
				fr.arrays[p] = arrays[i]
			}
		}
		for _, v := range fn.Locals {
			fr.arrays[v] = make([]float64, v.Size())
		}
		for _, name := range fn.IntLocals {
			fr.ints[name] = 0
		}
		m.exec(fr, fn.Body)
		return fr.ret
	}
	m.fail("cannot call %T", c)
	return 0
}

func (m *Machine) storage(fr *frame, v *Variable) []float64 {
	if s, ok := fr.arrays[v]; ok {
		return s
	}
	if s, ok := m.mem[v]; ok {
		return s
	}
	m.fail("variable %s is not in scope", v.Name)
	return nil
}

func (m *Machine) slot(fr *frame, v *Variable, idx IntExpr) ([]float64, int) {
	s := m.storage(fr, v)
	i := m.evalInt(fr, idx)
	if i < 0 || i >= len(s) {
		m.fail("index %d out of range for %s of length %d", i, v.Name, len(s))
	}
	return s, i
}

func (m *Machine) exec(fr *frame, stmts []Stmt) {
	for _, s := range stmts {
		if fr.done {
			return
		}
		switch n := s.(type) {
		case Assign:
			val := m.eval(fr, n.Src)
			st, i := m.slot(fr, n.Dst.V, n.Dst.Index)
			switch n.Op {
			case Set:
				st[i] = val
			case AddTo:
				st[i] += val
			case SubFrom:
				st[i] -= val
			}
		case SetInt:
			val := m.evalInt(fr, n.Src)
			switch dst := n.Dst.(type) {
			case IVar:
				fr.ints[string(dst)] = val
			case IElem:
				st, i := m.slot(fr, dst.V, dst.Index)
				st[i] = float64(val)
			default:
				m.fail("cannot assign to %T", n.Dst)
			}
		case For:
			from, to := m.evalInt(fr, n.From), m.evalInt(fr, n.To)
			for k := from; k < to && !fr.done; k++ {
				fr.ints[n.Var] = k
				m.exec(fr, n.Body)
			}
		case If:
			if m.cond(fr, n.Cond) {
				m.exec(fr, n.Then)
			} else {
				m.exec(fr, n.Else)
			}
		case Call:
			args := make([]interface{}, len(n.Args))
			for i, a := range n.Args {
				switch arg := a.(type) {
				case ArrayArg:
					st := m.storage(fr, arg.V)
					off := m.evalInt(fr, arg.Offset)
					if off < 0 || off > len(st) {
						m.fail("offset %d out of range for %s", off, arg.V.Name)
					}
					args[i] = st[off:]
				case IntArg:
					args[i] = m.evalInt(fr, arg.I)
				case RealArg:
					args[i] = []float64{m.eval(fr, arg.E)}
				}
			}
			ret := m.invoke(n.Fn, args)
			if n.Result != nil {
				st, i := m.slot(fr, n.Result.V, n.Result.Index)
				st[i] = ret
			}
		case Return:
			if n.Value != nil {
				fr.ret = m.eval(fr, n.Value)
			}
			fr.done = true
		case Comment:
		case Block:
			m.exec(fr, n.Body)
		default:
			m.fail("unknown statement %T", s)
		}
	}
}

func (m *Machine) evalInt(fr *frame, e IntExpr) int {
	switch n := e.(type) {
	case ILit:
		return int(n)
	case IVar:
		v, ok := fr.ints[string(n)]
		if !ok {
			m.fail("integer %s is not in scope", string(n))
		}
		return v
	case IElem:
		st, i := m.slot(fr, n.V, n.Index)
		return int(st[i])
	case IBin:
		a, b := m.evalInt(fr, n.A), m.evalInt(fr, n.B)
		switch n.Op {
		case '+':
			return a + b
		case '-':
			return a - b
		case '*':
			return a * b
		}
	case IFloor:
		return int(math.Floor(m.eval(fr, n.A)))
	}
	m.fail("bad integer expression %#v", e)
	return 0
}

func (m *Machine) eval(fr *frame, e Expr) float64 {
	switch n := e.(type) {
	case Num:
		return float64(n)
	case Elem:
		st, i := m.slot(fr, n.V, n.Index)
		return st[i]
	case Bin:
		a, b := m.eval(fr, n.A), m.eval(fr, n.B)
		switch n.Op {
		case '+':
			return a + b
		case '-':
			return a - b
		case '*':
			return a * b
		case '/':
			return a / b
		}
	case Neg:
		return -m.eval(fr, n.A)
	case Abs:
		return math.Abs(m.eval(fr, n.A))
	case ToReal:
		return float64(m.evalInt(fr, n.I))
	}
	m.fail("bad expression %#v", e)
	return 0
}

func (m *Machine) cond(fr *frame, c Cond) bool {
	switch n := c.(type) {
	case Cmp:
		return compare(n.Op, m.eval(fr, n.A), m.eval(fr, n.B))
	case ICmp:
		return compare(n.Op, float64(m.evalInt(fr, n.A)), float64(m.evalInt(fr, n.B)))
	case And:
		return m.cond(fr, n.A) && m.cond(fr, n.B)
	}
	m.fail("bad condition %#v", c)
	return false
}

func compare(op string, a, b float64) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}

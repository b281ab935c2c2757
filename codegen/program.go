package codegen

import (
	"errors"
	"fmt"
)

// ErrDuplicate is returned when a name is declared twice.
var ErrDuplicate = errors.New("codegen: duplicate declaration")

// Program is the ordered, append-only set of declarations and functions of one export.
type Program struct {
	Prefix    string
	vars      []*Variable
	callables []Callable
	names     map[string]bool
}

// NewProgram returns an empty program; prefix names the workspace struct.
func NewProgram(prefix string) *Program {
	return &Program{Prefix: prefix, names: make(map[string]bool)}
}

// Declare appends a workspace or static variable.
func (p *Program) Declare(vars ...*Variable) error {
	for _, v := range vars {
		if v.Scope != Workspace && v.Scope != Static {
			return fmt.Errorf("codegen: %s is not a global variable", v.Name)
		}
		if v.Scope == Static && len(v.Values) != v.Size() {
			return fmt.Errorf("codegen: static %s has %d values for size %d", v.Name, len(v.Values), v.Size())
		}
		if p.names[v.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicate, v.Name)
		}
		p.names[v.Name] = true
		p.vars = append(p.vars, v)
	}
	return nil
}

// Add appends callables.
func (p *Program) Add(cs ...Callable) error {
	for _, c := range cs {
		if p.names[c.Name()] {
			return fmt.Errorf("%w: %s", ErrDuplicate, c.Name())
		}
		p.names[c.Name()] = true
		p.callables = append(p.callables, c)
	}
	return nil
}

// Variables returns the global variables in declaration order.
func (p *Program) Variables() []*Variable { return p.vars }

// Callables returns the callables in declaration order.
func (p *Program) Callables() []Callable { return p.callables }

// Lookup returns the callable with the given name.
func (p *Program) Lookup(name string) (Callable, bool) {
	for _, c := range p.callables {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Variable returns the global variable with the given name.
func (p *Program) Variable(name string) (*Variable, bool) {
	for _, v := range p.vars {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

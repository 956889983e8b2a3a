package computer

import (
	"fmt"
	"sort"
)

// Peripheral is a device attached to one side of a computer. Calls always
// run on the host tick goroutine.
type Peripheral interface {
	Type() string
	Methods() []string
	Call(method string, args []any) ([]any, error)
}

// PeripheralFunc implements one peripheral method.
type PeripheralFunc func(args []any) ([]any, error)

// FuncPeripheral is a Peripheral built from a table of methods.
type FuncPeripheral struct {
	Kind  string
	Funcs map[string]PeripheralFunc
}

// Type returns the peripheral type.
func (p *FuncPeripheral) Type() string { return p.Kind }

// Methods returns the method names in sorted order.
func (p *FuncPeripheral) Methods() []string {
	names := make([]string, 0, len(p.Funcs))
	for name := range p.Funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a method by name.
func (p *FuncPeripheral) Call(method string, args []any) ([]any, error) {
	fn, ok := p.Funcs[method]
	if !ok {
		return nil, fmt.Errorf("no such method %s", method)
	}
	return fn(args)
}

// NewMemoryPeripheral returns a key/value "memory" peripheral with get, set
// and keys methods. It is the built-in device operators can attach.
func NewMemoryPeripheral() *FuncPeripheral {
	data := make(map[string]any)
	return &FuncPeripheral{
		Kind: "memory",
		Funcs: map[string]PeripheralFunc{
			"get": func(args []any) ([]any, error) {
				if len(args) < 1 {
					return nil, fmt.Errorf("expected key")
				}
				return []any{data[fmt.Sprint(args[0])]}, nil
			},
			"set": func(args []any) ([]any, error) {
				if len(args) < 2 {
					return nil, fmt.Errorf("expected key and value")
				}
				data[fmt.Sprint(args[0])] = args[1]
				return nil, nil
			},
			"keys": func([]any) ([]any, error) {
				keys := make([]string, 0, len(data))
				for k := range data {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				return []any{keys}, nil
			},
		},
	}
}

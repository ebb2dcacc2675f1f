package promotion

import (
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/fault"
)

// Facts are the values a promotion condition can reference.
type Facts struct {
	// Subtotal is the cart total before any discount.
	Subtotal decimal.Decimal
	// Quantity is the quantity of the line being priced.
	Quantity int
	UserID   string
}

// Conditions compiles and evaluates promotion conditions. Compiled
// programs are cached by expression.
type Conditions struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewConditions creates the CEL environment for promotion conditions.
func NewConditions() (*Conditions, error) {
	env, err := cel.NewEnv(
		cel.Variable("subtotal", cel.DoubleType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("user_id", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	return &Conditions{env: env, programs: make(map[string]cel.Program)}, nil
}

// Check compiles expr and verifies it yields a bool. Invalid expressions
// are validation errors.
func (c *Conditions) Check(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := c.program(expr)
	return err
}

// Eval reports whether facts satisfy expr. The empty expression always
// holds.
func (c *Conditions) Eval(expr string, f Facts) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"subtotal": f.Subtotal.InexactFloat64(),
		"quantity": int64(f.Quantity),
		"user_id":  f.UserID,
	})
	if err != nil {
		return false, errors.Wrapf(err, "eval condition %q", expr)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errors.Errorf("condition %q yielded %T", expr, out.Value())
	}
	return ok, nil
}

func (c *Conditions) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := c.env.Compile(expr)
	if iss.Err() != nil {
		return nil, fault.Errorf(fault.Validation, "invalid condition: %s", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fault.Errorf(fault.Validation, "condition must be boolean, got %s", ast.OutputType())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build cel program")
	}

	c.mu.Lock()
	c.programs[expr] = prg
	c.mu.Unlock()
	return prg, nil
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package expr

import (
	"fmt"
	"math"
	"sort"

	"github.com/alecthomas/participle/v2/lexer"
)

// Epsilon is the absolute tolerance of '==' on doubles; '!=' is its
// negation.
const Epsilon = 1e-4

// Kind is the result type of a compiled expression.
type Kind int

const (
	// KindNum is a numeric expression.
	KindNum Kind = iota
	// KindBool is a boolean expression.
	KindBool
)

func (k Kind) String() string {
	if k == KindBool {
		return "bool"
	}
	return "number"
}

// Context carries the state of one evaluation: the identifier bindings and
// the identifiers that failed to resolve. A Context is not safe for
// concurrent use; evaluations build one per call.
type Context struct {
	values  map[string]float64
	missing []string
}

func (c *Context) lookup(name string) float64 {
	if v, ok := c.values[name]; ok {
		return v
	}
	c.missing = append(c.missing, name)
	return math.NaN()
}

// BoolEvalFnc evaluates to a boolean.
type BoolEvalFnc = func(ctx *Context) bool

// NumEvalFnc evaluates to a number.
type NumEvalFnc = func(ctx *Context) float64

// BoolEvaluator is a compiled boolean node.
type BoolEvaluator struct {
	EvalFnc BoolEvalFnc
}

// NumEvaluator is a compiled numeric node.
type NumEvaluator struct {
	EvalFnc NumEvalFnc
}

// Compiled is an immutable compiled expression. It is safe for concurrent
// evaluation.
type Compiled struct {
	source string
	kind   Kind
	boolFn BoolEvalFnc
	numFn  NumEvalFnc
	idents []string
}

// Source returns the original expression string.
func (c *Compiled) Source() string { return c.source }

// Kind returns the result type of the expression.
func (c *Compiled) Kind() Kind { return c.kind }

// Identifiers returns the sorted set of identifiers the expression reads.
func (c *Compiled) Identifiers() []string { return c.idents }

// EvalBool evaluates a boolean expression against values. The second
// return lists identifiers missing from values; when non-empty the result
// is forced to false.
func (c *Compiled) EvalBool(values map[string]float64) (bool, []string) {
	ctx := &Context{values: values}
	var res bool
	if c.kind == KindBool {
		res = c.boolFn(ctx)
	} else {
		// A bare numeric expression used as a condition is true when
		// non-zero.
		res = math.Abs(c.numFn(ctx)) > Epsilon
	}
	if len(ctx.missing) > 0 {
		return false, ctx.missing
	}
	return res, nil
}

// EvalNum evaluates a numeric expression against values. The second
// return lists identifiers missing from values; when non-empty the value
// is unusable (NaN).
func (c *Compiled) EvalNum(values map[string]float64) (float64, []string) {
	ctx := &Context{values: values}
	v := c.numFn(ctx)
	if len(ctx.missing) > 0 {
		return math.NaN(), ctx.missing
	}
	return v, nil
}

// ErrSyntax is returned when an expression does not parse.
type ErrSyntax struct {
	Expression string
	Err        error
}

func (e *ErrSyntax) Error() string {
	return fmt.Sprintf("syntax error in `%s`: %s", e.Expression, e.Err)
}

func (e *ErrSyntax) Unwrap() error { return e.Err }

// ErrType is returned when operand types do not match an operator.
type ErrType struct {
	Pos  lexer.Position
	Text string
}

func (e *ErrType) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Text)
}

// ErrUnknownFunction is returned when a call names a function outside the
// function table.
type ErrUnknownFunction struct {
	Name string
}

func (e *ErrUnknownFunction) Error() string {
	return fmt.Sprintf("unknown function `%s`", e.Name)
}

// ErrFunctionArity is returned on a call with the wrong argument count.
type ErrFunctionArity struct {
	Name string
	Got  int
	Want int
}

func (e *ErrFunctionArity) Error() string {
	return fmt.Sprintf("function `%s` takes %d argument(s), got %d", e.Name, e.Want, e.Got)
}

type compileState struct {
	idents map[string]struct{}
}

// Compile parses and type-checks input, returning its compiled form.
func Compile(input string) (*Compiled, error) {
	ast, err := parse(input)
	if err != nil {
		return nil, &ErrSyntax{Expression: input, Err: err}
	}

	state := &compileState{idents: make(map[string]struct{})}
	ev, err := exprToEvaluator(ast, state)
	if err != nil {
		return nil, err
	}

	idents := make([]string, 0, len(state.idents))
	for id := range state.idents {
		idents = append(idents, id)
	}
	sort.Strings(idents)

	c := &Compiled{source: input, idents: idents}
	switch ev := ev.(type) {
	case *BoolEvaluator:
		c.kind = KindBool
		c.boolFn = ev.EvalFnc
	case *NumEvaluator:
		c.kind = KindNum
		c.numFn = ev.EvalFnc
	default:
		return nil, &ErrType{Pos: ast.Pos, Text: "unsupported evaluator type"}
	}
	return c, nil
}

func exprToEvaluator(node *Expr, state *compileState) (interface{}, error) {
	if len(node.Or) == 1 {
		return andToEvaluator(node.Or[0], state)
	}
	terms := make([]BoolEvalFnc, 0, len(node.Or))
	for _, t := range node.Or {
		ev, err := andToEvaluator(t, state)
		if err != nil {
			return nil, err
		}
		b, ok := ev.(*BoolEvaluator)
		if !ok {
			return nil, &ErrType{Pos: t.Pos, Text: "operand of `||` is not a boolean"}
		}
		terms = append(terms, b.EvalFnc)
	}
	return &BoolEvaluator{EvalFnc: func(ctx *Context) bool {
		for _, t := range terms {
			if t(ctx) {
				return true
			}
		}
		return false
	}}, nil
}

func andToEvaluator(node *AndTerm, state *compileState) (interface{}, error) {
	if len(node.And) == 1 {
		return cmpToEvaluator(node.And[0], state)
	}
	terms := make([]BoolEvalFnc, 0, len(node.And))
	for _, t := range node.And {
		ev, err := cmpToEvaluator(t, state)
		if err != nil {
			return nil, err
		}
		b, ok := ev.(*BoolEvaluator)
		if !ok {
			return nil, &ErrType{Pos: t.Pos, Text: "operand of `&&` is not a boolean"}
		}
		terms = append(terms, b.EvalFnc)
	}
	return &BoolEvaluator{EvalFnc: func(ctx *Context) bool {
		for _, t := range terms {
			if !t(ctx) {
				return false
			}
		}
		return true
	}}, nil
}

func cmpToEvaluator(node *CmpTerm, state *compileState) (interface{}, error) {
	left, err := sumToEvaluator(node.Left, state)
	if err != nil {
		return nil, err
	}
	if node.Op == "" {
		return left, nil
	}
	right, err := sumToEvaluator(node.Right, state)
	if err != nil {
		return nil, err
	}
	ln, ok := left.(*NumEvaluator)
	if !ok {
		return nil, &ErrType{Pos: node.Pos, Text: fmt.Sprintf("left operand of `%s` is not numeric", node.Op)}
	}
	rn, ok := right.(*NumEvaluator)
	if !ok {
		return nil, &ErrType{Pos: node.Pos, Text: fmt.Sprintf("right operand of `%s` is not numeric", node.Op)}
	}
	fn, err := compareFn(node.Op, ln.EvalFnc, rn.EvalFnc)
	if err != nil {
		return nil, err
	}
	return &BoolEvaluator{EvalFnc: fn}, nil
}

// compareFn builds a comparison closure. NaN compares false for the
// ordering operators; equality is epsilon-based and `!=` its negation.
func compareFn(op string, left, right NumEvalFnc) (BoolEvalFnc, error) {
	switch op {
	case "==":
		return func(ctx *Context) bool {
			return math.Abs(left(ctx)-right(ctx)) <= Epsilon
		}, nil
	case "!=":
		return func(ctx *Context) bool {
			return !(math.Abs(left(ctx)-right(ctx)) <= Epsilon)
		}, nil
	case ">":
		return func(ctx *Context) bool { return left(ctx) > right(ctx) }, nil
	case ">=":
		return func(ctx *Context) bool { return left(ctx) >= right(ctx) }, nil
	case "<":
		return func(ctx *Context) bool { return left(ctx) < right(ctx) }, nil
	case "<=":
		return func(ctx *Context) bool { return left(ctx) <= right(ctx) }, nil
	}
	return nil, fmt.Errorf("unsupported comparison operator `%s`", op)
}

func sumToEvaluator(node *Sum, state *compileState) (interface{}, error) {
	left, err := productToEvaluator(node.Left, state)
	if err != nil {
		return nil, err
	}
	if len(node.Rest) == 0 {
		return left, nil
	}
	acc, ok := left.(*NumEvaluator)
	if !ok {
		return nil, &ErrType{Pos: node.Pos, Text: "operand of `+`/`-` is not numeric"}
	}
	fn := acc.EvalFnc
	for _, tail := range node.Rest {
		term, err := productToEvaluator(tail.Term, state)
		if err != nil {
			return nil, err
		}
		tn, ok := term.(*NumEvaluator)
		if !ok {
			return nil, &ErrType{Pos: node.Pos, Text: fmt.Sprintf("operand of `%s` is not numeric", tail.Op)}
		}
		prev, next := fn, tn.EvalFnc
		switch tail.Op {
		case "+":
			fn = func(ctx *Context) float64 { return prev(ctx) + next(ctx) }
		case "-":
			fn = func(ctx *Context) float64 { return prev(ctx) - next(ctx) }
		}
	}
	return &NumEvaluator{EvalFnc: fn}, nil
}

func productToEvaluator(node *Product, state *compileState) (interface{}, error) {
	left, err := unaryToEvaluator(node.Left, state)
	if err != nil {
		return nil, err
	}
	if len(node.Rest) == 0 {
		return left, nil
	}
	acc, ok := left.(*NumEvaluator)
	if !ok {
		return nil, &ErrType{Pos: node.Pos, Text: "operand of `*`/`/` is not numeric"}
	}
	fn := acc.EvalFnc
	for _, tail := range node.Rest {
		term, err := unaryToEvaluator(tail.Term, state)
		if err != nil {
			return nil, err
		}
		tn, ok := term.(*NumEvaluator)
		if !ok {
			return nil, &ErrType{Pos: node.Pos, Text: fmt.Sprintf("operand of `%s` is not numeric", tail.Op)}
		}
		prev, next := fn, tn.EvalFnc
		switch tail.Op {
		case "*":
			fn = func(ctx *Context) float64 { return prev(ctx) * next(ctx) }
		case "/":
			// IEEE-754 semantics: division by zero yields ±Inf or NaN,
			// surfaced as condition-false downstream.
			fn = func(ctx *Context) float64 { return prev(ctx) / next(ctx) }
		}
	}
	return &NumEvaluator{EvalFnc: fn}, nil
}

func unaryToEvaluator(node *Unary, state *compileState) (interface{}, error) {
	if node.Primary != nil {
		return primaryToEvaluator(node.Primary, state)
	}
	inner, err := unaryToEvaluator(node.Unary, state)
	if err != nil {
		return nil, err
	}
	switch node.Op {
	case "-":
		n, ok := inner.(*NumEvaluator)
		if !ok {
			return nil, &ErrType{Pos: node.Pos, Text: "operand of unary `-` is not numeric"}
		}
		fn := n.EvalFnc
		return &NumEvaluator{EvalFnc: func(ctx *Context) float64 { return -fn(ctx) }}, nil
	case "!":
		b, ok := inner.(*BoolEvaluator)
		if !ok {
			return nil, &ErrType{Pos: node.Pos, Text: "operand of `!` is not a boolean"}
		}
		fn := b.EvalFnc
		return &BoolEvaluator{EvalFnc: func(ctx *Context) bool { return !fn(ctx) }}, nil
	}
	return nil, &ErrType{Pos: node.Pos, Text: fmt.Sprintf("unsupported unary operator `%s`", node.Op)}
}

func primaryToEvaluator(node *Primary, state *compileState) (interface{}, error) {
	switch {
	case node.Number != nil:
		v := *node.Number
		return &NumEvaluator{EvalFnc: func(*Context) float64 { return v }}, nil
	case node.Call != nil:
		return callToEvaluator(node.Call, state)
	case node.Ident != nil:
		name := *node.Ident
		state.idents[name] = struct{}{}
		return &NumEvaluator{EvalFnc: func(ctx *Context) float64 { return ctx.lookup(name) }}, nil
	case node.Sub != nil:
		return exprToEvaluator(node.Sub, state)
	}
	return nil, &ErrType{Pos: node.Pos, Text: "empty primary"}
}

func callToEvaluator(node *Call, state *compileState) (interface{}, error) {
	fn, ok := functions[node.Name]
	if !ok {
		return nil, &ErrUnknownFunction{Name: node.Name}
	}
	if len(node.Args) != fn.arity {
		return nil, &ErrFunctionArity{Name: node.Name, Got: len(node.Args), Want: fn.arity}
	}

	args := make([]NumEvalFnc, 0, len(node.Args))
	for _, arg := range node.Args {
		ev, err := exprToEvaluator(arg, state)
		if err != nil {
			return nil, err
		}
		n, ok := ev.(*NumEvaluator)
		if !ok {
			return nil, &ErrType{Pos: arg.Pos, Text: fmt.Sprintf("argument of `%s` is not numeric", node.Name)}
		}
		args = append(args, n.EvalFnc)
	}

	impl := fn.impl
	switch fn.arity {
	case 1:
		a := args[0]
		return &NumEvaluator{EvalFnc: func(ctx *Context) float64 {
			return impl(a(ctx), 0)
		}}, nil
	case 2:
		a, b := args[0], args[1]
		return &NumEvaluator{EvalFnc: func(ctx *Context) float64 {
			return impl(a(ctx), b(ctx))
		}}, nil
	}
	return nil, &ErrFunctionArity{Name: node.Name, Got: len(node.Args), Want: fn.arity}
}

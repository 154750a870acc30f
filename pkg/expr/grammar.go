// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package expr compiles rule expressions to evaluator closures.
//
// The grammar covers arithmetic, comparison and boolean composition over
// sensor identifiers plus a small fixed function table. Expressions are
// compiled ahead of evaluation into closures; the runtime evaluates the
// compiled form only, there is no per-cycle parsing.
package expr

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Sensor keys are valid identifiers, so the Ident class admits ':' and '.'
// in addition to the usual word characters.
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "whitespace", Pattern: `\s+`},
	{Name: "Number", Pattern: `[0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_:.]*`},
	{Name: "Op", Pattern: `&&|\|\||==|!=|>=|<=|[-+*/<>()!,]`},
})

var exprParser = participle.MustBuild[Expr](
	participle.Lexer(exprLexer),
	participle.UseLookahead(2),
)

// Expr is the root node: '||'-separated terms, lowest precedence.
type Expr struct {
	Pos lexer.Position

	Or []*AndTerm `parser:"@@ ( '||' @@ )*"`
}

// AndTerm is a '&&'-separated chain of comparisons.
type AndTerm struct {
	Pos lexer.Position

	And []*CmpTerm `parser:"@@ ( '&&' @@ )*"`
}

// CmpTerm is an optional single comparison between two sums. Without an
// operator it passes its left side through unchanged.
type CmpTerm struct {
	Pos lexer.Position

	Left  *Sum   `parser:"@@"`
	Op    string `parser:"( @( '==' | '!=' | '>=' | '<=' | '>' | '<' )"`
	Right *Sum   `parser:"@@ )?"`
}

// Sum is a left-associative additive chain.
type Sum struct {
	Pos lexer.Position

	Left *Product   `parser:"@@"`
	Rest []*SumTail `parser:"@@*"`
}

// SumTail is one '+' or '-' step of a Sum.
type SumTail struct {
	Op   string   `parser:"@( '+' | '-' )"`
	Term *Product `parser:"@@"`
}

// Product is a left-associative multiplicative chain.
type Product struct {
	Pos lexer.Position

	Left *Unary         `parser:"@@"`
	Rest []*ProductTail `parser:"@@*"`
}

// ProductTail is one '*' or '/' step of a Product.
type ProductTail struct {
	Op   string `parser:"@( '*' | '/' )"`
	Term *Unary `parser:"@@"`
}

// Unary is negation ('-' numeric, '!' boolean) or a primary.
type Unary struct {
	Pos lexer.Position

	Op      string   `parser:"( @( '-' | '!' )"`
	Unary   *Unary   `parser:"  @@ )"`
	Primary *Primary `parser:"| @@"`
}

// Primary is a literal, a function call, an identifier or a
// parenthesized sub-expression.
type Primary struct {
	Pos lexer.Position

	Number *float64 `parser:"@Number"`
	Call   *Call    `parser:"| @@"`
	Ident  *string  `parser:"| @Ident"`
	Sub    *Expr    `parser:"| '(' @@ ')'"`
}

// Call is a function invocation against the fixed function table.
type Call struct {
	Pos lexer.Position

	Name string  `parser:"@Ident"`
	Args []*Expr `parser:"'(' ( @@ ( ',' @@ )* )? ')'"`
}

func parse(input string) (*Expr, error) {
	return exprParser.ParseString("", input)
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package expr

import "math"

type function struct {
	arity int
	impl  func(a, b float64) float64
}

// functions is the closed function table of the expression language.
// Arity is checked at compile time.
var functions = map[string]function{
	"abs":     {arity: 1, impl: func(a, _ float64) float64 { return math.Abs(a) }},
	"round":   {arity: 1, impl: func(a, _ float64) float64 { return math.Round(a) }},
	"floor":   {arity: 1, impl: func(a, _ float64) float64 { return math.Floor(a) }},
	"ceiling": {arity: 1, impl: func(a, _ float64) float64 { return math.Ceil(a) }},
	"sqrt":    {arity: 1, impl: func(a, _ float64) float64 { return math.Sqrt(a) }},
	"min":     {arity: 2, impl: math.Min},
	"max":     {arity: 2, impl: math.Max},
	"pow":     {arity: 2, impl: math.Pow},
}

/*
Package calc evaluates arithmetic expressions for the calculator tool.

# Overview

calc accepts a deliberately small grammar so that text produced by a
language model can be evaluated without running arbitrary code. Anything
outside the grammar is a syntax error.

# Grammar

	<expr>   := <term> (('+' | '-') <term>)*
	<term>   := <unary> (('*' | '/') <unary>)*
	<unary>  := '-' <unary> | '+' <unary> | <factor>
	<factor> := <number> | '(' <expr> ')'
	<number> := digits ['.' digits] | '.' digits

Whitespace between tokens is ignored. Thousands separators ("1,000") are
accepted inside numbers and dropped.

# Usage

	v, err := calc.Eval("(12.99 + 8) * 12")
	// v == 251.88

	e := calc.New(calc.WithMaxDepth(8))
	_, err = e.Evaluate("((((((((((1))))))))))")
	// err is a *SyntaxError: nesting too deep

# Errors

Malformed input returns *SyntaxError carrying the byte offset of the
problem. Division by zero returns ErrDivisionByZero.
*/
package calc

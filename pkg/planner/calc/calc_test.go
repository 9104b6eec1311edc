package calc_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/randalmurphal/taskguide/pkg/planner/calc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want float64
	}{
		{"integer", "42", 42},
		{"decimal", "3.25", 3.25},
		{"leading dot", ".5", 0.5},
		{"trailing dot", "2.", 2},
		{"addition", "1 + 2", 3},
		{"subtraction", "10 - 4", 6},
		{"multiplication", "6 * 7", 42},
		{"division", "9 / 2", 4.5},
		{"precedence", "2 + 3 * 4", 14},
		{"left associative minus", "10 - 3 - 2", 5},
		{"left associative divide", "100 / 10 / 5", 2},
		{"parentheses", "(2 + 3) * 4", 20},
		{"nested parentheses", "((1 + 2) * (3 + 4))", 21},
		{"unary minus", "-5 + 2", -3},
		{"double unary", "--5", 5},
		{"unary plus", "+5", 5},
		{"unary in product", "3 * -2", -6},
		{"negated group", "-(2 + 3)", -5},
		{"no spaces", "1+2*3", 7},
		{"extra whitespace", "  \t1 +\n 2  ", 3},
		{"thousands separator", "1,000 * 12", 12000},
		{"subscription math", "(12.99 + 8) * 12", 251.88},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.Eval(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEval_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantMsg string
	}{
		{"empty", "", "empty expression"},
		{"blank", "   ", "empty expression"},
		{"identifier", "x + 1", "unexpected"},
		{"code injection", "__import__('os')", "unexpected"},
		{"power operator", "2 ** 3", "unexpected"},
		{"trailing operator", "1 +", "unexpected end"},
		{"unbalanced open", "(1 + 2", "missing closing parenthesis"},
		{"unbalanced close", "1 + 2)", "unexpected"},
		{"double dot", "1.2.3", "unexpected"},
		{"lone dot", ".", "malformed number"},
		{"exponent", "1e5", "unexpected"},
		{"function call", "sqrt(4)", "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.Eval(tt.expr)
			require.Error(t, err)

			var syn *calc.SyntaxError
			require.True(t, errors.As(err, &syn), "got %T", err)
			assert.Contains(t, syn.Msg, tt.wantMsg)
			assert.Equal(t, tt.expr, syn.Expr)
		})
	}
}

func TestEval_Offset(t *testing.T) {
	_, err := calc.Eval("1 + x")
	var syn *calc.SyntaxError
	require.ErrorAs(t, err, &syn)
	assert.Equal(t, 4, syn.Offset)
}

func TestEval_DivisionByZero(t *testing.T) {
	for _, expr := range []string{"1 / 0", "5 / (2 - 2)", "1 / -0"} {
		_, err := calc.Eval(expr)
		assert.ErrorIs(t, err, calc.ErrDivisionByZero, expr)
	}
}

func TestEvaluator_MaxDepth(t *testing.T) {
	deep := strings.Repeat("(", 10) + "1" + strings.Repeat(")", 10)

	v, err := calc.New().Evaluate(deep)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	_, err = calc.New(calc.WithMaxDepth(5)).Evaluate(deep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting too deep")

	_, err = calc.New(calc.WithMaxDepth(3)).Evaluate("----1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting too deep")

	_, err = calc.New(calc.WithMaxDepth(0)).Evaluate(deep)
	require.NoError(t, err, "non-positive depth keeps the default")
}

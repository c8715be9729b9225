package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

const invalidExpression = "数学表达式无效，请检查语法。"

// MathTool evaluates arithmetic expressions.
type MathTool struct{}

// MathResult is the result of calculate_math.
type MathResult struct {
	Expression string `json:"expression"`
	Result     string `json:"result"`
}

// NewMathTool creates the calculate_math tool.
func NewMathTool() *MathTool { return &MathTool{} }

func (t *MathTool) Name() string { return "calculate_math" }

func (t *MathTool) Description() string {
	return "计算数学表达式，支持 + - * / ^ 和括号"
}

func (t *MathTool) InputSchema() InputSchema {
	return ObjectSchema(map[string]Property{
		"expression": {Type: "string", Description: "数学表达式，例如 (5 + 3) * 2 或 sqrt(16)"},
	}, "expression")
}

func (t *MathTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	expression, ok := stringParam(params, "expression")
	if !ok {
		return SoftError(invalidExpression), nil
	}

	v, err := Evaluate(expression)
	if err != nil {
		return SoftError(invalidExpression), nil
	}
	return MathResult{Expression: expression, Result: v}, nil
}

var mathConstants = map[string]any{
	"pi": math.Pi,
	"e":  math.E,
}

// unary wraps a float64 function as an expr function.
func unary(name string, fn func(float64) float64) expr.Option {
	return expr.Function(name, func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(params))
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		return fn(x), nil
	})
}

var mathFunctions = []expr.Option{
	unary("sqrt", math.Sqrt),
	unary("sin", math.Sin),
	unary("cos", math.Cos),
	unary("tan", math.Tan),
	unary("log", math.Log),
	unary("ln", math.Log),
	unary("log10", math.Log10),
	unary("exp", math.Exp),
	expr.Function("pow", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("pow expects 2 arguments, got %d", len(params))
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		y, err := toFloat(params[1])
		if err != nil {
			return nil, err
		}
		return math.Pow(x, y), nil
	}),
	expr.Function("fmod", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("fmod expects 2 arguments, got %d", len(params))
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		y, err := toFloat(params[1])
		if err != nil {
			return nil, err
		}
		return math.Mod(x, y), nil
	}, new(func(float64, float64) float64)),
}

// floatLiterals turns integer literals into floats so arithmetic never
// wraps around at int64.
type floatLiterals struct{}

func (floatLiterals) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.IntegerNode); ok {
		ast.Patch(node, &ast.FloatNode{Value: float64(n.Value)})
	}
}

// Evaluate computes an expression in float64 and formats the value as a string.
// abs, floor, ceil and round are expr builtins; % is math.Mod.
func Evaluate(expression string) (string, error) {
	opts := append([]expr.Option{expr.Env(mathConstants), expr.Patch(floatLiterals{})}, mathFunctions...)
	opts = append(opts, expr.Operator("%", "fmod"))

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return "", err
	}
	out, err := expr.Run(program, mathConstants)
	if err != nil {
		return "", err
	}

	switch v := out.(type) {
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return formatNumber(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("expression produced %T, not a number", out)
	}
}

// formatNumber renders floats the way a JavaScript number prints.
func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

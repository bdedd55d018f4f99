// Package condition evaluates the (conditionType, decisionValue) pairs a
// DecisionNode or XorNode fires against a business method's return value
// (spec §4.7). GatewayNode routing keys are matched by the orchestrator's
// route selector directly and do not pass through this package.
package condition

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/tidwall/gjson"
)

// Evaluator evaluates routing conditions, caching compiled CEL programs the
// way the rest of the corpus does for expression-based conditions.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator returns an Evaluator with an empty expression cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Satisfied reports whether returnValue satisfies (conditionType,
// decisionValue). conditionType is one of the declared scalar kinds
// (string, boolean, int, long, double), "json" (extracting
// routing_decision.routing_path via gjson before comparing), or a raw CEL
// boolean expression over the bound variable `output` for anything else.
func (e *Evaluator) Satisfied(conditionType, decisionValue string, returnValue any) (bool, error) {
	switch conditionType {
	case "", "string":
		return fmt.Sprintf("%v", returnValue) == decisionValue, nil
	case "boolean":
		want, err := strconv.ParseBool(decisionValue)
		if err != nil {
			return false, fmt.Errorf("condition: decisionValue %q is not boolean: %w", decisionValue, err)
		}
		got, ok := returnValue.(bool)
		if !ok {
			return false, fmt.Errorf("condition: return value %v is not boolean", returnValue)
		}
		return got == want, nil
	case "int", "long":
		want, err := strconv.ParseInt(decisionValue, 10, 64)
		if err != nil {
			return false, fmt.Errorf("condition: decisionValue %q is not integer: %w", decisionValue, err)
		}
		got, err := toInt64(returnValue)
		if err != nil {
			return false, err
		}
		return got == want, nil
	case "double":
		want, err := strconv.ParseFloat(decisionValue, 64)
		if err != nil {
			return false, fmt.Errorf("condition: decisionValue %q is not a double: %w", decisionValue, err)
		}
		got, err := toFloat64(returnValue)
		if err != nil {
			return false, err
		}
		return got == want, nil
	case "json", "JSON":
		return e.satisfiedJSON(decisionValue, returnValue)
	default:
		return e.evaluateCEL(conditionType, returnValue)
	}
}

// satisfiedJSON extracts routing_decision.routing_path from a JSON-typed
// return value and compares it to decisionValue.
func (e *Evaluator) satisfiedJSON(decisionValue string, returnValue any) (bool, error) {
	var doc string
	switch v := returnValue.(type) {
	case string:
		doc = v
	case []byte:
		doc = string(v)
	default:
		return false, fmt.Errorf("condition: JSON condition requires string/[]byte return value, got %T", returnValue)
	}
	path := gjson.Get(doc, "routing_decision.routing_path")
	if !path.Exists() {
		return false, nil
	}
	return path.String() == decisionValue, nil
}

// evaluateCEL treats expr as a CEL boolean expression over the bound
// variable `output`, compiling and caching the program on first use.
func (e *Evaluator) evaluateCEL(expr string, output any) (bool, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()

	if !ok {
		var err error
		prg, err = e.compile(expr)
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{"output": output})
	if err != nil {
		return false, fmt.Errorf("condition: CEL evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition: CEL expression %q did not return boolean", expr)
	}
	return result, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("output", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("condition: CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition: CEL compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition: CEL program: %w", err)
	}
	return prg, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("condition: return value %v (%T) is not numeric", v, v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("condition: return value %v (%T) is not numeric", v, v)
	}
}

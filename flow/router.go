package flow

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Rule pairs a boolean expression over the state bag with the label to return
// when it evaluates to true.
type Rule struct {
	When string
	Then Label
}

type compiledRule struct {
	program *vm.Program
	then    Label
}

// ExprRouter compiles a rule list into a RouterFunc. Rules are evaluated in
// order; the first one whose expression is true wins, otherwise fallback is
// returned. Expressions see the state bag keys as variables, e.g.
// "cost > 1000000". Compilation happens here so a bad expression is a build
// error rather than a runtime surprise.
func ExprRouter(rules []Rule, fallback Label) (RouterFunc, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		program, err := expr.Compile(r.When,
			expr.Env(map[string]any{}),
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
		)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %q: %w", r.When, err)
		}

		compiled = append(compiled, compiledRule{program: program, then: r.Then})
	}

	return func(ctx context.Context, st State) (Label, error) {
		env := map[string]any(st)
		for _, cr := range compiled {
			out, err := expr.Run(cr.program, env)
			if err != nil {
				return "", fmt.Errorf("evaluating router rule: %w", err)
			}

			if matched, ok := out.(bool); ok && matched {
				return cr.then, nil
			}
		}

		return fallback, nil
	}, nil
}

// MustExprRouter is ExprRouter that panics on a compile error. Use it for
// rules declared at startup.
func MustExprRouter(rules []Rule, fallback Label) RouterFunc {
	r, err := ExprRouter(rules, fallback)
	if err != nil {
		panic(err)
	}

	return r
}

package binding

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/rapport/internal/social"
)

// exprCostLimit bounds the evaluation cost of a single expression.
const exprCostLimit = 10000

// Expr is a CEL boolean expression over the three sides of a match. Each of
// owner, target and relationship is exposed as a map with "id" (string)
// and "traits" (list of strings):
//
//	"Kind" in owner.traits && !("Feud" in relationship.traits)
type Expr struct {
	Source string
	prg    cel.Program
}

// NewExpr compiles src. Compilation and type errors are reported here, never
// at evaluation time.
func NewExpr(src string) (*Expr, error) {
	env, err := cel.NewEnv(
		cel.Variable("owner", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("relationship", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("binding: create CEL environment: %w", err)
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: expr %q: %v", ErrInvalidArgument, src, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: expr %q evaluates to %s, not bool", ErrInvalidArgument, src, t)
	}
	prg, err := env.Program(ast, cel.CostLimit(exprCostLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: expr %q: %v", ErrInvalidArgument, src, err)
	}
	return &Expr{Source: src, prg: prg}, nil
}

// Holds implements [social.Precondition]. An evaluation error or a non-bool
// result counts as false.
func (p *Expr) Holds(m social.Match) bool {
	out, _, err := p.prg.Eval(map[string]any{
		"owner":        subjectVars(m.Owner),
		"target":       subjectVars(m.Target),
		"relationship": subjectVars(m.Relationship),
	})
	if err != nil {
		slog.Warn("binding: expr evaluation failed", "expr", p.Source, "err", err)
		return false
	}
	b, ok := out.Value().(bool)
	if !ok {
		slog.Warn("binding: expr did not evaluate to bool", "expr", p.Source, "value", out.Value())
		return false
	}
	return b
}

func subjectVars(s social.Subject) map[string]any {
	if s == nil {
		return map[string]any{"id": "", "traits": []string{}}
	}
	return map[string]any{"id": s.ID(), "traits": s.TraitIDs()}
}

func exprFactory(node *yaml.Node) (social.Precondition, error) {
	if err := CheckFields(node, "expr"); err != nil {
		return nil, err
	}
	var args struct {
		Expr string `yaml:"expr"`
	}
	if err := node.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if args.Expr == "" {
		return nil, fmt.Errorf("%w: expr is required", ErrInvalidArgument)
	}
	return NewExpr(args.Expr)
}

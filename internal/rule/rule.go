// Package rule compiles and evaluates payroll heading formulas.
//
// A rule is a small arithmetic expression over decimal literals and
// double-underscore delimited references such as __BASIC_SALARY__ or
// __WORKED_DAYS__. Parsing is delegated to cel-go; the parsed AST is
// lowered to a compact tree that evaluates with fixed-point decimals,
// never binary floats. Anything outside the arithmetic subset is a
// configuration error at compile time, so a rule that compiled once can
// only fail at evaluation through a missing reference or a zero
// divisor.
package rule

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/shopspring/decimal"
)

// ConfigurationError reports an invalid heading configuration: a
// malformed rule, an unresolved reference, or a dependency cycle. It is
// raised when a heading is saved, never during per-employee evaluation.
type ConfigurationError struct {
	Heading string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Heading == "" {
		return "configuration error: " + e.Reason
	}
	return "configuration error: heading " + e.Heading + ": " + e.Reason
}

func NewConfigurationError(heading string, reason string) error {
	return &ConfigurationError{Heading: heading, Reason: reason}
}

var referencePattern = regexp.MustCompile(`^__[A-Z][A-Z0-9_]*__$`)

// IsReferenceName reports whether name has the canonical __NAME__ shape.
func IsReferenceName(name string) bool {
	return referencePattern.MatchString(name)
}

type opKind int

const (
	opLiteral opKind = iota
	opRef
	opAdd
	opSub
	opMul
	opDiv
	opNeg
)

type node struct {
	op    opKind
	lit   decimal.Decimal
	ref   string
	left  *node
	right *node
}

// Rule is a compiled formula. Compiled rules are immutable and safe for
// concurrent use.
type Rule struct {
	source string
	root   *node
	refs   []string
}

func (r *Rule) Source() string { return r.source }

// References returns the free __NAME__ references of the rule in first
// occurrence order.
func (r *Rule) References() []string {
	out := make([]string, len(r.refs))
	copy(out, r.refs)
	return out
}

var ruleCache sync.Map

var parserEnvOnce sync.Once
var parserEnvShared *cel.Env
var parserEnvErr error

func parserEnv() (*cel.Env, error) {
	parserEnvOnce.Do(func() {
		parserEnvShared, parserEnvErr = cel.NewEnv()
	})
	return parserEnvShared, parserEnvErr
}

// Compile parses src and lowers it to an evaluable rule. Results are
// cached by source text.
func Compile(src string) (*Rule, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, NewConfigurationError("", "rule is empty")
	}
	if cached, ok := ruleCache.Load(trimmed); ok {
		return cached.(*Rule), nil
	}

	env, err := parserEnv()
	if err != nil {
		return nil, err
	}
	parsed, issues := env.Parse(trimmed)
	if issues != nil && issues.Err() != nil {
		return nil, NewConfigurationError("", "rule does not parse: "+issues.Err().Error())
	}

	c := &compiler{seen: map[string]bool{}}
	root, err := c.lower(parsed.NativeRep().Expr())
	if err != nil {
		return nil, err
	}

	r := &Rule{source: trimmed, root: root, refs: c.refs}
	ruleCache.Store(trimmed, r)
	return r, nil
}

type compiler struct {
	refs []string
	seen map[string]bool
}

func (c *compiler) lower(e celast.Expr) (*node, error) {
	switch e.Kind() {
	case celast.LiteralKind:
		switch v := e.AsLiteral().Value().(type) {
		case int64:
			return &node{op: opLiteral, lit: decimal.NewFromInt(v)}, nil
		case float64:
			// cel parses "0.10" as a double; NewFromFloat recovers the
			// shortest round-trip decimal, which is exactly 0.1.
			return &node{op: opLiteral, lit: decimal.NewFromFloat(v)}, nil
		default:
			return nil, NewConfigurationError("", fmt.Sprintf("literal %v is not numeric", e.AsLiteral().Value()))
		}
	case celast.IdentKind:
		name := e.AsIdent()
		if !IsReferenceName(name) {
			return nil, NewConfigurationError("", "reference "+name+" must have the __NAME__ form")
		}
		if !c.seen[name] {
			c.seen[name] = true
			c.refs = append(c.refs, name)
		}
		return &node{op: opRef, ref: name}, nil
	case celast.CallKind:
		call := e.AsCall()
		args := call.Args()
		switch call.FunctionName() {
		case operators.Add, operators.Subtract, operators.Multiply, operators.Divide:
			if len(args) != 2 {
				return nil, NewConfigurationError("", "operator arity mismatch")
			}
			left, err := c.lower(args[0])
			if err != nil {
				return nil, err
			}
			right, err := c.lower(args[1])
			if err != nil {
				return nil, err
			}
			op := map[string]opKind{
				operators.Add:      opAdd,
				operators.Subtract: opSub,
				operators.Multiply: opMul,
				operators.Divide:   opDiv,
			}[call.FunctionName()]
			return &node{op: op, left: left, right: right}, nil
		case operators.Negate:
			if len(args) != 1 {
				return nil, NewConfigurationError("", "operator arity mismatch")
			}
			arg, err := c.lower(args[0])
			if err != nil {
				return nil, err
			}
			return &node{op: opNeg, left: arg}, nil
		default:
			return nil, NewConfigurationError("", "function "+call.FunctionName()+" is not allowed in rules")
		}
	default:
		return nil, NewConfigurationError("", "rule contains a non-arithmetic construct")
	}
}

// Env resolves a reference to its value during evaluation.
type Env func(name string) (decimal.Decimal, bool)

// Evaluate computes the rule over env. A reference env cannot resolve
// or a zero divisor yields an error; configuration problems never
// surface here because Compile already rejected them.
func (r *Rule) Evaluate(env Env) (decimal.Decimal, error) {
	return evalNode(r.root, env)
}

// divisionPrecision matches shopspring's default but is fixed here so
// the engine's behavior does not drift with library defaults.
const divisionPrecision = 16

func evalNode(n *node, env Env) (decimal.Decimal, error) {
	switch n.op {
	case opLiteral:
		return n.lit, nil
	case opRef:
		v, ok := env(n.ref)
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("reference %s has no value", n.ref)
		}
		return v, nil
	case opNeg:
		v, err := evalNode(n.left, env)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return v.Neg(), nil
	}

	left, err := evalNode(n.left, env)
	if err != nil {
		return decimal.Decimal{}, err
	}
	right, err := evalNode(n.right, env)
	if err != nil {
		return decimal.Decimal{}, err
	}
	switch n.op {
	case opAdd:
		return left.Add(right), nil
	case opSub:
		return left.Sub(right), nil
	case opMul:
		return left.Mul(right), nil
	case opDiv:
		if right.IsZero() {
			return decimal.Decimal{}, fmt.Errorf("division by zero in rule")
		}
		return left.DivRound(right, divisionPrecision), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("corrupt rule node")
	}
}

// ValidateReferences checks every free reference of the rule against
// known. Unknown references are a configuration error attached to
// heading.
func ValidateReferences(heading string, r *Rule, known func(name string) bool) error {
	for _, ref := range r.refs {
		if !known(ref) {
			return NewConfigurationError(heading, "reference "+ref+" does not resolve to a heading or context metric")
		}
	}
	return nil
}

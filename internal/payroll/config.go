package payroll

import (
	"math"

	"github.com/realhrms/payroll/internal/rule"
)

// Config is one organization's compiled heading configuration: every
// rule parsed, every reference resolved, and the dependency graph
// topologically ordered. Building a Config is the save-time gate; a
// Config that exists cannot fail configuration checks later.
type Config struct {
	Organization string
	Revision     int64

	headings []HeadingDefinition
	byVar    map[string]HeadingDefinition
	byName   map[string]HeadingDefinition
	rules    map[string]*rule.Rule
	graph    *rule.Graph
}

// NewConfig compiles headings and resolves the dependency graph.
// The synthetic annual-gross node depends on every taxable heading, so
// topological order alone guarantees tax headings see a complete
// aggregate.
func NewConfig(org string, revision int64, headings []HeadingDefinition) (*Config, error) {
	return newConfig(org, revision, headings, nil)
}

// NewCachedConfig is NewConfig with the graph served from resolver,
// version-stamped by revision.
func NewCachedConfig(org string, revision int64, headings []HeadingDefinition, resolver *rule.Resolver) (*Config, error) {
	return newConfig(org, revision, headings, resolver)
}

func newConfig(org string, revision int64, headings []HeadingDefinition, resolver *rule.Resolver) (*Config, error) {
	cfg := &Config{
		Organization: org,
		Revision:     revision,
		headings:     headings,
		byVar:        make(map[string]HeadingDefinition, len(headings)),
		byName:       make(map[string]HeadingDefinition, len(headings)),
		rules:        make(map[string]*rule.Rule, len(headings)),
	}

	for _, h := range headings {
		if err := validateShape(h); err != nil {
			return nil, err
		}
		if _, dup := cfg.byName[h.Name]; dup {
			return nil, rule.NewConfigurationError(h.Name, "duplicate heading name")
		}
		varName := h.VarName()
		if _, dup := cfg.byVar[varName]; dup {
			return nil, rule.NewConfigurationError(h.Name, "heading variable "+varName+" collides with another heading")
		}
		if IsContextVar(varName) && varName != VarAnnualGross {
			return nil, rule.NewConfigurationError(h.Name, "heading variable "+varName+" collides with a context metric")
		}
		cfg.byName[h.Name] = h
		cfg.byVar[varName] = h

		compiled, err := rule.Compile(h.Rule)
		if err != nil {
			return nil, rule.NewConfigurationError(h.Name, err.Error())
		}
		known := func(name string) bool {
			if _, ok := cfg.resolvesAmong(headings, name); ok {
				return true
			}
			return IsContextVar(name)
		}
		if err := rule.ValidateReferences(h.Name, compiled, known); err != nil {
			return nil, err
		}
		cfg.rules[varName] = compiled
	}

	nodes := make([]rule.Node, 0, len(headings)+1)
	var taxableVars []string
	for _, h := range headings {
		varName := h.VarName()
		nodes = append(nodes, rule.Node{
			Name:  varName,
			Deps:  cfg.rules[varName].References(),
			Order: h.Order,
		})
		if h.IsTaxable() {
			taxableVars = append(taxableVars, varName)
		}
	}
	nodes = append(nodes, rule.Node{
		Name:  VarAnnualGross,
		Deps:  taxableVars,
		Order: math.MaxInt32,
	})

	build := func() (*rule.Graph, error) { return rule.Build(revision, nodes) }
	var g *rule.Graph
	var err error
	if resolver != nil {
		g, err = resolver.Get(org, revision, build)
	} else {
		g, err = build()
	}
	if err != nil {
		return nil, err
	}
	cfg.graph = g
	return cfg, nil
}

func (c *Config) resolvesAmong(headings []HeadingDefinition, name string) (HeadingDefinition, bool) {
	for _, h := range headings {
		if h.VarName() == name {
			return h, true
		}
	}
	return HeadingDefinition{}, false
}

func (c *Config) Headings() []HeadingDefinition { return c.headings }

func (c *Config) HeadingByName(name string) (HeadingDefinition, bool) {
	h, ok := c.byName[name]
	return h, ok
}

func (c *Config) headingByVar(varName string) (HeadingDefinition, bool) {
	h, ok := c.byVar[varName]
	return h, ok
}

func (c *Config) ruleByVar(varName string) *rule.Rule { return c.rules[varName] }

func (c *Config) Graph() *rule.Graph { return c.graph }

func validateShape(h HeadingDefinition) error {
	if h.Name == "" {
		return rule.NewConfigurationError("", "heading name is required")
	}
	if !h.Type.Valid() {
		return rule.NewConfigurationError(h.Name, "unknown heading type "+string(h.Type))
	}
	unit := h.DurationUnit
	if unit == "" {
		unit = DurationNone
	}
	if !unit.Valid() {
		return rule.NewConfigurationError(h.Name, "unknown duration unit "+string(h.DurationUnit))
	}
	if unit == DurationHourly && h.HourlySource.varName() == "" {
		return rule.NewConfigurationError(h.Name, "hourly heading requires an hourly source")
	}
	if unit != DurationHourly && h.HourlySource != HourlySourceNone {
		return rule.NewConfigurationError(h.Name, "hourly source is only valid on hourly headings")
	}
	switch h.Type {
	case TypeExtraAddition, TypeExtraDeduction, TypeTaxDeduction, TypeType2Cnst:
		if unit != DurationNone {
			return rule.NewConfigurationError(h.Name, string(h.Type)+" headings are period-level and take no duration unit")
		}
	}
	return nil
}

// normalizedUnit is the effective duration unit used by the calculator.
func normalizedUnit(h HeadingDefinition) DurationUnit {
	if h.DurationUnit == "" {
		return DurationNone
	}
	return h.DurationUnit
}

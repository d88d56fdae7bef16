package policyfile

import (
	"fmt"

	"github.com/hipcheck-oss/hipcheck-core/policyexpr"
)

// AnalysisOutcome is the result of running one analysis plugin's
// default query: either the decoded JSON value it returned, or a
// record that the plugin errored and should be excluded from scoring.
type AnalysisOutcome struct {
	Name    PluginName
	Value   any
	Errored bool
}

// Recommendation is the run's final disposition.
type Recommendation string

const (
	RecommendPass        Recommendation = "Pass"
	RecommendInvestigate Recommendation = "Investigate"
)

// Report is the fully scored result of an `analyze` tree.
type Report struct {
	Score          float64
	Recommendation Recommendation
	// ForcedByIfFail is true when the recommendation was forced to
	// Investigate by an investigate-if-fail plugin failing, independent
	// of the computed score.
	ForcedByIfFail bool
	Errored        []PluginName
}

// DefaultPolicyExprs supplies each plugin's advertised default policy
// expression, consulted when an analysis node in the policy file
// doesn't specify its own `policy=`.
type DefaultPolicyExprs map[string]string

// Score evaluates a fully parsed Analyze tree against the outcomes
// collected from running each analysis plugin, producing the weighted
// bottom-up score and final recommendation described for component F.
func Score(analyze Analyze, outcomes map[string]AnalysisOutcome, defaults DefaultPolicyExprs) (Report, error) {
	var errored []PluginName
	passFraction, _, err := scoreCategories(analyze.Categories, outcomes, defaults, &errored)
	if err != nil {
		return Report{}, err
	}

	forced := false
	for _, name := range analyze.IfFail {
		outcome, ok := outcomes[name.String()]
		if !ok {
			continue
		}
		if outcome.Errored {
			forced = true
			continue
		}
		analysis, ok := analyze.FindAnalysisByName(name.String())
		if !ok {
			return Report{}, fmt.Errorf("policyfile: investigate-if-fail names %q, which is not a declared analysis", name)
		}
		passed, err := evaluateAnalysisPolicy(analysis, outcome, defaults)
		if err != nil {
			return Report{}, err
		}
		if !passed {
			forced = true
		}
	}

	rec := RecommendPass
	if forced {
		rec = RecommendInvestigate
	} else {
		investigate, err := evaluateInvestigatePolicy(analyze.InvestigatePolicy, passFraction)
		if err != nil {
			return Report{}, err
		}
		if investigate {
			rec = RecommendInvestigate
		}
	}

	return Report{
		Score:          passFraction,
		Recommendation: rec,
		ForcedByIfFail: forced,
		Errored:        errored,
	}, nil
}

// scoreCategories computes the weighted pass-fraction across a list of
// sibling categories, treating the list itself as one implicit parent
// whose weight-sum is the sum of its children's weights.
func scoreCategories(cats []Category, outcomes map[string]AnalysisOutcome, defaults DefaultPolicyExprs, errored *[]PluginName) (float64, uint64, error) {
	var weightedSum float64
	var totalWeight uint64
	for _, cat := range cats {
		score, weight, err := scoreCategory(cat, outcomes, defaults, errored)
		if err != nil {
			return 0, 0, err
		}
		if weight == 0 {
			continue
		}
		weightedSum += score * float64(weight)
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0, 0, nil
	}
	return weightedSum / float64(totalWeight), totalWeight, nil
}

func scoreCategory(cat Category, outcomes map[string]AnalysisOutcome, defaults DefaultPolicyExprs, errored *[]PluginName) (float64, uint64, error) {
	catWeight := categoryWeight(cat)

	var weightedSum float64
	var totalWeight uint64
	for _, child := range cat.Children {
		switch {
		case child.Analysis != nil:
			a := *child.Analysis
			weight := analysisWeight(a)
			outcome, ok := outcomes[a.Name.String()]
			if !ok || outcome.Errored {
				*errored = append(*errored, a.Name)
				continue
			}
			passed, err := evaluateAnalysisPolicy(a, outcome, defaults)
			if err != nil {
				return 0, 0, err
			}
			score := 0.0
			if passed {
				score = 1.0
			}
			weightedSum += score * float64(weight)
			totalWeight += weight
		case child.Category != nil:
			score, weight, err := scoreCategory(*child.Category, outcomes, defaults, errored)
			if err != nil {
				return 0, 0, err
			}
			if weight == 0 {
				continue
			}
			weightedSum += score * float64(weight)
			totalWeight += weight
		}
	}

	if totalWeight == 0 {
		return 0, catWeight, nil
	}
	return weightedSum / float64(totalWeight), catWeight, nil
}

func categoryWeight(c Category) uint64 {
	if c.HasWeight {
		return uint64(c.Weight)
	}
	return 1
}

func analysisWeight(a Analysis) uint64 {
	if a.HasWeight {
		return uint64(a.Weight)
	}
	return 1
}

// evaluateAnalysisPolicy resolves which policy expression governs an
// analysis — its own `policy=` if set, else the plugin's advertised
// default — and evaluates it against the analysis's returned value.
func evaluateAnalysisPolicy(a Analysis, outcome AnalysisOutcome, defaults DefaultPolicyExprs) (bool, error) {
	expr := a.PolicyExpr
	if !a.HasPolicyExpr {
		var ok bool
		expr, ok = defaults[a.Name.String()]
		if !ok {
			return false, fmt.Errorf("policyfile: analysis %q has no policy expression and the plugin advertises no default", a.Name)
		}
	}
	return evalBoolExprAgainst(expr, outcome.Value)
}

func evaluateInvestigatePolicy(expr string, score float64) (bool, error) {
	return evalBoolExprAgainst(expr, score)
}

func evalBoolExprAgainst(expr string, context any) (bool, error) {
	if expr == "" {
		return false, fmt.Errorf("policyfile: no policy expression available to evaluate")
	}
	parsed, err := policyexpr.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("policyfile: invalid policy expression %q: %w", expr, err)
	}
	resolved, err := policyexpr.ResolveAll(parsed, context)
	if err != nil {
		return false, fmt.Errorf("policyfile: resolving policy expression %q: %w", expr, err)
	}
	val, err := policyexpr.Eval(resolved, policyexpr.NewEnv())
	if err != nil {
		return false, fmt.Errorf("policyfile: evaluating policy expression %q: %w", expr, err)
	}
	if val.IsArray || val.Primitive.Kind != policyexpr.PrimBool {
		return false, fmt.Errorf("policyfile: policy expression %q did not evaluate to a boolean", expr)
	}
	return val.Primitive.Bool, nil
}

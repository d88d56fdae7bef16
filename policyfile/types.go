// Package policyfile parses the KDL policy document that drives a run:
// which plugins to launch, configuration overrides for them, and the
// weighted category tree of analyses to run and score. It also
// performs the bottom-up scoring pass that turns per-analysis results
// into a final Pass/Investigate recommendation.
package policyfile

import "fmt"

// PluginName identifies a plugin by publisher/name, as written in a
// policy file ("mitre/typo").
type PluginName struct {
	Publisher string
	Name      string
}

func (n PluginName) String() string { return fmt.Sprintf("%s/%s", n.Publisher, n.Name) }

// ParsePluginName splits a "publisher/name" string.
func ParsePluginName(full string) (PluginName, error) {
	for i := 0; i < len(full); i++ {
		if full[i] == '/' {
			if i == 0 || i == len(full)-1 {
				break
			}
			return PluginName{Publisher: full[:i], Name: full[i+1:]}, nil
		}
	}
	return PluginName{}, fmt.Errorf("policyfile: %q is not in the form {publisher}/{name}", full)
}

// ManifestLocationKind distinguishes a remote manifest URL from a
// local filesystem path.
type ManifestLocationKind int

const (
	ManifestURL ManifestLocationKind = iota
	ManifestLocal
)

// ManifestLocation is where to find a plugin's download manifest.
type ManifestLocation struct {
	Kind  ManifestLocationKind
	Value string
}

func (m ManifestLocation) String() string { return m.Value }

// Plugin is one `plugin "pub/name" version="..." manifest="..."` entry.
type Plugin struct {
	Name     PluginName
	Version  string
	Manifest *ManifestLocation
}

// PluginList is the `plugins { ... }` block.
type PluginList []Plugin

// Config is an arbitrary plugin configuration bag, as written in a
// `config { key value; ... }` block. Values are Go primitives
// (string, int64, float64, bool, nil) mirroring KDL's value types.
type Config map[string]any

// Analysis is one `analysis "pub/name" policy="..." weight=N { config }`
// entry inside a category.
type Analysis struct {
	Name          PluginName
	PolicyExpr    string
	HasPolicyExpr bool
	Weight        uint16
	HasWeight     bool
	Config        Config
}

// Category is one `category "name" weight=N { ... }` node, which may
// contain further subcategories and/or analyses.
type Category struct {
	Name      string
	Weight    uint16
	HasWeight bool
	Children  []CategoryChild
}

// FindAnalysisByName performs a depth-first search for an analysis
// named "publisher/name" anywhere under this category.
func (c Category) FindAnalysisByName(name string) (Analysis, bool) {
	for _, child := range c.Children {
		if child.Analysis != nil {
			if child.Analysis.Name.String() == name {
				return *child.Analysis, true
			}
		}
		if child.Category != nil {
			if found, ok := child.Category.FindAnalysisByName(name); ok {
				return found, true
			}
		}
	}
	return Analysis{}, false
}

// CategoryChild is a sum type over Analysis and Category: exactly one
// of its two fields is non-nil.
type CategoryChild struct {
	Analysis *Analysis
	Category *Category
}

// InvestigateIfFail names the plugins whose failure alone forces an
// Investigate recommendation, regardless of the overall score.
type InvestigateIfFail []PluginName

// Analyze is the `analyze { investigate "..."; investigate-if-fail ...; category ... }` block.
type Analyze struct {
	InvestigatePolicy string
	IfFail            InvestigateIfFail
	Categories        []Category
}

// FindAnalysisByName searches every top-level category.
func (a Analyze) FindAnalysisByName(name string) (Analysis, bool) {
	for _, cat := range a.Categories {
		if found, ok := cat.FindAnalysisByName(name); ok {
			return found, true
		}
	}
	return Analysis{}, false
}

// Patch is a `plugin "pub/name" { config { ... } }` entry in the
// top-level `patch` block, overriding that plugin's configuration
// without redeclaring it as an analysis.
type Patch struct {
	Name   PluginName
	Config Config
}

// PatchList is the `patch { ... }` block.
type PatchList []Patch

// File is a fully parsed policy document.
type File struct {
	Plugins PluginList
	Patch   PatchList
	Analyze Analyze
}

// PluginIDs returns the publisher/name/version identity of every
// plugin the policy file declares, in file order — the order plugins
// should be spawned in to keep startup deterministic.
func (f File) PluginIDs() []Plugin {
	return f.Plugins
}

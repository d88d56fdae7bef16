package policyfile

import (
	"github.com/hipcheck-oss/hipcheck-core/hcerr"
	"github.com/sblinch/kdl-go"
)

// Parse reads a complete policy document: the top-level `plugins`,
// `patch`, and `analyze` blocks.
func Parse(src []byte) (File, error) {
	doc, err := kdl.Parse(src)
	if err != nil {
		return File{}, hcerr.Wrap("policyfile", hcerr.KindIO, "failed to parse policy document", err)
	}

	var out File
	var sawAnalyze bool
	for _, node := range doc.Nodes {
		switch node.Name {
		case "plugins":
			plugins, err := parsePluginList(node)
			if err != nil {
				return File{}, err
			}
			out.Plugins = plugins
		case "patch":
			patches, err := parsePatchList(node)
			if err != nil {
				return File{}, err
			}
			out.Patch = patches
		case "analyze":
			analyze, err := parseAnalyze(node)
			if err != nil {
				return File{}, err
			}
			out.Analyze = analyze
			sawAnalyze = true
		}
	}
	if len(out.Plugins) == 0 {
		return File{}, hcerr.New("policyfile", hcerr.KindIO, "policy document has no plugins block")
	}
	if !sawAnalyze {
		return File{}, hcerr.New("policyfile", hcerr.KindIO, "policy document has no analyze block")
	}
	return out, nil
}

func parsePluginList(node *kdl.Node) (PluginList, error) {
	var list PluginList
	if node.Children == nil {
		return list, nil
	}
	for _, child := range node.Children.Nodes {
		if child.Name != "plugin" {
			continue
		}
		plugin, err := parsePlugin(child)
		if err != nil {
			return nil, err
		}
		list = append(list, plugin)
	}
	return list, nil
}

func parsePlugin(node *kdl.Node) (Plugin, error) {
	if len(node.Arguments) == 0 {
		return Plugin{}, hcerr.New("policyfile", hcerr.KindIO, "plugin node missing name argument")
	}
	name, err := ParsePluginName(node.Arguments[0].String())
	if err != nil {
		return Plugin{}, hcerr.Wrap("policyfile", hcerr.KindIO, "invalid plugin name", err)
	}
	versionVal, ok := node.Properties["version"]
	if !ok {
		return Plugin{}, hcerr.New("policyfile", hcerr.KindIO, "plugin node missing version= property")
	}
	p := Plugin{Name: name, Version: versionVal.String()}
	if manifestVal, ok := node.Properties["manifest"]; ok {
		loc := manifestLocationFromString(manifestVal.String())
		p.Manifest = &loc
	}
	return p, nil
}

func manifestLocationFromString(s string) ManifestLocation {
	hasPrefix := func(prefix string) bool { return len(s) >= len(prefix) && s[:len(prefix)] == prefix }
	if hasPrefix("http://") || hasPrefix("https://") {
		return ManifestLocation{Kind: ManifestURL, Value: s}
	}
	return ManifestLocation{Kind: ManifestLocal, Value: s}
}

func parsePatchList(node *kdl.Node) (PatchList, error) {
	var list PatchList
	if node.Children == nil {
		return list, nil
	}
	for _, child := range node.Children.Nodes {
		if child.Name != "plugin" {
			continue
		}
		patch, err := parsePatch(child)
		if err != nil {
			return nil, err
		}
		list = append(list, patch)
	}
	return list, nil
}

func parsePatch(node *kdl.Node) (Patch, error) {
	if len(node.Arguments) == 0 {
		return Patch{}, hcerr.New("policyfile", hcerr.KindIO, "patch plugin node missing name argument")
	}
	name, err := ParsePluginName(node.Arguments[0].String())
	if err != nil {
		return Patch{}, hcerr.Wrap("policyfile", hcerr.KindIO, "invalid patch plugin name", err)
	}
	cfg, err := parseConfigBlock(node)
	if err != nil {
		return Patch{}, err
	}
	return Patch{Name: name, Config: cfg}, nil
}

func parseConfigBlock(node *kdl.Node) (Config, error) {
	cfg := Config{}
	if node.Children == nil {
		return cfg, nil
	}
	for _, child := range node.Children.Nodes {
		if child.Name != "config" {
			continue
		}
		if child.Children == nil {
			continue
		}
		for _, kv := range child.Children.Nodes {
			if len(kv.Arguments) == 0 {
				continue
			}
			if _, dup := cfg[kv.Name]; dup {
				return nil, hcerr.New("policyfile", hcerr.KindIO, "duplicate configuration key "+kv.Name)
			}
			cfg[kv.Name] = kdlValueToAny(kv.Arguments[0])
		}
	}
	return cfg, nil
}

func kdlValueToAny(v kdl.Value) any {
	if s, ok := v.AsString(); ok {
		return s
	}
	if i, err := v.Int64(); err == nil {
		return i
	}
	if f, err := v.Float64(); err == nil {
		return f
	}
	if b, ok := v.AsBool(); ok {
		return b
	}
	return nil
}

func parseAnalyze(node *kdl.Node) (Analyze, error) {
	var a Analyze
	if node.Children == nil {
		return a, hcerr.New("policyfile", hcerr.KindIO, "analyze block has no children")
	}
	var sawInvestigate bool
	for _, child := range node.Children.Nodes {
		switch child.Name {
		case "investigate":
			if len(child.Arguments) == 0 {
				return Analyze{}, hcerr.New("policyfile", hcerr.KindIO, "investigate node missing policy expression argument")
			}
			a.InvestigatePolicy = child.Arguments[0].String()
			sawInvestigate = true
		case "investigate-if-fail":
			for _, arg := range child.Arguments {
				name, err := ParsePluginName(arg.String())
				if err != nil {
					return Analyze{}, hcerr.Wrap("policyfile", hcerr.KindIO, "invalid investigate-if-fail entry", err)
				}
				a.IfFail = append(a.IfFail, name)
			}
		case "category":
			cat, err := parseCategory(child)
			if err != nil {
				return Analyze{}, err
			}
			a.Categories = append(a.Categories, cat)
		}
	}
	if !sawInvestigate {
		return Analyze{}, hcerr.New("policyfile", hcerr.KindIO, "analyze block missing investigate policy expression")
	}
	return a, nil
}

func parseCategory(node *kdl.Node) (Category, error) {
	if len(node.Arguments) == 0 {
		return Category{}, hcerr.New("policyfile", hcerr.KindIO, "category node missing name argument")
	}
	cat := Category{Name: node.Arguments[0].String()}
	if weightVal, ok := node.Properties["weight"]; ok {
		w, err := weightVal.Int64()
		if err != nil {
			return Category{}, hcerr.New("policyfile", hcerr.KindIO, "category weight= must be an integer")
		}
		cat.Weight = uint16(w)
		cat.HasWeight = true
	}
	if node.Children == nil {
		return cat, nil
	}
	for _, child := range node.Children.Nodes {
		switch child.Name {
		case "analysis":
			analysis, err := parseAnalysis(child)
			if err != nil {
				return Category{}, err
			}
			cat.Children = append(cat.Children, CategoryChild{Analysis: &analysis})
		case "category":
			sub, err := parseCategory(child)
			if err != nil {
				return Category{}, err
			}
			cat.Children = append(cat.Children, CategoryChild{Category: &sub})
		}
	}
	return cat, nil
}

func parseAnalysis(node *kdl.Node) (Analysis, error) {
	if len(node.Arguments) == 0 {
		return Analysis{}, hcerr.New("policyfile", hcerr.KindIO, "analysis node missing name argument")
	}
	name, err := ParsePluginName(node.Arguments[0].String())
	if err != nil {
		return Analysis{}, hcerr.Wrap("policyfile", hcerr.KindIO, "invalid analysis name", err)
	}
	a := Analysis{Name: name}
	if policyVal, ok := node.Properties["policy"]; ok {
		a.PolicyExpr = policyVal.String()
		a.HasPolicyExpr = true
	}
	if weightVal, ok := node.Properties["weight"]; ok {
		w, err := weightVal.Int64()
		if err != nil {
			return Analysis{}, hcerr.New("policyfile", hcerr.KindIO, "analysis weight= must be an integer")
		}
		a.Weight = uint16(w)
		a.HasWeight = true
	}
	cfg, err := parseConfigBlock(node)
	if err != nil {
		return Analysis{}, err
	}
	a.Config = cfg
	return a, nil
}

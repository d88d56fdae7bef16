package manifest

import (
	"fmt"

	"github.com/hipcheck-oss/hipcheck-core/hcerr"
	"gopkg.in/yaml.v3"
)

// QueryDescriptor names one query a plugin advertises in its own
// self-descriptor, ahead of ever being spawned. Unlike
// plugin.QueryDescriptor (populated live via GetQuerySchemas), this is
// static metadata a deployment tool reads without starting the process.
type QueryDescriptor struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// PluginDescriptor is a plugin's self-declared identity: what a registry,
// dashboard, or install tool needs before the plugin has ever run.
// Distinct from Document (the download manifest, KDL-encoded per the
// original artifact-fetch format): this is YAML, matching the teacher's
// own component-descriptor convention for adjacent "what is this thing"
// metadata.
type PluginDescriptor struct {
	Publisher   string            `yaml:"publisher"`
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description,omitempty"`
	Queries     []QueryDescriptor `yaml:"queries,omitempty"`
}

// ParseDescriptor reads a plugin's self-descriptor YAML document.
func ParseDescriptor(src []byte) (PluginDescriptor, error) {
	var d PluginDescriptor
	if err := yaml.Unmarshal(src, &d); err != nil {
		return PluginDescriptor{}, hcerr.Wrap("manifest", hcerr.KindPluginConfig, "parse plugin descriptor", err)
	}
	if d.Publisher == "" || d.Name == "" {
		return PluginDescriptor{}, hcerr.New("manifest", hcerr.KindPluginConfig,
			fmt.Sprintf("descriptor missing publisher/name (got %q/%q)", d.Publisher, d.Name))
	}
	return d, nil
}

package hcrun

import (
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/policyfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mitre(name string) policyfile.PluginName {
	return policyfile.PluginName{Publisher: "mitre", Name: name}
}

func TestConfigJSONForUsesAnalysisConfig(t *testing.T) {
	file := policyfile.File{
		Analyze: policyfile.Analyze{
			Categories: []policyfile.Category{{
				Name: "risk",
				Children: []policyfile.CategoryChild{{
					Analysis: &policyfile.Analysis{
						Name:   mitre("typo"),
						Config: policyfile.Config{"threshold": int64(3)},
					},
				}},
			}},
		},
	}

	raw, err := configJSONFor(file, mitre("typo"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"threshold":3}`, raw)
}

func TestConfigJSONForAppliesPatchOverTopOfAnalysisConfig(t *testing.T) {
	file := policyfile.File{
		Analyze: policyfile.Analyze{
			Categories: []policyfile.Category{{
				Children: []policyfile.CategoryChild{{
					Analysis: &policyfile.Analysis{
						Name:   mitre("typo"),
						Config: policyfile.Config{"threshold": int64(3)},
					},
				}},
			}},
		},
		Patch: policyfile.PatchList{{
			Name:   mitre("typo"),
			Config: policyfile.Config{"threshold": int64(9)},
		}},
	}

	raw, err := configJSONFor(file, mitre("typo"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"threshold":9}`, raw)
}

func TestConfigJSONForUndeclaredPluginIsEmptyObject(t *testing.T) {
	raw, err := configJSONFor(policyfile.File{}, mitre("unknown"))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, raw)
}

func TestCollectAnalysisNamesWalksNestedCategories(t *testing.T) {
	cats := []policyfile.Category{{
		Name: "top",
		Children: []policyfile.CategoryChild{
			{Analysis: &policyfile.Analysis{Name: mitre("activity")}},
			{Category: &policyfile.Category{
				Name: "nested",
				Children: []policyfile.CategoryChild{
					{Analysis: &policyfile.Analysis{Name: mitre("churn")}},
				},
			}},
		},
	}}

	names := collectAnalysisNames(cats)
	require.Len(t, names, 2)
	assert.Equal(t, mitre("activity"), names[0])
	assert.Equal(t, mitre("churn"), names[1])
}

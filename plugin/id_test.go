package plugin_test

import (
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	ref, err := plugin.ParseRef("mitre/activity")
	require.NoError(t, err)
	assert.Equal(t, plugin.Publisher("mitre"), ref.Publisher)
	assert.Equal(t, plugin.Name("activity"), ref.Name)
	assert.Equal(t, "mitre/activity", ref.String())
}

func TestParseRefRejectsMalformed(t *testing.T) {
	cases := []string{"mitre", "mitre/act ivity", "/activity", "mitre/", ""}
	for _, c := range cases {
		_, err := plugin.ParseRef(c)
		assert.Error(t, err, c)
	}
}

func TestNewIDDistinguishesVersions(t *testing.T) {
	a, err := plugin.NewID("mitre", "activity", "0.1.0")
	require.NoError(t, err)
	b, err := plugin.NewID("mitre", "activity", "0.2.0")
	require.NoError(t, err)

	assert.False(t, a.Equal(b))
	assert.Equal(t, a.Ref, b.Ref)
	assert.Equal(t, "mitre/activity@0.1.0", a.String())
}

func TestNewIDRejectsBadVersion(t *testing.T) {
	_, err := plugin.NewID("mitre", "activity", "not-a-version")
	assert.Error(t, err)
}

func TestDescriptorDefaultQuery(t *testing.T) {
	d := plugin.Descriptor{
		Queries: []plugin.QueryDescriptor{
			{Name: "helper"},
			{Name: "", KeySchema: "{}", OutputSchema: "{}"},
		},
	}
	q, ok := d.DefaultQuery()
	require.True(t, ok)
	assert.Equal(t, "", q.Name)

	empty := plugin.Descriptor{}
	_, ok = empty.DefaultQuery()
	assert.False(t, ok)
}

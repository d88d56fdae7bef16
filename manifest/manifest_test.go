package manifest_test

import (
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
plugin version="0.1.0" arch="aarch64-apple-darwin" {
  url "https://example.com/releases/hipcheck-aarch64-apple-darwin.tar.xz"
  hash alg="SHA256" digest="b8e111e7817c4a1eb40ed50712d04e15b369546c4748be1aa8893b553f4e756b"
  compress format="tar.xz"
  size bytes=2869896
}
plugin version="0.1.0" arch="x86_64-unknown-linux-gnu" {
  url "https://example.com/releases/hipcheck-x86_64-unknown-linux-gnu.tar.gz"
  hash alg="BLAKE3" digest="deadbeef"
  compress format="tar.gz"
  size bytes=1048576
}
`

func TestParseDownloadManifest(t *testing.T) {
	doc, err := manifest.Parse([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)

	entry, ok := doc.EntryForArch("aarch64-apple-darwin")
	require.True(t, ok)
	assert.Equal(t, "0.1.0", entry.Version)
	assert.Equal(t, manifest.HashSHA256, entry.Hash.Algorithm)
	assert.Equal(t, manifest.ArchiveTarXz, entry.Compress)
	assert.Equal(t, uint64(2869896), entry.SizeBytes)
}

func TestParseDownloadManifestUnknownArchMisses(t *testing.T) {
	doc, err := manifest.Parse([]byte(sampleManifest))
	require.NoError(t, err)
	_, ok := doc.EntryForArch("riscv64-unknown-linux-gnu")
	assert.False(t, ok)
}

func TestParseRejectsMissingURL(t *testing.T) {
	_, err := manifest.Parse([]byte(`plugin version="0.1.0" arch="x" { size bytes=1 }`))
	assert.Error(t, err)
}

func TestParseRejectsInvalidHashAlgorithm(t *testing.T) {
	_, err := manifest.Parse([]byte(`plugin version="0.1.0" arch="x" {
  url "https://example.com/a.tar.xz"
  hash alg="MD5" digest="x"
}`))
	assert.Error(t, err)
}

func TestParseRejectsNonPositiveSize(t *testing.T) {
	_, err := manifest.Parse([]byte(`plugin version="0.1.0" arch="x" {
  url "https://example.com/a.tar.xz"
  size bytes=0
}`))
	assert.Error(t, err)
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	_, err := manifest.Parse([]byte(``))
	assert.Error(t, err)
}

// Package manifest parses plugin download manifests: the KDL documents
// that describe where to fetch a given plugin's binary artifact for a
// given target architecture, and what hash and size it should have.
// Only parsing and entrypoint resolution are implemented here — actual
// fetching, extraction, and hash verification belong to a separate
// download/cache component.
package manifest

import (
	"fmt"

	"github.com/hipcheck-oss/hipcheck-core/hcerr"
	"github.com/sblinch/kdl-go"
)

// HashAlgorithm identifies the digest algorithm used to verify a
// downloaded artifact.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "SHA256"
	HashBlake3 HashAlgorithm = "BLAKE3"
)

func parseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch s {
	case string(HashSHA256):
		return HashSHA256, nil
	case string(HashBlake3):
		return HashBlake3, nil
	default:
		return "", fmt.Errorf("manifest: invalid hash algorithm %q", s)
	}
}

// ArchiveFormat identifies how a downloaded artifact is packaged.
type ArchiveFormat string

const (
	ArchiveTarXz  ArchiveFormat = "tar.xz"
	ArchiveTarGz  ArchiveFormat = "tar.gz"
	ArchiveTarZst ArchiveFormat = "tar.zst"
	ArchiveTar    ArchiveFormat = "tar"
	ArchiveZip    ArchiveFormat = "zip"
)

func parseArchiveFormat(s string) (ArchiveFormat, error) {
	switch ArchiveFormat(s) {
	case ArchiveTarXz, ArchiveTarGz, ArchiveTarZst, ArchiveTar, ArchiveZip:
		return ArchiveFormat(s), nil
	default:
		return "", fmt.Errorf("manifest: invalid compression format %q", s)
	}
}

// HashWithDigest pairs an algorithm with the digest an artifact must
// produce under it.
type HashWithDigest struct {
	Algorithm HashAlgorithm
	Digest    string
}

// Entry is one `plugin version=... arch=...` block of a download
// manifest: where to get the artifact for one architecture of one
// plugin version, and how to verify it once fetched.
type Entry struct {
	Version   string
	Arch      string
	URL       string
	Hash      HashWithDigest
	Compress  ArchiveFormat
	SizeBytes uint64
}

// Document is a full download manifest: one Entry per supported
// target architecture of a single plugin version.
type Document struct {
	Entries []Entry
}

// EntryForArch returns the manifest entry matching arch, if present.
func (d Document) EntryForArch(arch string) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Arch == arch {
			return e, true
		}
	}
	return Entry{}, false
}

// Parse reads a download manifest document. The top-level document
// consists of one or more `plugin version="..." arch="..." { ... }`
// nodes, each with `url`, `hash`, `compress`, and `size` children.
func Parse(src []byte) (Document, error) {
	doc, err := kdl.Parse(src)
	if err != nil {
		return Document{}, hcerr.Wrap("manifest", hcerr.KindPluginConfig, "failed to parse download manifest", err)
	}

	var out Document
	for _, node := range doc.Nodes {
		if node.Name != "plugin" {
			continue
		}
		entry, err := parseEntry(node)
		if err != nil {
			return Document{}, err
		}
		out.Entries = append(out.Entries, entry)
	}
	if len(out.Entries) == 0 {
		return Document{}, hcerr.New("manifest", hcerr.KindPluginConfig, "no plugin entries found in download manifest")
	}
	return out, nil
}

func parseEntry(node *kdl.Node) (Entry, error) {
	version, ok := node.Properties["version"]
	if !ok {
		return Entry{}, hcerr.New("manifest", hcerr.KindPluginConfig, "plugin entry missing version= property")
	}
	arch, ok := node.Properties["arch"]
	if !ok {
		return Entry{}, hcerr.New("manifest", hcerr.KindPluginConfig, "plugin entry missing arch= property")
	}

	entry := Entry{Version: version.String(), Arch: arch.String()}

	if node.Children == nil {
		return Entry{}, hcerr.New("manifest", hcerr.KindPluginConfig, "plugin entry has no url/hash/compress/size children")
	}
	for _, child := range node.Children.Nodes {
		switch child.Name {
		case "url":
			if len(child.Arguments) == 0 {
				return Entry{}, hcerr.New("manifest", hcerr.KindPluginConfig, "url node missing positional argument")
			}
			entry.URL = child.Arguments[0].String()
		case "hash":
			alg, err := requireProp(child, "alg")
			if err != nil {
				return Entry{}, err
			}
			digest, err := requireProp(child, "digest")
			if err != nil {
				return Entry{}, err
			}
			algorithm, err := parseHashAlgorithm(alg)
			if err != nil {
				return Entry{}, hcerr.Wrap("manifest", hcerr.KindPluginConfig, "invalid hash algorithm", err)
			}
			entry.Hash = HashWithDigest{Algorithm: algorithm, Digest: digest}
		case "compress":
			format, err := requireProp(child, "format")
			if err != nil {
				return Entry{}, err
			}
			af, err := parseArchiveFormat(format)
			if err != nil {
				return Entry{}, hcerr.Wrap("manifest", hcerr.KindPluginConfig, "invalid compress format", err)
			}
			entry.Compress = af
		case "size":
			bytesVal, ok := child.Properties["bytes"]
			if !ok {
				return Entry{}, hcerr.New("manifest", hcerr.KindPluginConfig, "size node missing bytes= property")
			}
			n, err := bytesVal.Int64()
			if err != nil || n <= 0 {
				return Entry{}, hcerr.New("manifest", hcerr.KindPluginConfig, "size bytes= must be a positive integer")
			}
			entry.SizeBytes = uint64(n)
		}
	}

	if entry.URL == "" {
		return Entry{}, hcerr.New("manifest", hcerr.KindPluginConfig, "plugin entry missing url node")
	}
	return entry, nil
}

func requireProp(node *kdl.Node, key string) (string, error) {
	v, ok := node.Properties[key]
	if !ok {
		return "", hcerr.New("manifest", hcerr.KindPluginConfig, fmt.Sprintf("%s node missing %s= property", node.Name, key))
	}
	return v.String(), nil
}

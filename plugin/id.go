// Package plugin defines the identity and lifecycle handle of an
// out-of-process analysis plugin: who published it, what it's called,
// which version is pinned, and the live process/connection backing it
// once the executor has started it.
package plugin

import (
	"fmt"
	"regexp"
	"strings"

	semver "github.com/coreos/go-semver/semver"
)

// identPattern matches the publisher/name identifier grammar: [A-Za-z0-9_-]+.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Publisher is the opaque identifier of a plugin's publishing organization.
type Publisher string

// Name is the opaque identifier of a plugin within a publisher's namespace.
type Name string

// ValidIdent reports whether s matches the publisher/name identifier grammar.
func ValidIdent(s string) bool {
	return s != "" && identPattern.MatchString(s)
}

// Ref names a plugin without pinning a version: "publisher/name".
type Ref struct {
	Publisher Publisher
	Name      Name
}

// ParseRef parses "publisher/name" into a Ref, validating both halves
// against the identifier grammar.
func ParseRef(fullName string) (Ref, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 {
		return Ref{}, fmt.Errorf("plugin: %q is not in the form publisher/name", fullName)
	}
	publisher, name := parts[0], parts[1]
	if !ValidIdent(publisher) {
		return Ref{}, fmt.Errorf("plugin: invalid publisher %q in %q", publisher, fullName)
	}
	if !ValidIdent(name) {
		return Ref{}, fmt.Errorf("plugin: invalid name %q in %q", name, fullName)
	}
	return Ref{Publisher: Publisher(publisher), Name: Name(name)}, nil
}

// String renders the ref as "publisher/name".
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Publisher, r.Name)
}

// ID is a plugin's full identity: publisher, name, and a concrete semver
// version. Two plugins sharing a Ref but differing in Version are distinct.
type ID struct {
	Ref
	Version semver.Version
}

// NewID constructs an ID from raw strings, validating the identifier
// grammar and parsing version as semver.
func NewID(publisher, name, version string) (ID, error) {
	if !ValidIdent(publisher) {
		return ID{}, fmt.Errorf("plugin: invalid publisher %q", publisher)
	}
	if !ValidIdent(name) {
		return ID{}, fmt.Errorf("plugin: invalid name %q", name)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return ID{}, fmt.Errorf("plugin: invalid version %q for %s/%s: %w", version, publisher, name, err)
	}
	return ID{
		Ref:     Ref{Publisher: Publisher(publisher), Name: Name(name)},
		Version: *v,
	}, nil
}

// String renders the ID as "publisher/name@version".
func (id ID) String() string {
	return fmt.Sprintf("%s/%s@%s", id.Publisher, id.Name, id.Version.String())
}

// Equal reports whether two IDs name the same publisher, name, and version.
func (id ID) Equal(other ID) bool {
	return id.Publisher == other.Publisher &&
		id.Name == other.Name &&
		id.Version.Equal(other.Version)
}

// Package hcerr provides the structured error taxonomy shared by every
// component of the plugin host: wire codec, policy expression engine,
// executor, transport, query engine, and policy file loader.
package hcerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error by the taxonomy a caller needs to decide
// whether a failure is fatal to one analysis, one plugin, or the run.
type Kind string

const (
	// KindProtocol covers malformed frames, unexpected state
	// transitions, id collisions, and replies after completion.
	// Fatal to the offending session.
	KindProtocol Kind = "protocol"

	// KindPluginConfig covers SetConfiguration rejection substatuses.
	// Fatal to that plugin.
	KindPluginConfig Kind = "plugin_config"

	// KindPluginProcess covers spawn failure, connection failure
	// after retries, and mid-session crashes. Fatal to that plugin.
	KindPluginProcess Kind = "plugin_process"

	// KindPolicyExpr covers parse, unbound variable, type mismatch,
	// JSON-pointer miss, and array non-homogeneity. Fatal to the one
	// analysis whose expression failed.
	KindPolicyExpr Kind = "policy_expr"

	// KindIO covers reading the policy file or local repo data.
	// Fatal to the run.
	KindIO Kind = "io"

	// KindChunking covers chunking failures. Fatal to that one query.
	KindChunking Kind = "chunking"
)

// ConfigSubstatus enumerates the SetConfiguration rejection reasons a
// plugin may report, translated from the RPC status into a typed value.
type ConfigSubstatus string

const (
	ConfigUnspecified           ConfigSubstatus = "Unspecified"
	ConfigMissingRequiredConfig ConfigSubstatus = "MissingRequiredConfig"
	ConfigUnrecognizedConfig    ConfigSubstatus = "UnrecognizedConfig"
	ConfigInvalidConfigValue    ConfigSubstatus = "InvalidConfigValue"
	ConfigInternalError         ConfigSubstatus = "InternalError"
	ConfigFileNotFound          ConfigSubstatus = "FileNotFound"
	ConfigParseError            ConfigSubstatus = "ParseError"
	ConfigEnvVarNotSet          ConfigSubstatus = "EnvVarNotSet"
	ConfigMissingProgram        ConfigSubstatus = "MissingProgram"
)

// Error is the structured error type threaded through every component.
// It names the failing Component (e.g. "wire", "queryengine", plugin
// ref string), the Kind of failure, a human Message, and an optional
// wrapped Cause.
type Error struct {
	Component string
	Kind      Kind
	Message   string
	Substatus ConfigSubstatus
	Cause     error
}

// New builds an *Error with no cause.
func New(component string, kind Kind, message string) *Error {
	return &Error{Component: component, Kind: kind, Message: message}
}

// Wrap builds an *Error wrapping cause.
func Wrap(component string, kind Kind, message string, cause error) *Error {
	return &Error{Component: component, Kind: kind, Message: message, Cause: cause}
}

// WithSubstatus attaches a config rejection substatus and returns e.
func (e *Error) WithSubstatus(s ConfigSubstatus) *Error {
	e.Substatus = s
	return e
}

func (e *Error) Error() string {
	if e.Cause == nil {
		if e.Substatus != "" {
			return fmt.Sprintf("%s [%s/%s]: %s", e.Component, e.Kind, e.Substatus, e.Message)
		}
		return fmt.Sprintf("%s [%s]: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s: %v", e.Component, e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Component and Kind, mirroring the comparison semantics
// used across the rest of the run for error classification.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && e.Kind != t.Kind {
		return false
	}
	if t.Component != "" && e.Component != t.Component {
		return false
	}
	return true
}

// Sentinel errors for conditions identified by comparison rather than kind.
var (
	// ErrRemoteClosed is returned when a plugin's stream closes while
	// a query is still awaiting a reply.
	ErrRemoteClosed = errors.New("remote stream closed before reply")

	// ErrUnspecifiedQueryState signals a frame carrying the
	// Unspecified query state, or a cycle detected mid-flight in the
	// recursive query engine.
	ErrUnspecifiedQueryState = errors.New("unspecified query state")

	// ErrNaNKey is returned when a memoization key contains a NaN
	// float, which cannot participate in canonical-JSON equality.
	ErrNaNKey = errors.New("memoization key contains NaN")
)

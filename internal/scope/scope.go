// Package scope authorizes capability invocations against a caller's
// granted scope set. The required scope per capability comes from a static
// table; grants may be exact or wildcard ("prefix.*").
package scope

import (
	"fmt"
	"strings"
)

// Authorizer maps capability names to the scope required to invoke them.
// Capabilities absent from the table require no scope: unregistered tools
// are rejected elsewhere.
type Authorizer struct {
	required map[string]string
}

func NewAuthorizer(required map[string]string) *Authorizer {
	if required == nil {
		required = map[string]string{}
	}
	return &Authorizer{required: required}
}

// Required returns the scope a capability demands, empty when none.
func (a *Authorizer) Required(capability string) string {
	return a.required[capability]
}

// Authorize returns nil when the caller's scopes satisfy the capability's
// required scope, otherwise the missing scope.
func (a *Authorizer) Authorize(capability string, callerScopes []string) (missing string, ok bool) {
	need := a.required[capability]
	if need == "" {
		return "", true
	}
	for _, granted := range callerScopes {
		if Matches(granted, need) {
			return "", true
		}
	}
	return need, false
}

// Matches reports whether a granted scope satisfies a required one. A grant
// of "prefix.*" covers any scope starting with "prefix.".
func Matches(granted, required string) bool {
	if granted == required {
		return true
	}
	if prefix, found := strings.CutSuffix(granted, ".*"); found {
		return strings.HasPrefix(required, prefix+".")
	}
	return false
}

// FromPairs builds the table from "capability=scope" strings, for CLI and
// test convenience.
func FromPairs(pairs []string) (*Authorizer, error) {
	required := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, s, found := strings.Cut(p, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid scope pair %q", p)
		}
		required[name] = s
	}
	return NewAuthorizer(required), nil
}

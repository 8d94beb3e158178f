package auth

import "time"

// Scope limits what a service token may do against the facade.
type Scope string

const (
	ScopeRead  Scope = "resolutions:read"
	ScopeWrite Scope = "resolutions:write"
)

// DefaultTTL is the lifetime of an issued service token.
const DefaultTTL = 15 * time.Minute

// Principal is the verified identity carried by a service token.
type Principal struct {
	Subject   string
	Scopes    []Scope
	ExpiresAt time.Time
}

// Allows reports whether the principal holds scope.
func (p Principal) Allows(scope Scope) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

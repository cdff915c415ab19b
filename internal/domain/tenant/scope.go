package tenant

import "strings"

// Scope is the clinic visibility of a caller. The zero value is unscoped: platform
// staff without a clinic and internal callers (webhooks) see every record.
type Scope struct {
	TenantID string
}

func Unscoped() Scope { return Scope{} }

func For(tenantID string) Scope {
	return Scope{TenantID: strings.TrimSpace(tenantID)}
}

func (s Scope) Scoped() bool { return s.TenantID != "" }

// Allows reports whether a record owned by tenantID is visible in s. Records
// without an owner are only visible to unscoped callers.
func (s Scope) Allows(tenantID *string) bool {
	if !s.Scoped() {
		return true
	}
	return tenantID != nil && *tenantID == s.TenantID
}

// Owner is the tenant assigned to records created in s.
func (s Scope) Owner() *string {
	if !s.Scoped() {
		return nil
	}
	t := s.TenantID
	return &t
}

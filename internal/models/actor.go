package models

import "slices"

// SystemUserID is recorded as the actor of transitions driven by the carrier feed.
const SystemUserID int64 = 0

// Actor is the resolved caller of a core operation. It is always passed explicitly.
type Actor struct {
	Authenticated   bool
	UserID          int64
	SessionTenantID *int64
	Tenants         []int64
}

func NewActor(userID int64, sessionTenantID *int64, tenants []int64) Actor {
	a := Actor{Authenticated: true, UserID: userID, SessionTenantID: sessionTenantID}
	a.Tenants = append(a.Tenants, tenants...)
	if sessionTenantID != nil && !slices.Contains(a.Tenants, *sessionTenantID) {
		a.Tenants = append(a.Tenants, *sessionTenantID)
	}
	return a
}

func SystemActor(tenantID int64) Actor {
	return NewActor(SystemUserID, &tenantID, nil)
}

func (a Actor) CanAccess(tenantID int64) bool {
	return a.Authenticated && tenantID > 0 && slices.Contains(a.Tenants, tenantID)
}

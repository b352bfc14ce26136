package models

type CourierStatus string

const (
	CourierActive   CourierStatus = "active"
	CourierInactive CourierStatus = "inactive"
)

// Courier is reference data owned by a tenant. CoID points at the carrier company
// configuration the courier ships through.
type Courier struct {
	ID       int64
	TenantID int64
	CoID     int64
	Name     string
	Status   CourierStatus
}

func (c *Courier) Active() bool {
	return c != nil && c.Status == CourierActive
}

package models

import "time"

type Role string

const (
	RoleShipper Role = "shipper"
	RoleCarrier Role = "carrier"
)

func (r Role) Valid() bool {
	return r == RoleShipper || r == RoleCarrier
}

// Actor is the verified identity produced by the authentication gate.
type Actor struct {
	ID   string
	Role Role
}

type User struct {
	ID        string
	Role      Role
	CreatedAt time.Time
	LastSeen  time.Time
}

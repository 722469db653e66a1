package domain

import (
	"time"
)

// ClientStatus enumerates the states of a client account.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
)

// Client is the owner of one or more search agents. Clients are created
// implicitly when an agent is registered and are never deleted while an
// agent still references them.
type Client struct {
	ID        string       `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	Email     string       `json:"email,omitempty" db:"email"`
	Phone     string       `json:"phone,omitempty" db:"phone"`
	Notes     string       `json:"notes,omitempty" db:"notes"`
	Status    ClientStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

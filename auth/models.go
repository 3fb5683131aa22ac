package auth

import (
	"time"

	"escrowflow/agreement"
)

// Party is an identity that can initiate or take part in agreements.
type Party struct {
	ID           string
	Address      agreement.Address
	PasswordHash string
	CreatedAt    time.Time
}

// RegisterRequest contains party registration data supplied by callers.
type RegisterRequest struct {
	Address  agreement.Address `json:"address"`
	Password string            `json:"password"`
}

// LoginRequest contains party login credentials.
type LoginRequest struct {
	Address  agreement.Address `json:"address"`
	Password string            `json:"password"`
}

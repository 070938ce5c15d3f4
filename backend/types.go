package backend

import "time"

// User is the backend record linking a platform account to a wallet.
type User struct {
	PlatformUserID string    `json:"discordId"`
	Username       string    `json:"username,omitempty"`
	Wallet         string    `json:"wallet,omitempty"`
	Verified       bool      `json:"verified"`
	Roles          []string  `json:"roles,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// Score is the reputation payload for a wallet.
type Score struct {
	Wallet string  `json:"wallet"`
	Score  float64 `json:"score"`
}

// RoleUpdate records a committed role change.
type RoleUpdate struct {
	Role   string `json:"role"`
	RoleID string `json:"roleId"`
	Action string `json:"action"`
}

// OperatorStatus enumerates the operator lifecycle.
type OperatorStatus string

const (
	OperatorPending  OperatorStatus = "pending"
	OperatorApproved OperatorStatus = "approved"
)

// Operator is a validator operator application.
type Operator struct {
	ID             string         `json:"id,omitempty"`
	PlatformUserID string         `json:"discordId"`
	Username       string         `json:"username,omitempty"`
	Address        string         `json:"address"`
	Status         OperatorStatus `json:"status,omitempty"`
	ApprovedBy     string         `json:"approvedBy,omitempty"`
	CreatedAt      time.Time      `json:"createdAt,omitempty"`
}

// Validator is a validator address registered to an operator.
type Validator struct {
	ID         string `json:"id,omitempty"`
	OperatorID string `json:"operatorId"`
	Address    string `json:"address"`
}

// Message is a notification relayed to an operator.
type Message struct {
	OperatorID string `json:"operatorId,omitempty"`
	Address    string `json:"address,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body"`
	SentBy     string `json:"sentBy,omitempty"`
}

package model

import "time"

type PairingState string

const (
	PairingStatePending  PairingState = "pending"
	PairingStateApproved PairingState = "approved"
	PairingStateFinished PairingState = "finished"
	PairingStateExpired  PairingState = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s PairingState) Terminal() bool {
	return s == PairingStateFinished || s == PairingStateExpired
}

// Active reports whether the request still holds its code. Codes are
// unique among active requests only and may be reused afterwards.
func (s PairingState) Active() bool {
	return s == PairingStatePending || s == PairingStateApproved
}

type PairingRequest struct {
	ID          string       `db:"id" json:"requestId"`
	Code        string       `db:"code" json:"code"`
	State       PairingState `db:"state" json:"state"`
	ApprovedBy  *string      `db:"approved_by" json:"approvedBy,omitempty"`
	IssuedToken *string      `db:"issued_token" json:"-"`
	ExpiresAt   time.Time    `db:"expires_at" json:"expiresAt"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updatedAt"`
}

type CreatePairingRequestParams struct {
	ID        string
	Code      string
	ExpiresAt time.Time
}

// StateTransition describes one compare-and-swap step of the pairing
// state machine. ApprovedBy is bound on pending -> approved only.
type StateTransition struct {
	From       PairingState
	To         PairingState
	ApprovedBy *string
}

package trade

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of a trade a caller is on.
type Role string

const (
	RoleVendor   Role = "vendor"
	RoleCustomer Role = "customer"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleVendor, RoleCustomer:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: role must be vendor or customer", ErrInvalidInput)
}

// Confirmations hold each party's acceptance of the trade. Once true they
// stay true.
type Confirmations struct {
	Vendor   bool `json:"vendor"`
	Customer bool `json:"customer"`
}

// Of returns the confirmation owned by role.
func (c Confirmations) Of(role Role) bool {
	if role == RoleVendor {
		return c.Vendor
	}
	return c.Customer
}

// Wallets hold the parties' on-chain addresses, each written by its owner.
type Wallets struct {
	Vendor   *string `json:"vendor,omitempty"`
	Customer *string `json:"customer,omitempty"`
}

// Of returns the wallet owned by role.
func (w Wallets) Of(role Role) *string {
	if role == RoleVendor {
		return w.Vendor
	}
	return w.Customer
}

// EscrowBinding correlates a session with the escrow contract's trade id.
type EscrowBinding struct {
	TradeID string `json:"tradeId"`
}

// Session is one trade between a vendor and a customer over a listing.
type Session struct {
	ID             int64          `json:"id"`
	SessionID      uuid.UUID      `json:"sessionId"`
	ListingID      uuid.UUID      `json:"listingId"`
	VendorID       uuid.UUID      `json:"vendorId"`
	CustomerID     uuid.UUID      `json:"customerId"`
	OnChain        bool           `json:"onChain"`
	Confirmations  Confirmations  `json:"confirmations"`
	Wallets        Wallets        `json:"wallets"`
	Escrow         *EscrowBinding `json:"escrow,omitempty"`
	Stage          Stage          `json:"stage"`
	StageEnteredAt time.Time      `json:"stageEnteredAt"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// NewSession builds a session in the initiate stage.
func NewSession(listingID, vendorID, customerID uuid.UUID, onChain bool, now time.Time) (*Session, error) {
	if listingID == uuid.Nil {
		return nil, fmt.Errorf("%w: listing_id is required", ErrInvalidInput)
	}
	if vendorID == uuid.Nil || customerID == uuid.Nil {
		return nil, fmt.Errorf("%w: vendor_id and customer_id are required", ErrInvalidInput)
	}
	if vendorID == customerID {
		return nil, fmt.Errorf("%w: vendor and customer must differ", ErrInvalidInput)
	}
	now = now.UTC()
	return &Session{
		SessionID:      uuid.New(),
		ListingID:      listingID,
		VendorID:       vendorID,
		CustomerID:     customerID,
		OnChain:        onChain,
		Stage:          StageInitiate,
		StageEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Wallets.Vendor != nil {
		v := *s.Wallets.Vendor
		c.Wallets.Vendor = &v
	}
	if s.Wallets.Customer != nil {
		v := *s.Wallets.Customer
		c.Wallets.Customer = &v
	}
	if s.Escrow != nil {
		e := *s.Escrow
		c.Escrow = &e
	}
	return &c
}

// BothConfirmed reports whether both parties accepted.
func (s *Session) BothConfirmed() bool {
	return s.Confirmations.Vendor && s.Confirmations.Customer
}

package trade

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Field is a role-owned, independently writable part of a session.
type Field string

const (
	FieldConfirmation Field = "confirmation"
	FieldWallet       Field = "wallet"
)

// FieldWrite is one party's write to a field it owns.
type FieldWrite struct {
	Role      Role
	Field     Field
	Confirmed bool
	Address   string
}

// ConfirmationWrite marks role's confirmation as given.
func ConfirmationWrite(role Role) FieldWrite {
	return FieldWrite{Role: role, Field: FieldConfirmation, Confirmed: true}
}

// WalletWrite sets role's wallet; the address is stored checksummed.
func WalletWrite(role Role, address string) (FieldWrite, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return FieldWrite{}, err
	}
	return FieldWrite{Role: role, Field: FieldWallet, Address: addr}, nil
}

// NormalizeAddress validates an EVM address and returns its checksummed form.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q is not a valid address", ErrInvalidInput, address)
	}
	return common.HexToAddress(address).Hex(), nil
}

var walletWindows = map[Role][]Stage{
	RoleVendor:   {StageInitiate, StageConnectWallet},
	RoleCustomer: {StageInitiate, StageConnectWallet, StageLockFunds},
}

// Check validates the write against the session's current stage.
func (w FieldWrite) Check(current Stage) error {
	if w.Role != RoleVendor && w.Role != RoleCustomer {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, w.Role)
	}
	if current.IsTerminal() {
		if current == StageCancelled {
			return fmt.Errorf("%w: trade already cancelled", ErrInvalidTransition)
		}
		return fmt.Errorf("%w: trade already closed", ErrInvalidTransition)
	}
	switch w.Field {
	case FieldConfirmation:
		if !w.Confirmed {
			return fmt.Errorf("%w: a confirmation cannot be withdrawn", ErrForbidden)
		}
		return nil
	case FieldWallet:
		if w.Address == "" {
			return fmt.Errorf("%w: address is required", ErrInvalidInput)
		}
		for _, st := range walletWindows[w.Role] {
			if st == current {
				return nil
			}
		}
		return fmt.Errorf("%w: %s wallet is locked in stage %s", ErrForbidden, w.Role, current)
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidInput, w.Field)
	}
}

// Apply mutates s in place and reports whether anything changed.
func (w FieldWrite) Apply(s *Session) bool {
	switch w.Field {
	case FieldConfirmation:
		if w.Role == RoleVendor {
			if s.Confirmations.Vendor {
				return false
			}
			s.Confirmations.Vendor = true
			return true
		}
		if s.Confirmations.Customer {
			return false
		}
		s.Confirmations.Customer = true
		return true
	case FieldWallet:
		addr := w.Address
		current := s.Wallets.Of(w.Role)
		if current != nil && *current == addr {
			return false
		}
		if w.Role == RoleVendor {
			s.Wallets.Vendor = &addr
		} else {
			s.Wallets.Customer = &addr
		}
		return true
	}
	return false
}

// Payload describes the write for the timeline.
func (w FieldWrite) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"role":  w.Role,
		"field": w.Field,
	}
	if w.Field == FieldWallet {
		p["address"] = w.Address
	}
	return p
}

package trade

import (
	"fmt"

	"github.com/google/uuid"
)

// ResolveRole maps a caller to its side of the trade.
func ResolveRole(s *Session, callerID uuid.UUID) (Role, error) {
	if s == nil || callerID == uuid.Nil {
		return "", ErrUnauthorized
	}
	switch callerID {
	case s.VendorID:
		return RoleVendor, nil
	case s.CustomerID:
		return RoleCustomer, nil
	}
	return "", ErrUnauthorized
}

// AuthorizeFieldWrite resolves the caller and rejects writes aimed at the
// other party's fields, whatever the stage.
func AuthorizeFieldWrite(s *Session, callerID uuid.UUID, target Role) (Role, error) {
	role, err := ResolveRole(s, callerID)
	if err != nil {
		return "", err
	}
	if target != role {
		return role, fmt.Errorf("%w: a %s cannot write %s fields", ErrForbidden, role, target)
	}
	return role, nil
}

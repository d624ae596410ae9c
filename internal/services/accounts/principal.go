package accounts

import (
	"fmt"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
)

// Capability is something a caller may be allowed to do.
type Capability string

const (
	// CapReadOwnLedger covers reads and domain actions on the caller's own account.
	CapReadOwnLedger Capability = "read_own_ledger"
	CapReadAnyLedger Capability = "read_any_ledger"
	CapCallService   Capability = "call_service"
	CapAdminister    Capability = "administer"
)

var grants = map[models.Role][]Capability{
	models.RoleStudent: {CapReadOwnLedger},
	models.RoleTeacher: {CapReadOwnLedger},
	models.RoleAdmin:   {CapReadOwnLedger, CapReadAnyLedger, CapAdminister},
	models.RoleService: {CapReadAnyLedger, CapCallService},
}

// Principal is a caller identity already verified by the boundary.
// AccountID is zero for service callers.
type Principal struct {
	Role      models.Role
	AccountID uint64
}

func (p Principal) Can(c Capability) bool {
	for _, g := range grants[p.Role] {
		if g == c {
			return true
		}
	}

	return false
}

func (p Principal) CanAdminister() bool { return p.Can(CapAdminister) }

func (p Principal) CanCallService() bool { return p.Can(CapCallService) }

// Require returns an Unauthorized error unless p holds c.
func (p Principal) Require(c Capability) error {
	if p.Can(c) {
		return nil
	}

	return fmt.Errorf("%w: role %q lacks %s", apperr.ErrUnauthorized, p.Role, c)
}

// CanAccess reports whether p may read or act on accountID.
func (p Principal) CanAccess(accountID uint64) bool {
	if p.Can(CapReadAnyLedger) {
		return true
	}

	return p.Can(CapReadOwnLedger) && p.AccountID != 0 && p.AccountID == accountID
}

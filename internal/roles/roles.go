package roles

import (
	"fmt"
	"strings"

	"github.com/campusloop/loyalty/internal/models"
)

// Level is an ordered privilege level. Higher levels hold every
// capability of the levels below them.
type Level int

// Privilege levels from lowest to highest.
const (
	// Regular is an ordinary member.
	Regular Level = iota + 1
	// Cashier records purchases and processes redemptions.
	Cashier
	// Manager administers promotions, events, users, and the ledger.
	Manager
	// Superuser holds every capability including role promotion.
	Superuser
)

// names maps levels to their wire representation.
var names = map[Level]string{
	Regular:   models.RoleRegular,
	Cashier:   models.RoleCashier,
	Manager:   models.RoleManager,
	Superuser: models.RoleSuperuser,
}

// levels maps wire representations back to levels.
var levels = func() map[string]Level {
	out := make(map[string]Level, len(names))
	for level, name := range names {
		out[name] = level
	}
	return out
}()

// String returns the wire representation of the level.
func (l Level) String() string {
	if name, ok := names[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// AtLeast reports whether the level meets or exceeds the given floor.
func (l Level) AtLeast(floor Level) bool { return l >= floor }

// Parse resolves a role string to its level.
func Parse(role string) (Level, error) {
	level, ok := levels[strings.ToLower(strings.TrimSpace(role))]
	if !ok {
		return 0, fmt.Errorf("roles: unknown role %q", role)
	}
	return level, nil
}

// Of resolves a user's level, treating unknown roles as Regular.
func Of(user *models.User) Level {
	if user == nil {
		return Regular
	}
	level, err := Parse(user.Role)
	if err != nil {
		return Regular
	}
	return level
}

// Valid reports whether the role string names a known level.
func Valid(role string) bool {
	_, err := Parse(role)
	return err == nil
}

// Capability predicates. Each operation of the transaction engine has
// one predicate here instead of ad hoc string checks at call sites.

// CanRecordPurchase reports whether the level may create purchases on
// behalf of members.
func CanRecordPurchase(l Level) bool { return l.AtLeast(Cashier) }

// CanAdjust reports whether the level may create manual adjustments.
func CanAdjust(l Level) bool { return l.AtLeast(Manager) }

// CanProcessRedemption reports whether the level may fulfil redemption
// requests.
func CanProcessRedemption(l Level) bool { return l.AtLeast(Cashier) }

// CanAudit reports whether the level may toggle suspicious flags, edit
// remarks, delete ledger rows, and read any transaction.
func CanAudit(l Level) bool { return l.AtLeast(Manager) }

// CanRegisterUsers reports whether the level may register new members.
func CanRegisterUsers(l Level) bool { return l.AtLeast(Cashier) }

// CanManagePromotions reports whether the level may create or edit
// promotions.
func CanManagePromotions(l Level) bool { return l.AtLeast(Manager) }

// CanManageEvents reports whether the level may create or edit events.
func CanManageEvents(l Level) bool { return l.AtLeast(Manager) }

// CanAssignRole reports whether the level may grant the target role.
// Managers may assign up to cashier; only superusers hand out manager
// and superuser.
func CanAssignRole(actor Level, target Level) bool {
	if target >= Manager {
		return actor.AtLeast(Superuser)
	}
	return actor.AtLeast(Manager)
}

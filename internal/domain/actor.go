package domain

import "fmt"

// Role — роль актора, которую передаёт слой идентификации.
type Role string

const (
	RoleBuyer        Role = "buyer"
	RoleSeller       Role = "seller"
	RoleStockManager Role = "stock_manager"
	RoleAdmin        Role = "admin"
)

// Valid проверяет, что роль известна.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleStockManager, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor — текущий пользователь операции. Передаётся явно в каждую операцию.
type Actor struct {
	ID   string
	Role Role
}

// IsAdmin сообщает, что актор администратор.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Owns сообщает, что актор владеет ресурсом покупателя или является администратором.
func (a Actor) Owns(buyerID string) bool {
	return a.IsAdmin() || (a.ID != "" && a.ID == buyerID)
}

// HasRole проверяет принадлежность к одной из ролей (администратор проходит всегда).
func (a Actor) HasRole(roles ...Role) bool {
	if a.IsAdmin() {
		return true
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// RequireRole возвращает ErrForbidden, если у актора нет ни одной из ролей.
func (a Actor) RequireRole(roles ...Role) error {
	if a.ID == "" {
		return fmt.Errorf("%w: actor is anonymous", ErrForbidden)
	}
	if !a.HasRole(roles...) {
		return fmt.Errorf("%w: role %q is not allowed", ErrForbidden, a.Role)
	}
	return nil
}

// RequireOwner возвращает ErrForbidden, если актор не владелец ресурса.
func (a Actor) RequireOwner(buyerID string) error {
	if !a.Owns(buyerID) {
		return fmt.Errorf("%w: actor %q does not own resource", ErrForbidden, a.ID)
	}
	return nil
}

package services

import "bankcards/models"

// Caller - пользователь, от имени которого выполняется операция.
// Передается явно в каждую операцию сервисов.
type Caller struct {
	UserID   uint
	Username string
	Role     models.Role
}

// IsAdmin сообщает, есть ли у вызывающего право ADMIN
func (c Caller) IsAdmin() bool {
	return c.Role.Has(models.AuthorityAdmin)
}

// Owned - ресурс с владельцем: карта или перевод
type Owned interface {
	OwnedBy(userID uint) bool
}

// Guard проверяет права доступа к картам и переводам.
// Отсутствующая сущность всегда NotFound, чужая существующая всегда AccessDenied.
type Guard struct{}

func NewGuard() *Guard {
	return &Guard{}
}

// Authorize: администратор имеет доступ ко всему, пользователь только к своему
func (g *Guard) Authorize(caller Caller, resource Owned) error {
	if caller.IsAdmin() {
		return nil
	}
	if caller.Role.Has(models.AuthorityUser) && resource.OwnedBy(caller.UserID) {
		return nil
	}
	return ErrAccessDenied
}

// RequireOwner проверяет, что все карты принадлежат вызывающему. Администратор исключением не является.
func (g *Guard) RequireOwner(caller Caller, cards ...*models.Card) error {
	for _, card := range cards {
		if !card.OwnedBy(caller.UserID) {
			return newError(KindAccessDenied, "Access denied - can only transfer between own cards")
		}
	}
	return nil
}

// RequireAdmin пропускает только администраторов
func (g *Guard) RequireAdmin(caller Caller) error {
	if !caller.IsAdmin() {
		return ErrAccessDenied
	}
	return nil
}

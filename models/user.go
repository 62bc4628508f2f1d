package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Role представляет роль пользователя
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Authority - отдельное право, которое дает роль
type Authority string

const (
	AuthorityUser  Authority = "USER"
	AuthorityAdmin Authority = "ADMIN"
)

// roleAuthorities: ADMIN включает права USER
var roleAuthorities = map[Role][]Authority{
	RoleAdmin: {AuthorityAdmin, AuthorityUser},
	RoleUser:  {AuthorityUser},
}

// Authorities возвращает набор прав роли
func (r Role) Authorities() []Authority {
	return roleAuthorities[r]
}

// Has сообщает, входит ли право в роль
func (r Role) Has(a Authority) bool {
	for _, granted := range roleAuthorities[r] {
		if granted == a {
			return true
		}
	}
	return false
}

// Valid сообщает, известна ли роль
func (r Role) Valid() bool {
	_, ok := roleAuthorities[r]
	return ok
}

type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Username  string    `gorm:"column:username;unique;not null;size:50"`
	Email     string    `gorm:"column:email;unique;not null;size:100;index"`
	Password  string    `gorm:"column:password;not null;size:100"`
	FirstName string    `gorm:"column:first_name;size:50"`
	LastName  string    `gorm:"column:last_name;size:50"`
	Role      Role      `gorm:"column:role;type:varchar(10);not null;default:'USER'"`
	Enabled   bool      `gorm:"column:enabled;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate хук для валидации перед созданием
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if len(u.Username) < 3 || len(u.Username) > 50 {
		return errors.New("username must be between 3 and 50 characters")
	}
	if len(u.Email) < 3 || len(u.Email) > 100 {
		return errors.New("email must be between 3 and 100 characters")
	}
	if !u.Role.Valid() {
		return errors.New("unknown role")
	}
	return nil
}

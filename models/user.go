package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// User belongs to a company, except system admins whose CompanyId is NULL.
// A system reset deletes users with a company and structurally keeps the rest.
type User struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	CompanyId *uint     `gorm:"index" json:"company_id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      UserRole  `gorm:"size:20;not null;default:staff" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u User) IsSystemAdmin() bool {
	return u.Role == UserRoleSystemAdmin && u.CompanyId == nil
}

func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CountSystemAdmins counts users that no reset may ever remove.
func CountSystemAdmins(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&User{}).
		Where("company_id IS NULL AND role = ?", UserRoleSystemAdmin).
		Count(&n).Error
	return n, err
}

var ErrUserNotSystemAdmin = errors.New("user is not a system admin")

// GetSystemAdmin loads the operator of an admin action and checks the role.
func GetSystemAdmin(ctx context.Context, db *gorm.DB, id uint) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotSystemAdmin
		}
		return nil, err
	}
	if !user.IsSystemAdmin() {
		return nil, ErrUserNotSystemAdmin
	}
	return &user, nil
}

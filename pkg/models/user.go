package models

import (
	"errors"
	"time"
)

type Role string

const (
	RoleGuest      Role = "Guest"
	RoleCustomer   Role = "Customer"
	RoleSupplier   Role = "Supplier"
	RoleAdmin      Role = "Admin"
	RoleModerator  Role = "Moderator"
	RoleSupport    Role = "Support"
	RoleManager    Role = "Manager"
	RoleSuperAdmin Role = "SuperAdmin"
	RoleGodAdmin   Role = "GodAdmin"
)

var validRoles = map[Role]struct{}{
	RoleGuest:      {},
	RoleCustomer:   {},
	RoleSupplier:   {},
	RoleAdmin:      {},
	RoleModerator:  {},
	RoleSupport:    {},
	RoleManager:    {},
	RoleSuperAdmin: {},
	RoleGodAdmin:   {},
}

func ToRole(s string) (Role, error) {
	role := Role(s)
	if _, ok := validRoles[role]; ok {
		return role, nil
	}

	return "", errors.New("invalid role")
}

type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Firstname    string    `gorm:"type:varchar(100);not null" json:"firstname"`
	Lastname     string    `gorm:"type:varchar(100);not null" json:"lastname"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Phone        *string   `gorm:"type:varchar(32);uniqueIndex" json:"phone,omitempty"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	Role         Role      `gorm:"type:varchar(20);not null" json:"role"`
	Verified     bool      `gorm:"not null" json:"verified"`
	Active       bool      `gorm:"not null" json:"active"`
	Telegram     *string   `gorm:"type:varchar(100)" json:"telegram,omitempty"`
	WhatsApp     *string   `gorm:"type:varchar(32)" json:"whatsapp,omitempty"`
	Age          *int      `json:"age,omitempty"`
	Gender       *string   `gorm:"type:varchar(20)" json:"gender,omitempty"`
	Picture      *string   `gorm:"type:text" json:"picture,omitempty"`
	Addresses    []Address `gorm:"foreignKey:UserID" json:"addresses"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u User) FullName() string {
	if u.Lastname == "" {
		return u.Firstname
	}
	return u.Firstname + " " + u.Lastname
}

type AddressKind string

const (
	AddressKindBilling  AddressKind = "Billing"
	AddressKindShipping AddressKind = "Shipping"
)

func ToAddressKind(s string) (AddressKind, error) {
	switch k := AddressKind(s); k {
	case AddressKindBilling, AddressKindShipping:
		return k, nil
	}
	return "", errors.New("invalid address kind")
}

type Address struct {
	ID        string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string      `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Street    string      `gorm:"type:varchar(255);not null" json:"street"`
	City      string      `gorm:"type:varchar(100);not null" json:"city"`
	State     string      `gorm:"type:varchar(100)" json:"state"`
	Country   string      `gorm:"type:varchar(100);not null" json:"country"`
	PostCode  string      `gorm:"type:varchar(20)" json:"post_code"`
	Kind      AddressKind `gorm:"type:varchar(20);not null" json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (Address) TableName() string {
	return "addresses"
}

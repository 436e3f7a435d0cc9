package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Daskott/safeline/phone"
	"github.com/Daskott/safeline/server/auth"
	"gorm.io/gorm"
)

var (
	allFieldsExceptPassword = []string{"id",
		"first_name",
		"last_name",
		"username",
		"phone_number",
		"email",
		"role_id",
		"created_at",
		"updated_at",
	}

	updatableFields = []string{"first_name",
		"last_name",
		"phone_number",
		"password",
	}
)

type User struct {
	BaseModel
	FirstName       string             `json:"first_name" validate:"required"`
	LastName        string             `json:"last_name" validate:"required"`
	Username        string             `json:"username" validate:"required,alphanum,min=3,max=30" gorm:"not null;unique"`
	PhoneNumber     string             `json:"phone_number" validate:"required,phone_number" gorm:"not null;unique"`
	Email           string             `json:"email" validate:"required,email" gorm:"not null;unique"`
	Password        string             `json:"password,omitempty" validate:"required,password" gorm:"not null"`
	RoleID          uint               `json:"role_id" gorm:"null"`
	Contacts        []EmergencyContact `json:"contacts,omitempty" gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	FakeCallSetting *FakeCallSetting   `json:"fake_call_setting,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (user *User) FullName() string {
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

func (user *User) Update(data map[string]interface{}) error {
	if data["password"] != nil {
		passwordHash, err := auth.HashPassword(fmt.Sprintf("%v", data["password"]))
		if err != nil {
			return err
		}
		data["password"] = passwordHash
	}

	if data["phone_number"] != nil {
		number, err := phone.Canonicalize(fmt.Sprintf("%v", data["phone_number"]), DefaultCountryCode)
		if err != nil {
			return err
		}
		data["phone_number"] = number
	}

	err := db.Model(&User{}).Where("id = ?", user.ID).Select(updatableFields).Updates(data).Error
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	return err
}

func (user *User) IsAdmin() (bool, error) {
	if user.RoleID == 0 {
		return false, nil
	}

	adminRole, err := FindRole(ADMIN_USER_ROLE)
	if err != nil {
		return false, err
	}

	return adminRole.ID == user.RoleID, nil
}

func FindUserBy(field string, value interface{}) (*User, error) {
	user := User{}
	err := db.Select(allFieldsExceptPassword).First(&user, fmt.Sprintf("%v = ?", field), value).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// FindUserByEmailOrUsername looks a user up by email first, then by username
func FindUserByEmailOrUsername(email, username string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)

	switch {
	case email != "":
		return FindUserBy("email", email)
	case username != "":
		return FindUserBy("username", username)
	}

	return nil, ErrRecipientNotProvided
}

// FindUserByPhone finds the user owning rawNumber, in any format
func FindUserByPhone(rawNumber string) (*User, error) {
	number, err := phone.Canonicalize(rawNumber, DefaultCountryCode)
	if err != nil {
		return nil, err
	}

	return FindUserBy("phone_number", number)
}

func FindUserPassword(email string) (string, error) {
	user := &User{}
	err := db.Select("Password").First(user, "email = ?", strings.ToLower(email)).Error

	if err != nil {
		return "", err
	}
	return user.Password, nil
}

// CreateUser stores user with a hashed password & canonical phone number.
// The very first user gets the admin role.
func CreateUser(user *User) error {
	number, err := phone.Canonicalize(user.PhoneNumber, DefaultCountryCode)
	if err != nil {
		return err
	}
	user.PhoneNumber = number
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	passwordHash, err := auth.HashPassword(user.Password)
	if err != nil {
		return err
	}
	user.Password = passwordHash

	err = db.Transaction(func(tx *gorm.DB) error {
		roleName := BASIC_USER_ROLE
		if err := tx.Select("id").First(&User{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			roleName = ADMIN_USER_ROLE
		}

		role := Role{}
		if err := tx.First(&role, "name = ?", roleName).Error; err != nil {
			return err
		}
		user.RoleID = role.ID

		if user.FakeCallSetting == nil {
			user.FakeCallSetting = defaultFakeCallSetting()
		}

		return tx.Create(user).Error
	})

	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	return err
}

func DeleteUser(id interface{}) error {
	return db.Transaction(func(tx *gorm.DB) error {
		// Drop the guardian link on other users' contacts, they keep the contact itself
		err := tx.Model(&EmergencyContact{}).Where("guardian_id = ?", id).Update("guardian_id", nil).Error
		if err != nil {
			return err
		}

		err = tx.Where("sender_id = ? OR recipient_id = ?", id, id).Delete(&Invitation{}).Error
		if err != nil {
			return err
		}

		err = tx.Where("user_id = ?", id).Delete(&LiveLocation{}).Error
		if err != nil {
			return err
		}

		err = tx.Where("sos_alert_id IN (?)", tx.Model(&SosAlert{}).Select("id").Where("user_id = ?", id)).
			Or("contact_id IN (?)", tx.Model(&EmergencyContact{}).Select("id").Where("user_id = ?", id)).
			Delete(&SosNotification{}).Error
		if err != nil {
			return err
		}

		err = tx.Where("user_id = ?", id).Delete(&SosAlert{}).Error
		if err != nil {
			return err
		}

		return tx.Select("Contacts", "FakeCallSetting").Delete(&User{BaseModel: BaseModel{ID: toUint(id)}}).Error
	})
}

func AtLeastOneUserExists() (bool, error) {
	err := db.Select("id").First(&User{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toUint(id interface{}) uint {
	switch v := id.(type) {
	case uint:
		return v
	case int:
		return uint(v)
	case int64:
		return uint(v)
	case float64:
		return uint(v)
	case string:
		var parsed uint
		fmt.Sscanf(v, "%d", &parsed)
		return parsed
	}
	return 0
}

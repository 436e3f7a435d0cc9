package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Daskott/safeline/phone"
	"gorm.io/gorm"
)

const MAX_CONTACTS_PER_USER = 500

var updatableContactFields = map[string]bool{"name": true, "phone_number": true, "relationship": true}

// EmergencyContact is someone to message when a user triggers an SOS.
// Contacts created by accepting an invitation have GuardianID set to the
// accepting user, which lets that user watch the owner's live location.
type EmergencyContact struct {
	BaseModel
	Name         string `json:"name" validate:"required,max=80"`
	PhoneNumber  string `json:"phone_number" validate:"required,phone_number" gorm:"not null;uniqueIndex:idx_owner_phone"`
	Relationship string `json:"relationship" validate:"max=40"`
	IsPrimary    bool   `json:"is_primary" gorm:"default:false"`
	UserID       uint   `json:"user_id" gorm:"not null;uniqueIndex:idx_owner_phone"`
	GuardianID   *uint  `json:"guardian_id,omitempty" gorm:"index"`
}

func (user *User) AddContact(contact *EmergencyContact) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return addContact(tx, user.ID, contact)
	})
}

// LoadContacts fills user.Contacts, primary contact first
func (user *User) LoadContacts() error {
	return db.Limit(MAX_CONTACTS_PER_USER).Order("is_primary desc, name asc").
		Find(&user.Contacts, "user_id = ?", user.ID).Error
}

func (user *User) FindContact(contactID interface{}) (*EmergencyContact, error) {
	contact := EmergencyContact{}
	err := db.First(&contact, "id = ? AND user_id = ?", contactID, user.ID).Error
	if err != nil {
		return nil, err
	}

	return &contact, nil
}

func (user *User) UpdateContact(contactID interface{}, data map[string]interface{}) error {
	for field := range data {
		if !updatableContactFields[field] {
			delete(data, field)
		}
	}

	if data["phone_number"] != nil {
		number, err := phone.Canonicalize(fmt.Sprintf("%v", data["phone_number"]), DefaultCountryCode)
		if err != nil {
			return err
		}
		data["phone_number"] = number
	}

	res := db.Model(&EmergencyContact{}).Where("id = ? AND user_id = ?", contactID, user.ID).Updates(data)
	if isUniqueViolation(res.Error) {
		return ErrDuplicateContact
	}

	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// DeleteContact removes a contact, if it was the primary contact the oldest
// remaining contact is promoted
func (user *User) DeleteContact(contactID interface{}) error {
	return db.Transaction(func(tx *gorm.DB) error {
		contact := EmergencyContact{}
		err := tx.First(&contact, "id = ? AND user_id = ?", contactID, user.ID).Error
		if err != nil {
			return err
		}

		err = tx.Where("contact_id = ?", contact.ID).Delete(&SosNotification{}).Error
		if err != nil {
			return err
		}

		err = tx.Delete(&contact).Error
		if err != nil {
			return err
		}

		if !contact.IsPrimary {
			return nil
		}

		next := EmergencyContact{}
		err = tx.Where("user_id = ?", user.ID).Order("created_at asc, id asc").First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return tx.Model(&next).Update("is_primary", true).Error
	})
}

// SetPrimaryContact makes contactID the only primary contact of user
func (user *User) SetPrimaryContact(contactID interface{}) error {
	return db.Transaction(func(tx *gorm.DB) error {
		contact := EmergencyContact{}
		err := tx.First(&contact, "id = ? AND user_id = ?", contactID, user.ID).Error
		if err != nil {
			return err
		}

		err = tx.Model(&EmergencyContact{}).Where("user_id = ? AND id <> ?", user.ID, contact.ID).
			Update("is_primary", false).Error
		if err != nil {
			return err
		}

		return tx.Model(&contact).Update("is_primary", true).Error
	})
}

func (user *User) PrimaryContact() (*EmergencyContact, error) {
	contact := EmergencyContact{}

	err := db.Where("user_id = ? AND is_primary = ?", user.ID, true).First(&contact).Error
	if err != nil {
		return nil, err
	}

	return &contact, nil
}

// GuardianIDs returns the ids of users allowed to watch user's live location
func GuardianIDs(userID uint) ([]uint, error) {
	ids := []uint{}
	err := db.Model(&EmergencyContact{}).
		Where("user_id = ? AND guardian_id IS NOT NULL", userID).
		Distinct().Pluck("guardian_id", &ids).Error

	return ids, err
}

// IsGuardianOf reports whether guardianID is a guardian of userID
func IsGuardianOf(guardianID, userID uint) (bool, error) {
	var count int64
	err := db.Model(&EmergencyContact{}).
		Where("user_id = ? AND guardian_id = ?", userID, guardianID).Count(&count).Error

	return count > 0, err
}

// FindContactsByPhone returns every contact, across users, with rawNumber
func FindContactsByPhone(rawNumber string) ([]EmergencyContact, error) {
	number, err := phone.Canonicalize(rawNumber, DefaultCountryCode)
	if err != nil {
		return nil, err
	}

	contacts := []EmergencyContact{}
	err = db.Where("phone_number = ?", number).Find(&contacts).Error
	return contacts, err
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// addContact is shared by AddContact & accepting an invitation, so it takes the
// db handle to run on
func addContact(tx *gorm.DB, userID uint, contact *EmergencyContact) error {
	number, err := phone.Canonicalize(contact.PhoneNumber, DefaultCountryCode)
	if err != nil {
		return err
	}

	contact.ID = 0
	contact.UserID = userID
	contact.PhoneNumber = number
	contact.Name = strings.TrimSpace(contact.Name)

	var count int64
	err = tx.Model(&EmergencyContact{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return err
	}

	if count >= MAX_CONTACTS_PER_USER {
		return fmt.Errorf("a user can have at most %v contacts", MAX_CONTACTS_PER_USER)
	}

	// The first contact is always primary
	if count == 0 {
		contact.IsPrimary = true
	}

	if contact.IsPrimary && count > 0 {
		err = tx.Model(&EmergencyContact{}).Where("user_id = ?", userID).Update("is_primary", false).Error
		if err != nil {
			return err
		}
	}

	err = tx.Create(contact).Error
	if isUniqueViolation(err) {
		return ErrDuplicateContact
	}
	return err
}

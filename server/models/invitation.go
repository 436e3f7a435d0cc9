package models

import (
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PENDING_INVITATION   = "pending"
	ACCEPTED_INVITATION  = "accepted"
	DECLINED_INVITATION  = "declined"
	IGNORED_INVITATION   = "ignored"
	EXPIRED_INVITATION   = "expired"
	CANCELLED_INVITATION = "cancelled"

	INVITE_CODE_LENGTH = 8
)

const (
	AcceptAction  = "accept"
	DeclineAction = "decline"
	IgnoreAction  = "ignore"
	CancelAction  = "cancel"
	ResendAction  = "resend"
	ExpireAction  = "expire"
)

var (
	// InvitationExpiry & MaxInvitationResends are overridden from server config
	InvitationExpiry     = 7 * 24 * time.Hour
	MaxInvitationResends = 3

	openInvitationStatuses = []string{PENDING_INVITATION, IGNORED_INVITATION}

	// invitationTransitions maps an action to the statuses it may start from
	// and the status it leads to
	invitationTransitions = map[string]struct {
		from []string
		to   string
	}{
		AcceptAction:  {from: openInvitationStatuses, to: ACCEPTED_INVITATION},
		DeclineAction: {from: openInvitationStatuses, to: DECLINED_INVITATION},
		IgnoreAction:  {from: []string{PENDING_INVITATION}, to: IGNORED_INVITATION},
		CancelAction:  {from: openInvitationStatuses, to: CANCELLED_INVITATION},
		ResendAction:  {from: []string{PENDING_INVITATION, IGNORED_INVITATION, EXPIRED_INVITATION}, to: PENDING_INVITATION},
		ExpireAction:  {from: openInvitationStatuses, to: EXPIRED_INVITATION},
	}

	senderActions    = map[string]bool{CancelAction: true, ResendAction: true}
	recipientActions = map[string]bool{AcceptAction: true, DeclineAction: true, IgnoreAction: true}

	codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// Invitation asks the recipient to become one of the sender's guardians
type Invitation struct {
	BaseModel
	SenderID     uint       `json:"sender_id" gorm:"not null;index"`
	Sender       *User      `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
	RecipientID  uint       `json:"recipient_id" gorm:"not null;index"`
	Recipient    *User      `json:"recipient,omitempty" gorm:"foreignKey:RecipientID"`
	Relationship string     `json:"relationship"`
	Status       string     `json:"status" gorm:"not null;index"`
	Code         string     `json:"code,omitempty" gorm:"not null;uniqueIndex"`
	ResendCount  int        `json:"resend_count"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
}

// IsOpen reports whether the recipient can still respond to the invitation
func (invitation *Invitation) IsOpen() bool {
	return inList(openInvitationStatuses, invitation.Status) && now().Before(invitation.ExpiresAt)
}

// CanTransition reports whether action is allowed from status
func CanTransition(status, action string) bool {
	transition, ok := invitationTransitions[action]
	return ok && inList(transition.from, status)
}

// SendInvitation creates a pending invitation from sender to the user with the
// given email or username
func SendInvitation(sender *User, email, username, relationship string) (*Invitation, error) {
	recipient, err := FindUserByEmailOrUsername(email, username)
	if err != nil {
		return nil, err
	}

	if recipient.ID == sender.ID {
		return nil, ErrSelfInvitation
	}

	invitation := &Invitation{
		SenderID:     sender.ID,
		RecipientID:  recipient.ID,
		Relationship: strings.TrimSpace(relationship),
		Status:       PENDING_INVITATION,
		Code:         newInviteCode(),
		ExpiresAt:    now().Add(InvitationExpiry),
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		err := checkInvitable(tx, sender.ID, recipient.ID, 0)
		if err != nil {
			return err
		}

		return tx.Create(invitation).Error
	})
	if err != nil {
		return nil, err
	}

	invitation.Recipient = recipient
	return invitation, nil
}

// RespondToInvitation applies a recipient action (accept, decline, ignore)
// to invitationID on behalf of recipientID
func RespondToInvitation(recipientID uint, invitationID interface{}, action string) (*Invitation, error) {
	if !recipientActions[action] {
		return nil, ErrInvalidTransition
	}

	invitation, err := FindInvitation(invitationID)
	if err != nil {
		return nil, err
	}

	if invitation.RecipientID != recipientID {
		return nil, ErrForbidden
	}

	return applyTransition(invitation, action)
}

// RedeemInvitationCode accepts the invitation with code on behalf of recipientID
func RedeemInvitationCode(recipientID uint, code string) (*Invitation, error) {
	invitation := Invitation{}
	err := db.First(&invitation, "code = ?", strings.ToUpper(strings.TrimSpace(code))).Error
	if err != nil {
		return nil, err
	}

	if invitation.RecipientID != recipientID {
		return nil, ErrForbidden
	}

	return applyTransition(&invitation, AcceptAction)
}

// ManageInvitation applies a sender action (cancel, resend) to invitationID
// on behalf of senderID
func ManageInvitation(senderID uint, invitationID interface{}, action string) (*Invitation, error) {
	if !senderActions[action] {
		return nil, ErrInvalidTransition
	}

	invitation, err := FindInvitation(invitationID)
	if err != nil {
		return nil, err
	}

	if invitation.SenderID != senderID {
		return nil, ErrForbidden
	}

	if action == ResendAction && invitation.ResendCount >= MaxInvitationResends {
		return nil, ErrMaxResendsReached
	}

	return applyTransition(invitation, action)
}

// ExpireInvitations moves every open invitation past its expiry to 'expired'
// and returns how many were updated
func ExpireInvitations() (int64, error) {
	res := db.Model(&Invitation{}).
		Where("status IN ? AND expires_at <= ?", openInvitationStatuses, now()).
		Update("status", EXPIRED_INVITATION)

	return res.RowsAffected, res.Error
}

func FindInvitation(id interface{}) (*Invitation, error) {
	invitation := Invitation{}
	err := db.Preload("Sender", selectPublicUserFields).Preload("Recipient", selectPublicUserFields).
		First(&invitation, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &invitation, nil
}

// FetchInvitations returns a page of invitations where the user is the
// sender (sent=true) or the recipient, optionally filtered by status
func FetchInvitations(userID uint, sent bool, status string, page int) ([]Invitation, *Paging, error) {
	var total int64
	invitations := []Invitation{}

	query := func() *gorm.DB {
		q := db.Model(&Invitation{})
		if sent {
			q = q.Where("sender_id = ?", userID)
		} else {
			q = q.Where("recipient_id = ?", userID)
		}

		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}

	err := query().Count(&total).Error
	if err != nil {
		return nil, nil, err
	}

	err = query().Scopes(paginate(page, DEFAULT_PAGE_SIZE)).
		Preload("Sender", selectPublicUserFields).Preload("Recipient", selectPublicUserFields).
		Order("id desc").Find(&invitations).Error
	if err != nil {
		return nil, nil, err
	}

	return invitations, newPaging(page, DEFAULT_PAGE_SIZE, total), nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// applyTransition moves invitation through action with a conditional update, so
// two concurrent responses can't both succeed
func applyTransition(invitation *Invitation, action string) (*Invitation, error) {
	transition, ok := invitationTransitions[action]
	if !ok || !inList(transition.from, invitation.Status) {
		return nil, ErrInvalidTransition
	}

	currentTime := now()
	update := map[string]interface{}{"status": transition.to}

	switch action {
	case ResendAction:
		update["code"] = newInviteCode()
		update["expires_at"] = currentTime.Add(InvitationExpiry)
		update["resend_count"] = gorm.Expr("resend_count + 1")
		update["responded_at"] = nil
	case AcceptAction, DeclineAction, IgnoreAction:
		update["responded_at"] = currentTime
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&Invitation{}).
			Where("id = ? AND status IN ?", invitation.ID, transition.from)

		// Responses are only accepted before the invitation expires
		if recipientActions[action] {
			query = query.Where("expires_at > ?", currentTime)
		}

		if action == ResendAction {
			// Reopening must not create a second open invitation or re-invite a guardian
			err := checkInvitable(tx, invitation.SenderID, invitation.RecipientID, invitation.ID)
			if err != nil {
				return err
			}
			query = query.Where("resend_count < ?", MaxInvitationResends)
		}

		res := query.Updates(update)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 && action == ResendAction {
			return resendFailure(tx, invitation.ID)
		}

		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		if action == AcceptAction {
			return linkGuardian(tx, invitation)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return FindInvitation(invitation.ID)
}

// checkInvitable fails when recipientID already guards senderID, or when another
// open invitation between them exists. exceptID skips the invitation being reopened.
func checkInvitable(tx *gorm.DB, senderID, recipientID, exceptID uint) error {
	var count int64
	err := tx.Model(&EmergencyContact{}).
		Where("user_id = ? AND guardian_id = ?", senderID, recipientID).Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrAlreadyGuardian
	}

	err = tx.Model(&Invitation{}).
		Where("sender_id = ? AND recipient_id = ? AND id <> ? AND status IN ? AND expires_at > ?",
			senderID, recipientID, exceptID, openInvitationStatuses, now()).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateInvitation
	}

	return nil
}

// resendFailure tells a resend which lost the race for the last resend apart
// from one in the wrong state
func resendFailure(tx *gorm.DB, invitationID uint) error {
	current := Invitation{}
	err := tx.Select("resend_count").First(&current, invitationID).Error
	if err != nil {
		return err
	}

	if current.ResendCount >= MaxInvitationResends {
		return ErrMaxResendsReached
	}
	return ErrInvalidTransition
}

// linkGuardian adds the recipient to the sender's contacts as a guardian. If the
// sender already has a contact with the recipient's number, that contact is linked
// instead of creating a duplicate.
func linkGuardian(tx *gorm.DB, invitation *Invitation) error {
	recipient := User{}
	err := tx.Select(allFieldsExceptPassword).First(&recipient, invitation.RecipientID).Error
	if err != nil {
		return err
	}

	existing := EmergencyContact{}
	err = tx.Where("user_id = ? AND phone_number = ?", invitation.SenderID, recipient.PhoneNumber).
		First(&existing).Error

	if err == nil {
		update := map[string]interface{}{"guardian_id": recipient.ID}
		if invitation.Relationship != "" {
			update["relationship"] = invitation.Relationship
		}
		return tx.Model(&existing).Updates(update).Error
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	guardianID := recipient.ID
	return addContact(tx, invitation.SenderID, &EmergencyContact{
		Name:         recipient.FullName(),
		PhoneNumber:  recipient.PhoneNumber,
		Relationship: invitation.Relationship,
		GuardianID:   &guardianID,
	})
}

func newInviteCode() string {
	id := uuid.New()
	return codeEncoding.EncodeToString(id[:])[:INVITE_CODE_LENGTH]
}

func selectPublicUserFields(db *gorm.DB) *gorm.DB {
	return db.Select("id", "first_name", "last_name", "username")
}

func inList(list []string, item string) bool {
	for _, value := range list {
		if value == item {
			return true
		}
	}
	return false
}

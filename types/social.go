package types

import (
	"time"
)

// Contact is a directed relation from a local user to a person.
type Contact struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"userID" gorm:"uniqueIndex:uniq_contact"`
	PersonID  uint      `json:"personID" gorm:"uniqueIndex:uniq_contact"`
	Sharing   bool      `json:"sharing" gorm:"type:bool;default:false"`
	Receiving bool      `json:"receiving" gorm:"type:bool;default:false"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Contact) TableName() string { return "contacts" }

// Aspect is a named contact group.
type Aspect struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	UserID          uint   `json:"userID" gorm:"uniqueIndex:uniq_aspect"`
	Name            string `json:"name" gorm:"type:text;uniqueIndex:uniq_aspect"`
	ChatEnabled     bool   `json:"chatEnabled" gorm:"type:bool;default:false"`
	ContactsVisible bool   `json:"contactsVisible" gorm:"type:bool"`
	OrderID         int    `json:"orderID"`
}

func (Aspect) TableName() string { return "aspects" }

type AspectMembership struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	AspectID  uint `json:"aspectID" gorm:"uniqueIndex:uniq_aspect_membership"`
	ContactID uint `json:"contactID" gorm:"uniqueIndex:uniq_aspect_membership"`
}

func (AspectMembership) TableName() string { return "aspect_memberships" }

type Tag struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"type:text;uniqueIndex"`
}

func (Tag) TableName() string { return "tags" }

type TagFollowing struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	UserID uint `json:"userID" gorm:"uniqueIndex:uniq_tag_following"`
	TagID  uint `json:"tagID" gorm:"uniqueIndex:uniq_tag_following"`
}

func (TagFollowing) TableName() string { return "tag_followings" }

// Block is an ignored person.
type Block struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	UserID   uint `json:"userID" gorm:"index"`
	PersonID uint `json:"personID" gorm:"index"`
}

func (Block) TableName() string { return "blocks" }

type Role struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	PersonID uint   `json:"personID" gorm:"index"`
	Name     string `json:"name" gorm:"type:text"`
}

func (Role) TableName() string { return "roles" }

type Invitation struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	SenderID    uint   `json:"senderID" gorm:"index"`
	RecipientID *uint  `json:"recipientID" gorm:"index"`
	Identifier  string `json:"identifier" gorm:"type:text"`
}

func (Invitation) TableName() string { return "invitations" }

// Service is a connected third-party account.
type Service struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID uint   `json:"userID" gorm:"index"`
	Type   string `json:"type" gorm:"type:text"`
	UID    string `json:"uid" gorm:"type:text"`
}

func (Service) TableName() string { return "services" }

type ShareVisibility struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	UserID        uint   `json:"userID" gorm:"index"`
	ShareableID   uint   `json:"shareableID"`
	ShareableType string `json:"shareableType" gorm:"type:text"`
	Hidden        bool   `json:"hidden" gorm:"type:bool;default:false"`
}

func (ShareVisibility) TableName() string { return "share_visibilities" }

// Authorization is an OAuth grant.
type Authorization struct {
	ID                 uint   `json:"id" gorm:"primaryKey"`
	UserID             uint   `json:"userID" gorm:"index"`
	ApplicationID      uint   `json:"applicationID"`
	Scopes             string `json:"scopes" gorm:"type:text"`
}

func (Authorization) TableName() string { return "authorizations" }

type Report struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	UserID   uint   `json:"userID" gorm:"index"`
	ItemID   uint   `json:"itemID"`
	ItemType string `json:"itemType" gorm:"type:text"`
	Text     string `json:"text" gorm:"type:text"`
}

func (Report) TableName() string { return "reports" }

type Notification struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	RecipientID uint   `json:"recipientID" gorm:"index"`
	TargetType  string `json:"targetType" gorm:"type:text"`
	TargetID    uint   `json:"targetID"`
	Unread      bool   `json:"unread" gorm:"type:bool"`
}

func (Notification) TableName() string { return "notifications" }

type UserPreference struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	UserID    uint   `json:"userID" gorm:"index"`
	EmailType string `json:"emailType" gorm:"type:text"`
}

func (UserPreference) TableName() string { return "user_preferences" }

// PairwisePseudonymousIdentifier is deliberately scoped to one identity pair.
type PairwisePseudonymousIdentifier struct {
	ID               uint   `json:"id" gorm:"primaryKey"`
	UserID           uint   `json:"userID" gorm:"index"`
	GUID             string `json:"guid" gorm:"type:text"`
	SectorIdentifier string `json:"sectorIdentifier" gorm:"type:text"`
}

func (PairwisePseudonymousIdentifier) TableName() string { return "ppid" }

// AllModels lists every table the store migrates.
func AllModels() []any {
	return []any{
		&Pod{},
		&Person{},
		&Profile{},
		&User{},
		&Signature{},
		&AccountMigration{},
		&AccountDeletion{},
		&Post{},
		&Poll{},
		&PollAnswer{},
		&Location{},
		&Photo{},
		&Comment{},
		&Like{},
		&PollParticipation{},
		&Participation{},
		&Mention{},
		&Conversation{},
		&ConversationVisibility{},
		&Message{},
		&Contact{},
		&Aspect{},
		&AspectMembership{},
		&Tag{},
		&TagFollowing{},
		&Block{},
		&Role{},
		&Invitation{},
		&Service{},
		&ShareVisibility{},
		&Authorization{},
		&Report{},
		&Notification{},
		&UserPreference{},
		&PairwisePseudonymousIdentifier{},
	}
}

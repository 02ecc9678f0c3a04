package types

import (
	"time"
)

// Pod is a federation node we know about.
type Pod struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Host      string    `json:"host" gorm:"type:text;uniqueIndex"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Pod) TableName() string { return "pods" }

// Person is a federated identity, identified by its handle (user@pod).
// OwnerID is set only when the person is hosted on this pod.
type Person struct {
	ID                  uint      `json:"id" gorm:"primaryKey"`
	GUID                string    `json:"guid" gorm:"type:text;uniqueIndex"`
	Handle              string    `json:"handle" gorm:"type:text;uniqueIndex"`
	SerializedPublicKey string    `json:"publicKey" gorm:"type:text"`
	OwnerID             *uint     `json:"ownerID" gorm:"index"`
	PodID               *uint     `json:"podID"`
	ClosedAccount       bool      `json:"closedAccount" gorm:"type:bool;default:false"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (Person) TableName() string { return "people" }

// Remote reports whether the person is hosted elsewhere.
func (p Person) Remote() bool {
	return p.OwnerID == nil
}

// Profile is the public profile of a person.
type Profile struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	PersonID   uint   `json:"personID" gorm:"uniqueIndex"`
	FirstName  string `json:"firstName" gorm:"type:text"`
	LastName   string `json:"lastName" gorm:"type:text"`
	ImageURL   string `json:"imageURL" gorm:"type:text"`
	Bio        string `json:"bio" gorm:"type:text"`
	Birthday   string `json:"birthday" gorm:"type:text"`
	Gender     string `json:"gender" gorm:"type:text"`
	Location   string `json:"location" gorm:"type:text"`
	TagString  string `json:"tagString" gorm:"type:text"`
	Searchable bool   `json:"searchable" gorm:"type:bool"`
	Public     bool   `json:"public" gorm:"type:bool;default:false"`
	NSFW       bool   `json:"nsfw" gorm:"type:bool;default:false"`
}

func (Profile) TableName() string { return "profiles" }

// User is the local hosting record of a person.
type User struct {
	ID                             uint       `json:"id" gorm:"primaryKey"`
	Username                       string     `json:"username" gorm:"type:text;uniqueIndex"`
	Email                          string     `json:"email" gorm:"type:text"`
	EncryptedPassword              string     `json:"-" gorm:"type:text"`
	SerializedPrivateKey           string     `json:"-" gorm:"type:text"`
	Language                       string     `json:"language" gorm:"type:text"`
	StripExif                      bool       `json:"stripExif" gorm:"type:bool"`
	ShowCommunitySpotlightInStream bool       `json:"showCommunitySpotlightInStream" gorm:"type:bool"`
	DisableMail                    bool       `json:"disableMail" gorm:"type:bool;default:false"`
	AutoFollowBack                 bool       `json:"autoFollowBack" gorm:"type:bool;default:false"`
	AutoFollowBackAspectID         *uint      `json:"autoFollowBackAspectID"`
	InvitedByID                    *uint      `json:"invitedByID"`
	LockedAt                       *time.Time `json:"lockedAt"`
	ClosedAt                       *time.Time `json:"closedAt"`
	CreatedAt                      time.Time  `json:"createdAt"`
	UpdatedAt                      time.Time  `json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// Locked reports whether the user can no longer authenticate.
func (u User) Locked() bool {
	return u.LockedAt != nil
}

// Signature is an append only signature body owned by one account migration.
type Signature struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Body string `json:"body" gorm:"type:text;not null"`
}

func (Signature) TableName() string { return "signatures" }

// AccountMigration is a directed edge old person -> new person.
// Each person appears at most once on each side.
type AccountMigration struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	OldPersonID uint      `json:"oldPersonID" gorm:"uniqueIndex"`
	NewPersonID uint      `json:"newPersonID" gorm:"uniqueIndex"`
	SignatureID *uint     `json:"signatureID"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (AccountMigration) TableName() string { return "account_migrations" }

// AccountDeletion records a closed account.
type AccountDeletion struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	PersonID    uint       `json:"personID" gorm:"uniqueIndex"`
	CompletedAt *time.Time `json:"completedAt"`
}

func (AccountDeletion) TableName() string { return "account_deletions" }

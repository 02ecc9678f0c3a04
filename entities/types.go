package entities

import (
	"strings"
	"time"

	"github.com/concrnt/ccworld-migration/types"
)

// Entity is one federation entity of a known kind.
type Entity interface {
	Kind() Kind
	GetGUID() string
	GetAuthor() string
}

// Relayable is an entity subordinate to a root entity and signed by its author.
type Relayable interface {
	Entity
	GetParentGUID() string
	ParentType() string
	GetAuthorSignature() string
	SetAuthor(handle string)
	SetAuthorSignature(signature string)
	SignatureData() []byte
	Data() *types.RawObject
	PropertyOrder() []string
}

// Nested is an entity embedded inside another entity's data.
type Nested[T any] struct {
	EntityType string `json:"entity_type"`
	EntityData T      `json:"entity_data"`
}

type Profile struct {
	Author     string `json:"author"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Bio        string `json:"bio,omitempty"`
	Birthday   string `json:"birthday,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Location   string `json:"location,omitempty"`
	TagString  string `json:"tag_string,omitempty"`
	Searchable bool   `json:"searchable"`
	Public     bool   `json:"public"`
	NSFW       bool   `json:"nsfw"`
}

func (p *Profile) Kind() Kind        { return KindProfile }
func (p *Profile) GetGUID() string   { return "" }
func (p *Profile) GetAuthor() string { return p.Author }

type PollAnswer struct {
	GUID   string `json:"guid"`
	Answer string `json:"answer"`
}

type Poll struct {
	GUID        string               `json:"guid"`
	Question    string               `json:"question"`
	PollAnswers []Nested[PollAnswer] `json:"poll_answers"`
}

type Location struct {
	Address string `json:"address"`
	Lat     string `json:"lat"`
	Lng     string `json:"lng"`
}

type Photo struct {
	Author            string    `json:"author"`
	GUID              string    `json:"guid"`
	Public            bool      `json:"public"`
	CreatedAt         time.Time `json:"created_at"`
	RemotePhotoPath   string    `json:"remote_photo_path"`
	RemotePhotoName   string    `json:"remote_photo_name"`
	Text              string    `json:"text,omitempty"`
	StatusMessageGUID string    `json:"status_message_guid,omitempty"`
	Width             int       `json:"width"`
	Height            int       `json:"height"`
}

type StatusMessage struct {
	Author    string            `json:"author"`
	GUID      string            `json:"guid"`
	CreatedAt time.Time         `json:"created_at"`
	Text      string            `json:"text"`
	Public    bool              `json:"public"`
	Photos    []Nested[Photo]   `json:"photos,omitempty"`
	Location  *Nested[Location] `json:"location,omitempty"`
	Poll      *Nested[Poll]     `json:"poll,omitempty"`
}

func (s *StatusMessage) Kind() Kind        { return KindStatusMessage }
func (s *StatusMessage) GetGUID() string   { return s.GUID }
func (s *StatusMessage) GetAuthor() string { return s.Author }

// PollGUID returns the guid of the embedded poll, if any.
func (s *StatusMessage) PollGUID() string {
	if s.Poll == nil {
		return ""
	}
	return s.Poll.EntityData.GUID
}

type Reshare struct {
	Author     string    `json:"author"`
	GUID       string    `json:"guid"`
	CreatedAt  time.Time `json:"created_at"`
	RootAuthor string    `json:"root_author"`
	RootGUID   string    `json:"root_guid"`
}

func (r *Reshare) Kind() Kind        { return KindReshare }
func (r *Reshare) GetGUID() string   { return r.GUID }
func (r *Reshare) GetAuthor() string { return r.Author }

// RelayableBase carries the fields every relayable has plus the raw data the
// author signature is computed over.
type RelayableBase struct {
	Author          string `json:"author"`
	GUID            string `json:"guid"`
	ParentGUID      string `json:"parent_guid"`
	AuthorSignature string `json:"author_signature,omitempty"`

	raw   *types.RawObject
	order []string
}

func (r *RelayableBase) GetGUID() string            { return r.GUID }
func (r *RelayableBase) GetAuthor() string          { return r.Author }
func (r *RelayableBase) GetParentGUID() string      { return r.ParentGUID }
func (r *RelayableBase) GetAuthorSignature() string { return r.AuthorSignature }
func (r *RelayableBase) Data() *types.RawObject     { return r.raw }
func (r *RelayableBase) PropertyOrder() []string    { return r.order }

func (r *RelayableBase) SetAuthor(handle string) {
	r.Author = handle
	r.raw.Set("author", handle)
}

func (r *RelayableBase) SetAuthorSignature(signature string) {
	r.AuthorSignature = signature
	r.raw.Set("author_signature", signature)
}

// SignatureData joins the values of the ordered properties with ';'.
func (r *RelayableBase) SignatureData() []byte {
	values := make([]string, 0, len(r.order))
	for _, key := range r.order {
		if signatureProperties[key] {
			continue
		}
		values = append(values, r.raw.StringValue(key))
	}
	return []byte(strings.Join(values, ";"))
}

type Comment struct {
	RelayableBase
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Comment) Kind() Kind         { return KindComment }
func (c *Comment) ParentType() string { return ParentPost }

type Like struct {
	RelayableBase
	TargetType string `json:"parent_type"`
	Positive   bool   `json:"positive"`
}

func (l *Like) Kind() Kind { return KindLike }

func (l *Like) ParentType() string {
	if l.TargetType == "" {
		return ParentPost
	}
	return l.TargetType
}

type PollParticipation struct {
	RelayableBase
	PollAnswerGUID string `json:"poll_answer_guid"`
}

func (p *PollParticipation) Kind() Kind         { return KindPollParticipation }
func (p *PollParticipation) ParentType() string { return ParentPoll }

// AccountMigration announces that OldHandle moved to Profile.Author. The
// author is the old identity unless OldIdentity is set, in which case it is
// the new one. Signature is made over MigrationSignatureData by the identity
// that is not the author.
type AccountMigration struct {
	Author      string          `json:"author"`
	Profile     Nested[Profile] `json:"profile"`
	Signature   string          `json:"signature,omitempty"`
	OldIdentity string          `json:"old_identity,omitempty"`
}

func (a *AccountMigration) Kind() Kind        { return KindAccountMigration }
func (a *AccountMigration) GetGUID() string   { return a.OldHandle() + ":" + a.NewIdentity() }
func (a *AccountMigration) GetAuthor() string { return a.Author }

// NewIdentity is the handle the account migrated to.
func (a *AccountMigration) NewIdentity() string {
	return a.Profile.EntityData.Author
}

// OldHandle is the handle the account migrated from.
func (a *AccountMigration) OldHandle() string {
	if a.OldIdentity != "" {
		return a.OldIdentity
	}
	return a.Author
}

// Contact tells Recipient's pod how Author relates to Recipient.
type Contact struct {
	Author    string `json:"author"`
	Recipient string `json:"recipient"`
	Following bool   `json:"following"`
	Sharing   bool   `json:"sharing"`
	Blocking  bool   `json:"blocking"`
}

func (c *Contact) Kind() Kind        { return KindContact }
func (c *Contact) GetGUID() string   { return c.Author + ":" + c.Recipient }
func (c *Contact) GetAuthor() string { return c.Author }

package types

import (
	"time"
)

const (
	PostTypeStatusMessage = "StatusMessage"
	PostTypeReshare       = "Reshare"
)

// Post is a root entity: a status message or a reshare.
type Post struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	GUID      string    `json:"guid" gorm:"type:text;uniqueIndex"`
	Type      string    `json:"type" gorm:"type:text"`
	AuthorID  uint      `json:"authorID" gorm:"index"`
	Text      string    `json:"text" gorm:"type:text"`
	Public    bool      `json:"public" gorm:"type:bool;default:false"`
	RootGUID  string    `json:"rootGUID" gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Post) TableName() string { return "posts" }

type Poll struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	GUID            string `json:"guid" gorm:"type:text;uniqueIndex"`
	StatusMessageID uint   `json:"statusMessageID" gorm:"index"`
	Question        string `json:"question" gorm:"type:text"`
}

func (Poll) TableName() string { return "polls" }

type PollAnswer struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	GUID      string `json:"guid" gorm:"type:text;uniqueIndex"`
	PollID    uint   `json:"pollID" gorm:"index"`
	Answer    string `json:"answer" gorm:"type:text"`
	VoteCount int    `json:"voteCount" gorm:"default:0"`
}

func (PollAnswer) TableName() string { return "poll_answers" }

type Location struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	StatusMessageID uint   `json:"statusMessageID" gorm:"uniqueIndex"`
	Address         string `json:"address" gorm:"type:text"`
	Lat             string `json:"lat" gorm:"type:text"`
	Lng             string `json:"lng" gorm:"type:text"`
}

func (Location) TableName() string { return "locations" }

type Photo struct {
	ID                uint   `json:"id" gorm:"primaryKey"`
	GUID              string `json:"guid" gorm:"type:text;uniqueIndex"`
	AuthorID          uint   `json:"authorID" gorm:"index"`
	StatusMessageGUID string `json:"statusMessageGUID" gorm:"type:text;index"`
	Text              string `json:"text" gorm:"type:text"`
	RemotePhotoPath   string `json:"remotePhotoPath" gorm:"type:text"`
	RemotePhotoName   string `json:"remotePhotoName" gorm:"type:text"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	Public            bool   `json:"public" gorm:"type:bool;default:false"`
}

func (Photo) TableName() string { return "photos" }

// Comment, Like and PollParticipation are relayables: subordinate to a root
// entity and signed by their author.

type Comment struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	GUID            string    `json:"guid" gorm:"type:text;uniqueIndex"`
	AuthorID        uint      `json:"authorID" gorm:"index"`
	PostID          uint      `json:"postID" gorm:"index"`
	Text            string    `json:"text" gorm:"type:text"`
	AuthorSignature string    `json:"authorSignature" gorm:"type:text"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (Comment) TableName() string { return "comments" }

type Like struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	GUID            string `json:"guid" gorm:"type:text;uniqueIndex"`
	AuthorID        uint   `json:"authorID" gorm:"index"`
	TargetType      string `json:"targetType" gorm:"type:text"`
	TargetID        uint   `json:"targetID" gorm:"index"`
	Positive        bool   `json:"positive" gorm:"type:bool"`
	AuthorSignature string `json:"authorSignature" gorm:"type:text"`
}

func (Like) TableName() string { return "likes" }

type PollParticipation struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	GUID            string `json:"guid" gorm:"type:text;uniqueIndex"`
	AuthorID        uint   `json:"authorID" gorm:"index"`
	PollID          uint   `json:"pollID" gorm:"index"`
	PollAnswerID    uint   `json:"pollAnswerID"`
	AuthorSignature string `json:"authorSignature" gorm:"type:text"`
}

func (PollParticipation) TableName() string { return "poll_participations" }

// Participation subscribes a person to updates on a post.
type Participation struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	AuthorID uint `json:"authorID" gorm:"uniqueIndex:uniq_participation"`
	TargetID uint `json:"targetID" gorm:"uniqueIndex:uniq_participation"`
	Count    int  `json:"count" gorm:"default:1"`
}

func (Participation) TableName() string { return "participations" }

type Mention struct {
	ID                    uint   `json:"id" gorm:"primaryKey"`
	PersonID              uint   `json:"personID" gorm:"index"`
	MentionsContainerID   uint   `json:"mentionsContainerID"`
	MentionsContainerType string `json:"mentionsContainerType" gorm:"type:text"`
}

func (Mention) TableName() string { return "mentions" }

type Conversation struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	GUID     string `json:"guid" gorm:"type:text;uniqueIndex"`
	AuthorID uint   `json:"authorID" gorm:"index"`
	Subject  string `json:"subject" gorm:"type:text"`
}

func (Conversation) TableName() string { return "conversations" }

type ConversationVisibility struct {
	ID             uint `json:"id" gorm:"primaryKey"`
	ConversationID uint `json:"conversationID" gorm:"index"`
	PersonID       uint `json:"personID" gorm:"index"`
	Unread         int  `json:"unread"`
}

func (ConversationVisibility) TableName() string { return "conversation_visibilities" }

type Message struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	GUID           string `json:"guid" gorm:"type:text;uniqueIndex"`
	ConversationID uint   `json:"conversationID" gorm:"index"`
	AuthorID       uint   `json:"authorID" gorm:"index"`
	Text           string `json:"text" gorm:"type:text"`
}

func (Message) TableName() string { return "messages" }

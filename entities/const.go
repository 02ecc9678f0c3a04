package entities

// Kind is the entity_type tag of a federation entity.
type Kind string

const (
	KindProfile           Kind = "profile"
	KindStatusMessage     Kind = "status_message"
	KindReshare           Kind = "reshare"
	KindComment           Kind = "comment"
	KindLike              Kind = "like"
	KindPoll              Kind = "poll"
	KindPollAnswer        Kind = "poll_answer"
	KindPollParticipation Kind = "poll_participation"
	KindLocation          Kind = "location"
	KindPhoto             Kind = "photo"
	KindAccountMigration  Kind = "account_migration"
	KindContact           Kind = "contact"
)

// Parent types a relayable can hang off, as used by the fetch endpoint.
const (
	ParentPost    = "Post"
	ParentPoll    = "Poll"
	ParentComment = "Comment"
)

const (
	ArchiveVersion = "2.0"
)

var classNames = map[Kind]string{
	KindProfile:           "Profile",
	KindStatusMessage:     "StatusMessage",
	KindReshare:           "Reshare",
	KindComment:           "Comment",
	KindLike:              "Like",
	KindPoll:              "Poll",
	KindPollAnswer:        "PollAnswer",
	KindPollParticipation: "PollParticipation",
	KindLocation:          "Location",
	KindPhoto:             "Photo",
	KindAccountMigration:  "AccountMigration",
	KindContact:           "Contact",
}

// ClassName is the CamelCase name used in log lines and warnings.
func (k Kind) ClassName() string {
	if name, ok := classNames[k]; ok {
		return name
	}
	return string(k)
}

func (k Kind) Known() bool {
	_, ok := classNames[k]
	return ok
}

func (k Kind) IsRelayable() bool {
	return k == KindComment || k == KindLike || k == KindPollParticipation
}

func (k Kind) IsPost() bool {
	return k == KindStatusMessage || k == KindReshare
}

// signature properties never take part in signature data
var signatureProperties = map[string]bool{
	"author_signature":        true,
	"parent_author_signature": true,
}

var defaultPropertyOrder = map[Kind][]string{
	KindComment:           {"author", "guid", "parent_guid", "text", "created_at"},
	KindLike:              {"author", "guid", "parent_guid", "parent_type", "positive"},
	KindPollParticipation: {"author", "guid", "parent_guid", "poll_answer_guid"},
}

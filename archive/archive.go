// Package archive holds the user archive document: one user's identity and
// content as exported by a pod.
package archive

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/types"
)

var (
	ErrBadJSON = errors.New("bad json")
	ErrShape   = errors.New("archive does not match the expected shape")
)

// KeyError reports a mandatory key missing from the archive.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string {
	return "key not found: " + strconv.Quote(e.Key)
}

type Archive struct {
	Version    string     `json:"version"`
	User       User       `json:"user"`
	OthersData OthersData `json:"others_data"`

	raw *types.RawObject
}

type User struct {
	Username          string            `json:"username"`
	Email             string            `json:"email"`
	PrivateKey        string            `json:"private_key"`
	Profile           entities.Object   `json:"profile"`
	Contacts          []Contact         `json:"contacts"`
	ContactGroups     []ContactGroup    `json:"contact_groups"`
	FollowedTags      []string          `json:"followed_tags"`
	PostSubscriptions []string          `json:"post_subscriptions"`
	Posts             []entities.Object `json:"posts"`
	Relayables        []entities.Object `json:"relayables"`

	Language                       string `json:"language,omitempty"`
	StripExif                      *bool  `json:"strip_exif,omitempty"`
	ShowCommunitySpotlightInStream *bool  `json:"show_community_spotlight_in_stream,omitempty"`
	DisableMail                    *bool  `json:"disable_mail,omitempty"`
	AutoFollowBack                 *bool  `json:"auto_follow_back,omitempty"`
	AutoFollowBackAspect           string `json:"auto_follow_back_aspect,omitempty"`
}

type Contact struct {
	AccountID               string   `json:"account_id"`
	PersonGUID              string   `json:"person_guid,omitempty"`
	PersonName              string   `json:"person_name,omitempty"`
	Sharing                 bool     `json:"sharing"`
	Receiving               bool     `json:"receiving"`
	Following               bool     `json:"following,omitempty"`
	Followed                bool     `json:"followed,omitempty"`
	ContactGroupsMembership []string `json:"contact_groups_membership"`
}

// ContactGroup is an archived aspect.
type ContactGroup struct {
	Name            string `json:"name"`
	ChatEnabled     bool   `json:"chat_enabled"`
	ContactsVisible *bool  `json:"contacts_visible,omitempty"`
}

type OthersData struct {
	Relayables []entities.Object `json:"relayables"`
}

// Parse decodes an archive. Syntax errors wrap ErrBadJSON, values of the
// wrong type wrap ErrShape.
func Parse(data []byte) (*Archive, error) {
	raw, err := types.LoadAsRawObject(data)
	if err != nil {
		return nil, errors.Wrap(ErrBadJSON, err.Error())
	}
	if raw.GetData() == nil {
		return nil, errors.Wrap(ErrBadJSON, "archive is not an object")
	}

	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(ErrShape, err.Error())
	}
	a.raw = raw
	return &a, nil
}

// Raw returns the undecoded document, for checks on key presence.
func (a *Archive) Raw() *types.RawObject {
	return a.raw
}

// Author is the handle the archive was exported from.
func (a *Archive) Author() string {
	author, _ := a.raw.GetString("user.profile.entity_data.author")
	return author
}

// PostByGUID finds an archived post.
func (a *Archive) PostByGUID(guid string) (entities.Object, bool) {
	for _, post := range a.User.Posts {
		raw, err := post.Raw()
		if err != nil {
			continue
		}
		if raw.MustGetString("guid") == guid {
			return post, true
		}
	}
	return entities.Object{}, false
}

// PostByPollGUID finds the archived post embedding a poll.
func (a *Archive) PostByPollGUID(guid string) (entities.Object, bool) {
	for _, post := range a.User.Posts {
		raw, err := post.Raw()
		if err != nil {
			continue
		}
		if pollGUID, ok := raw.GetString("poll.entity_data.guid"); ok && pollGUID == guid {
			return post, true
		}
	}
	return entities.Object{}, false
}

// RelayableByGUID finds a relayable of kind among own and others' relayables.
func (a *Archive) RelayableByGUID(kind entities.Kind, guid string) (entities.Object, bool) {
	for _, list := range [][]entities.Object{a.User.Relayables, a.OthersData.Relayables} {
		for _, object := range list {
			if object.Kind() != kind {
				continue
			}
			raw, err := object.Raw()
			if err != nil {
				continue
			}
			if raw.MustGetString("guid") == guid {
				return object, true
			}
		}
	}
	return entities.Object{}, false
}

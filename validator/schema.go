package validator

import (
	"context"
	"fmt"

	"github.com/concrnt/ccworld-migration/archive"
	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/types"
)

// SchemaValidator checks the archive version and that every mandatory key
// is present.
type SchemaValidator struct{}

func (v *SchemaValidator) Name() string { return "SchemaValidator" }

func (v *SchemaValidator) Validate(ctx context.Context, in *Input) ([]string, error) {
	raw := in.Archive.Raw()
	var messages []string

	for _, key := range []string{"version", "user", "user.profile", "user.profile.entity_data.author"} {
		if !raw.Has(key) {
			return nil, &archive.KeyError{Key: key}
		}
	}

	if in.Archive.Version != entities.ArchiveVersion {
		messages = append(messages, fmt.Sprintf("Archive version %q is not supported", in.Archive.Version))
	}
	if _, err := entities.NormalizeHandle(in.Archive.Author()); err != nil {
		messages = append(messages, fmt.Sprintf("Archive author %q is not a valid account id", in.Archive.Author()))
	}
	if in.Archive.User.Profile.Kind() != entities.KindProfile {
		messages = append(messages, fmt.Sprintf("Archive profile has entity type %q", in.Archive.User.Profile.EntityType))
	}

	for i, post := range in.Archive.User.Posts {
		msg, err := checkObject(post, fmt.Sprintf("user.posts[%d]", i), entities.Kind.IsPost, "guid")
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg...)
	}

	lists := map[string][]entities.Object{
		"user.relayables":        in.Archive.User.Relayables,
		"others_data.relayables": in.Archive.OthersData.Relayables,
	}
	for _, name := range []string{"user.relayables", "others_data.relayables"} {
		for i, relayable := range lists[name] {
			msg, err := checkObject(relayable, fmt.Sprintf("%s[%d]", name, i), entities.Kind.IsRelayable, "guid", "parent_guid", "author")
			if err != nil {
				return nil, err
			}
			messages = append(messages, msg...)
		}
	}

	for i, contact := range in.Archive.User.Contacts {
		if contact.AccountID == "" {
			return nil, &archive.KeyError{Key: fmt.Sprintf("user.contacts[%d].account_id", i)}
		}
	}

	return messages, nil
}

func checkObject(object entities.Object, path string, allowed func(entities.Kind) bool, keys ...string) ([]string, error) {
	if object.EntityType == "" {
		return nil, &archive.KeyError{Key: path + ".entity_type"}
	}
	if !allowed(object.Kind()) {
		return []string{fmt.Sprintf("%s has unsupported entity type %q", path, object.EntityType)}, nil
	}

	raw, err := object.Raw()
	if err != nil {
		return []string{fmt.Sprintf("%s has malformed entity data: %s", path, err)}, nil
	}
	if len(object.EntityData) == 0 {
		return nil, &archive.KeyError{Key: path + ".entity_data"}
	}
	return nil, requireKeys(raw, path+".entity_data", keys...)
}

func requireKeys(raw *types.RawObject, path string, keys ...string) error {
	for _, key := range keys {
		if _, ok := raw.GetString(key); !ok {
			return &archive.KeyError{Key: path + "." + key}
		}
	}
	return nil
}

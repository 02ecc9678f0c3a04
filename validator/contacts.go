package validator

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
)

// migration chains longer than this are treated as broken
const maxMigrationHops = 8

// ContactsValidator drops contacts that cannot be imported and resolves
// contacts that migrated to their current identity.
type ContactsValidator struct {
	people *people
}

func (v *ContactsValidator) Name() string { return "ContactsValidator" }

func (v *ContactsValidator) Validate(ctx context.Context, in *Input) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Validator.ContactsValidator.Validate")
	defer span.End()

	var messages []string
	seen := map[string]bool{}

	for i, contact := range in.Archive.User.Contacts {
		handle, err := entities.NormalizeHandle(contact.AccountID)
		if err != nil {
			messages = append(messages, fmt.Sprintf("Contact %s has an invalid account id, ignoring.", contact.AccountID))
			in.Resolution.ExcludeContact(i)
			continue
		}

		resolved, err := v.resolve(ctx, handle)
		if err != nil {
			if !errors.Is(err, errUnknownPerson) && !errors.Is(err, errClosed) {
				span.RecordError(err)
				return nil, err
			}
			messages = append(messages, fmt.Sprintf("Contact %s %s, ignoring.", contact.AccountID, reason(err)))
			in.Resolution.ExcludeContact(i)
			continue
		}

		if seen[resolved] {
			messages = append(messages, fmt.Sprintf("Contact %s is listed more than once, ignoring the duplicate.", contact.AccountID))
			in.Resolution.ExcludeContact(i)
			continue
		}
		seen[resolved] = true
		in.Resolution.ResolveContact(i, resolved)
	}

	return messages, nil
}

var errClosed = errors.New("closed their account")

// resolve follows account migrations from handle to the identity in use.
func (v *ContactsValidator) resolve(ctx context.Context, handle string) (string, error) {
	for hop := 0; hop < maxMigrationHops; hop++ {
		person, err := v.people.lookup(ctx, handle)
		if err != nil {
			return "", err
		}
		if person.Local == nil || !person.Local.ClosedAccount {
			return person.Handle, nil
		}

		migration, err := v.people.store.GetMigrationByOldPerson(ctx, person.Local.ID)
		if store.IsNotFound(err) {
			return "", errClosed
		}
		if err != nil {
			return "", err
		}
		next, err := v.people.store.GetPersonByID(ctx, migration.NewPersonID)
		if err != nil {
			return "", err
		}
		handle = next.Handle
	}
	return "", errClosed
}

func reason(err error) string {
	if errors.Is(err, errClosed) {
		return "closed their account"
	}
	return "could not be found"
}

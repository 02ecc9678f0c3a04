package validator

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/concrnt/ccworld-migration/archive"
	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
)

var errUnknownPerson = errors.New("person cannot be resolved")

// people looks identities up without storing anything: validation must not
// leave records behind.
type people struct {
	store      *store.Store
	discoverer Discoverer
}

type knownPerson struct {
	Handle    string
	PublicKey string
	// Local is set when the person is already stored.
	Local *types.Person
}

func (p *people) lookup(ctx context.Context, handle string) (knownPerson, error) {
	person, err := p.store.GetPersonByHandle(ctx, handle)
	if err == nil {
		return knownPerson{person.Handle, person.SerializedPublicKey, &person}, nil
	}
	if !store.IsNotFound(err) {
		return knownPerson{}, err
	}
	if p.discoverer == nil {
		return knownPerson{}, errUnknownPerson
	}

	doc, err := p.discoverer.Discover(ctx, handle)
	if err != nil {
		return knownPerson{}, errors.Wrap(errUnknownPerson, err.Error())
	}
	return knownPerson{Handle: handle, PublicKey: doc.PublicKey}, nil
}

// AuthorPrivateKeyValidator checks that the archived private key belongs to
// the archive author. It is skipped when the author cannot be resolved.
type AuthorPrivateKeyValidator struct {
	people *people
}

func (v *AuthorPrivateKeyValidator) Name() string { return "AuthorPrivateKeyValidator" }

func (v *AuthorPrivateKeyValidator) Validate(ctx context.Context, in *Input) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Validator.AuthorPrivateKeyValidator.Validate")
	defer span.End()

	if !in.Archive.Raw().Has("user.private_key") {
		return nil, &archive.KeyError{Key: "user.private_key"}
	}
	priv, err := entities.ParsePrivateKey(in.Archive.User.PrivateKey)
	if err != nil {
		return []string{"Private key in the archive is not a valid RSA key"}, nil
	}

	handle, err := entities.NormalizeHandle(in.Archive.Author())
	if err != nil {
		return nil, nil
	}

	person, err := v.people.lookup(ctx, handle)
	if errors.Is(err, errUnknownPerson) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	pub, err := entities.ParsePublicKey(person.PublicKey)
	if err == nil && entities.SamePublicKey(pub, &priv.PublicKey) {
		return nil, nil
	}
	return []string{fmt.Sprintf("Private key in the archive doesn't match the known key of %s", person.Handle)}, nil
}

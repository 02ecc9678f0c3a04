package importer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/concrnt/ccworld-migration/archive"
	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrUsernameTaken   = errors.New("username is already taken")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// CreateUser creates the local account an archive is imported into. Only the
// allow-listed settings are taken from the archive; the password is random
// and the account gets a fresh key pair.
func (i *Importer) CreateUser(ctx context.Context, a *archive.Archive, username, email string) (types.User, types.Person, error) {
	ctx, span := tracer.Start(ctx, "Importer.CreateUser")
	defer span.End()

	username = strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(username) {
		return types.User{}, types.Person{}, errors.Wrap(ErrInvalidUsername, username)
	}

	password := make([]byte, 16)
	if _, err := rand.Read(password); err != nil {
		return types.User{}, types.Person{}, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(password)), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, types.Person{}, errors.Wrap(err, "failed to hash password")
	}

	key, err := entities.GenerateKey(i.KeyBits)
	if err != nil {
		return types.User{}, types.Person{}, errors.Wrap(err, "failed to generate key")
	}
	pub, err := entities.ExportPublicKey(&key.PublicKey)
	if err != nil {
		return types.User{}, types.Person{}, err
	}

	settings := a.User
	user := types.User{
		Username:                       username,
		Email:                          settings.Email,
		EncryptedPassword:              string(hashed),
		SerializedPrivateKey:           entities.ExportPrivateKey(key),
		Language:                       settings.Language,
		StripExif:                      boolOr(settings.StripExif, true),
		ShowCommunitySpotlightInStream: boolOr(settings.ShowCommunitySpotlightInStream, true),
		DisableMail:                    boolOr(settings.DisableMail, false),
		AutoFollowBack:                 boolOr(settings.AutoFollowBack, false),
	}
	if email != "" {
		user.Email = email
	}
	if user.Language == "" {
		user.Language = "en"
	}

	var profile types.Profile
	if entity, err := entities.Parse(a.User.Profile); err == nil {
		if p, ok := entity.(*entities.Profile); ok {
			profile = types.Profile{
				FirstName:  p.FirstName,
				LastName:   p.LastName,
				ImageURL:   p.ImageURL,
				Bio:        p.Bio,
				Birthday:   p.Birthday,
				Gender:     p.Gender,
				Location:   p.Location,
				TagString:  p.TagString,
				Searchable: p.Searchable,
				Public:     p.Public,
				NSFW:       p.NSFW,
			}
		}
	}

	user, person, err := i.store.CreateUser(ctx, user, types.Person{
		GUID:                entities.NewGUID(),
		Handle:              i.pod.Handle(username),
		SerializedPublicKey: pub,
	}, profile)
	if store.IsDuplicate(err) {
		return user, person, errors.Wrap(ErrUsernameTaken, username)
	}
	if err != nil {
		span.RecordError(err)
		return user, person, err
	}

	i.logger.Info("created user", "username", username, "handle", person.Handle)
	return user, person, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

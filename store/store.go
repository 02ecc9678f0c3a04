package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/concrnt/ccworld-migration/types"
)

var tracer = otel.Tracer("store")

var ErrAlreadyClosed = errors.New("account is already closed")

// Store is the persistent store of people, users and their content.
type Store struct {
	db *gorm.DB
}

// NewStore returns a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(types.AllModels()...)
}

// Transaction runs fn against a Store bound to a single database transaction.
// Returning an error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	ctx, span := tracer.Start(ctx, "Store.Transaction")
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// IsDuplicate reports whether err comes from a unique constraint.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// FindOrCreatePod returns the pod for host, creating it if needed.
func (s *Store) FindOrCreatePod(ctx context.Context, host string) (types.Pod, error) {
	ctx, span := tracer.Start(ctx, "Store.FindOrCreatePod")
	defer span.End()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&types.Pod{Host: host}).Error
	if err != nil {
		return types.Pod{}, err
	}
	var pod types.Pod
	err = s.db.WithContext(ctx).Where("host = ?", host).First(&pod).Error
	return pod, err
}

// GetPersonByID returns a person by ID.
func (s *Store) GetPersonByID(ctx context.Context, id uint) (types.Person, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPersonByID")
	defer span.End()

	var person types.Person
	err := s.db.WithContext(ctx).First(&person, id).Error
	return person, err
}

// GetPersonByHandle returns a person by handle.
func (s *Store) GetPersonByHandle(ctx context.Context, handle string) (types.Person, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPersonByHandle")
	defer span.End()

	var person types.Person
	err := s.db.WithContext(ctx).Where("handle = ?", handle).First(&person).Error
	return person, err
}

func (s *Store) GetPersonByGUID(ctx context.Context, guid string) (types.Person, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPersonByGUID")
	defer span.End()

	var person types.Person
	err := s.db.WithContext(ctx).Where("guid = ?", guid).First(&person).Error
	return person, err
}

// GetPersonByOwner returns the person hosted by a local user.
func (s *Store) GetPersonByOwner(ctx context.Context, userID uint) (types.Person, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPersonByOwner")
	defer span.End()

	var person types.Person
	err := s.db.WithContext(ctx).Where("owner_id = ?", userID).First(&person).Error
	return person, err
}

// CreatePerson creates a person and its profile.
func (s *Store) CreatePerson(ctx context.Context, person types.Person, profile types.Profile) (types.Person, error) {
	ctx, span := tracer.Start(ctx, "Store.CreatePerson")
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&person).Error; err != nil {
			return err
		}
		profile.PersonID = person.ID
		return tx.Create(&profile).Error
	})
	if err != nil {
		span.RecordError(err)
	}
	return person, err
}

// CloseAccount tombstones a person. Closing a closed person yields
// ErrAlreadyClosed.
func (s *Store) CloseAccount(ctx context.Context, personID uint) error {
	ctx, span := tracer.Start(ctx, "Store.CloseAccount")
	defer span.End()

	result := s.db.WithContext(ctx).Model(&types.Person{}).
		Where("id = ? AND closed_account = ?", personID, false).
		Update("closed_account", true)
	if result.Error != nil {
		span.RecordError(result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetPersonByID(ctx, personID); err != nil {
			return err
		}
		return ErrAlreadyClosed
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, personID uint) (types.Profile, error) {
	ctx, span := tracer.Start(ctx, "Store.GetProfile")
	defer span.End()

	var profile types.Profile
	err := s.db.WithContext(ctx).Where("person_id = ?", personID).First(&profile).Error
	return profile, err
}

// UpsertProfile replaces the profile of profile.PersonID.
func (s *Store) UpsertProfile(ctx context.Context, profile types.Profile) (types.Profile, error) {
	ctx, span := tracer.Start(ctx, "Store.UpsertProfile")
	defer span.End()

	if profile.ID != 0 {
		err := s.db.WithContext(ctx).Save(&profile).Error
		return profile, err
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "person_id"}},
		UpdateAll: true,
	}).Create(&profile).Error
	return profile, err
}

// ClearProfile wipes every public field of a profile.
func (s *Store) ClearProfile(ctx context.Context, personID uint) error {
	ctx, span := tracer.Start(ctx, "Store.ClearProfile")
	defer span.End()

	return s.db.WithContext(ctx).Model(&types.Profile{}).Where("person_id = ?", personID).Updates(map[string]any{
		"first_name": "",
		"last_name":  "",
		"image_url":  "",
		"bio":        "",
		"birthday":   "",
		"gender":     "",
		"location":   "",
		"tag_string": "",
		"searchable": false,
		"public":     false,
		"nsfw":       false,
	}).Error
}

// CreateUser creates a local user together with the person it hosts.
func (s *Store) CreateUser(ctx context.Context, user types.User, person types.Person, profile types.Profile) (types.User, types.Person, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateUser")
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		person.OwnerID = &user.ID
		if err := tx.Create(&person).Error; err != nil {
			return err
		}
		profile.PersonID = person.ID
		return tx.Create(&profile).Error
	})
	if err != nil {
		span.RecordError(err)
	}
	return user, person, err
}

func (s *Store) GetUserByID(ctx context.Context, id uint) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Store.GetUserByID")
	defer span.End()

	var user types.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	return user, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Store.GetUserByUsername")
	defer span.End()

	var user types.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	return user, err
}

// LockUser stops a user from authenticating.
func (s *Store) LockUser(ctx context.Context, id uint) error {
	ctx, span := tracer.Start(ctx, "Store.LockUser")
	defer span.End()

	return s.db.WithContext(ctx).Model(&types.User{}).
		Where("id = ? AND locked_at IS NULL", id).
		Update("locked_at", time.Now()).Error
}

// CloseUser closes a user account that moved to another pod.
func (s *Store) CloseUser(ctx context.Context, id uint) error {
	ctx, span := tracer.Start(ctx, "Store.CloseUser")
	defer span.End()

	now := time.Now()
	return s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", id).Updates(map[string]any{
		"closed_at":          now,
		"locked_at":          gorm.Expr("COALESCE(locked_at, ?)", now),
		"encrypted_password": "",
	}).Error
}

// TombstoneUser closes a user and wipes its personal data. The username stays
// reserved.
func (s *Store) TombstoneUser(ctx context.Context, id uint) error {
	ctx, span := tracer.Start(ctx, "Store.TombstoneUser")
	defer span.End()

	now := time.Now()
	return s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", id).Updates(map[string]any{
		"closed_at":              now,
		"locked_at":              gorm.Expr("COALESCE(locked_at, ?)", now),
		"email":                  "",
		"encrypted_password":     "",
		"serialized_private_key": "",
		"language":               "",
		"disable_mail":           true,
		"auto_follow_back":       false,
	}).Error
}

// CreateAccountMigration stores a migration and its optional signature.
// A person already used on the same side yields gorm.ErrDuplicatedKey.
func (s *Store) CreateAccountMigration(ctx context.Context, migration types.AccountMigration, signature *types.Signature) (types.AccountMigration, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateAccountMigration")
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if signature != nil {
			if err := tx.Create(signature).Error; err != nil {
				return err
			}
			migration.SignatureID = &signature.ID
		}
		return tx.Create(&migration).Error
	})
	if err != nil {
		span.RecordError(err)
	}
	return migration, err
}

func (s *Store) GetMigrationByID(ctx context.Context, id uint) (types.AccountMigration, error) {
	ctx, span := tracer.Start(ctx, "Store.GetMigrationByID")
	defer span.End()

	var migration types.AccountMigration
	err := s.db.WithContext(ctx).First(&migration, id).Error
	return migration, err
}

func (s *Store) GetMigrationByOldPerson(ctx context.Context, personID uint) (types.AccountMigration, error) {
	ctx, span := tracer.Start(ctx, "Store.GetMigrationByOldPerson")
	defer span.End()

	var migration types.AccountMigration
	err := s.db.WithContext(ctx).Where("old_person_id = ?", personID).First(&migration).Error
	return migration, err
}

func (s *Store) GetMigrationByNewPerson(ctx context.Context, personID uint) (types.AccountMigration, error) {
	ctx, span := tracer.Start(ctx, "Store.GetMigrationByNewPerson")
	defer span.End()

	var migration types.AccountMigration
	err := s.db.WithContext(ctx).Where("new_person_id = ?", personID).First(&migration).Error
	return migration, err
}

// AttachSignature stores a signature on a migration that has none yet.
func (s *Store) AttachSignature(ctx context.Context, migrationID uint, body string) (types.Signature, error) {
	ctx, span := tracer.Start(ctx, "Store.AttachSignature")
	defer span.End()

	signature := types.Signature{Body: body}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&signature).Error; err != nil {
			return err
		}
		result := tx.Model(&types.AccountMigration{}).
			Where("id = ? AND signature_id IS NULL", migrationID).
			Update("signature_id", signature.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.New("migration already carries a signature")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return signature, err
}

func (s *Store) GetSignature(ctx context.Context, id uint) (types.Signature, error) {
	ctx, span := tracer.Start(ctx, "Store.GetSignature")
	defer span.End()

	var signature types.Signature
	err := s.db.WithContext(ctx).First(&signature, id).Error
	return signature, err
}

// SetAutoFollowBackAspect points a user's auto follow back at an aspect.
func (s *Store) SetAutoFollowBackAspect(ctx context.Context, userID, aspectID uint) error {
	ctx, span := tracer.Start(ctx, "Store.SetAutoFollowBackAspect")
	defer span.End()

	return s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", userID).Update("auto_follow_back_aspect_id", aspectID).Error
}

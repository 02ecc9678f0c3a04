package store

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/concrnt/ccworld-migration/types"
)

// CreateContact creates a contact. An existing (user, person) pair yields
// gorm.ErrDuplicatedKey.
func (s *Store) CreateContact(ctx context.Context, contact types.Contact) (types.Contact, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateContact")
	defer span.End()

	err := s.db.WithContext(ctx).Create(&contact).Error
	return contact, err
}

func (s *Store) UpdateContact(ctx context.Context, contact types.Contact) (types.Contact, error) {
	ctx, span := tracer.Start(ctx, "Store.UpdateContact")
	defer span.End()

	err := s.db.WithContext(ctx).Save(&contact).Error
	return contact, err
}

// GetContact returns the contact of a user towards a person.
func (s *Store) GetContact(ctx context.Context, userID, personID uint) (types.Contact, error) {
	ctx, span := tracer.Start(ctx, "Store.GetContact")
	defer span.End()

	var contact types.Contact
	err := s.db.WithContext(ctx).Where("user_id = ? AND person_id = ?", userID, personID).First(&contact).Error
	return contact, err
}

// GetContactsByUser returns every contact owned by a user.
func (s *Store) GetContactsByUser(ctx context.Context, userID uint) ([]types.Contact, error) {
	ctx, span := tracer.Start(ctx, "Store.GetContactsByUser")
	defer span.End()

	var contacts []types.Contact
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&contacts).Error
	return contacts, err
}

// GetSharingContactsOfPerson returns the local contacts sharing with a person.
func (s *Store) GetSharingContactsOfPerson(ctx context.Context, personID uint) ([]types.Contact, error) {
	ctx, span := tracer.Start(ctx, "Store.GetSharingContactsOfPerson")
	defer span.End()

	var contacts []types.Contact
	err := s.db.WithContext(ctx).Where("person_id = ? AND sharing = ?", personID, true).Order("id").Find(&contacts).Error
	return contacts, err
}

// GetRemoteContactPeople returns the remote people a user has contacts with.
func (s *Store) GetRemoteContactPeople(ctx context.Context, userID uint) ([]types.Person, error) {
	ctx, span := tracer.Start(ctx, "Store.GetRemoteContactPeople")
	defer span.End()

	var people []types.Person
	err := s.db.WithContext(ctx).
		Joins("JOIN contacts ON contacts.person_id = people.id").
		Where("contacts.user_id = ? AND people.owner_id IS NULL", userID).
		Order("people.id").
		Find(&people).Error
	return people, err
}

// CreateAspect creates an aspect. A name already used by the user yields
// gorm.ErrDuplicatedKey.
func (s *Store) CreateAspect(ctx context.Context, aspect types.Aspect) (types.Aspect, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateAspect")
	defer span.End()

	err := s.db.WithContext(ctx).Create(&aspect).Error
	return aspect, err
}

func (s *Store) GetAspectByName(ctx context.Context, userID uint, name string) (types.Aspect, error) {
	ctx, span := tracer.Start(ctx, "Store.GetAspectByName")
	defer span.End()

	var aspect types.Aspect
	err := s.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(&aspect).Error
	return aspect, err
}

func (s *Store) GetAspects(ctx context.Context, userID uint) ([]types.Aspect, error) {
	ctx, span := tracer.Start(ctx, "Store.GetAspects")
	defer span.End()

	var aspects []types.Aspect
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("order_id, id").Find(&aspects).Error
	return aspects, err
}

// AddToAspect puts a contact into an aspect. Repeated calls are no-ops.
func (s *Store) AddToAspect(ctx context.Context, aspectID, contactID uint) error {
	ctx, span := tracer.Start(ctx, "Store.AddToAspect")
	defer span.End()

	membership := types.AspectMembership{AspectID: aspectID, ContactID: contactID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&membership).Error
}

func (s *Store) GetAspectMemberships(ctx context.Context, contactID uint) ([]types.AspectMembership, error) {
	ctx, span := tracer.Start(ctx, "Store.GetAspectMemberships")
	defer span.End()

	var memberships []types.AspectMembership
	err := s.db.WithContext(ctx).Where("contact_id = ?", contactID).Find(&memberships).Error
	return memberships, err
}

// FindOrCreateTag returns the tag called name, creating it if needed.
func (s *Store) FindOrCreateTag(ctx context.Context, name string) (types.Tag, error) {
	ctx, span := tracer.Start(ctx, "Store.FindOrCreateTag")
	defer span.End()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&types.Tag{Name: name}).Error
	if err != nil {
		return types.Tag{}, err
	}
	var tag types.Tag
	err = s.db.WithContext(ctx).Where("name = ?", name).First(&tag).Error
	return tag, err
}

// FollowTag makes a user follow a tag. Following twice yields
// gorm.ErrDuplicatedKey.
func (s *Store) FollowTag(ctx context.Context, userID, tagID uint) error {
	ctx, span := tracer.Start(ctx, "Store.FollowTag")
	defer span.End()

	return s.db.WithContext(ctx).Create(&types.TagFollowing{UserID: userID, TagID: tagID}).Error
}

func (s *Store) GetFollowedTags(ctx context.Context, userID uint) ([]types.Tag, error) {
	ctx, span := tracer.Start(ctx, "Store.GetFollowedTags")
	defer span.End()

	var tags []types.Tag
	err := s.db.WithContext(ctx).
		Joins("JOIN tag_followings ON tag_followings.tag_id = tags.id").
		Where("tag_followings.user_id = ?", userID).
		Order("tags.name").
		Find(&tags).Error
	return tags, err
}

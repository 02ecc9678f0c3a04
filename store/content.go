package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/concrnt/ccworld-migration/types"
)

// PostBundle is a post with the children created along with it.
type PostBundle struct {
	Post     types.Post
	Poll     *types.Poll
	Answers  []types.PollAnswer
	Location *types.Location
	Photos   []types.Photo
}

// GUIDExists reports whether a row of model carries guid.
func (s *Store) GUIDExists(ctx context.Context, model any, guid string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.GUIDExists")
	defer span.End()

	var count int64
	err := s.db.WithContext(ctx).Model(model).Where("guid = ?", guid).Count(&count).Error
	return count > 0, err
}

// CreatePost creates a post and its children atomically.
func (s *Store) CreatePost(ctx context.Context, bundle PostBundle) (types.Post, error) {
	ctx, span := tracer.Start(ctx, "Store.CreatePost")
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&bundle.Post).Error; err != nil {
			return err
		}
		if bundle.Poll != nil {
			bundle.Poll.StatusMessageID = bundle.Post.ID
			if err := tx.Create(bundle.Poll).Error; err != nil {
				return err
			}
			for i := range bundle.Answers {
				bundle.Answers[i].PollID = bundle.Poll.ID
			}
			if len(bundle.Answers) > 0 {
				if err := tx.Create(&bundle.Answers).Error; err != nil {
					return err
				}
			}
		}
		if bundle.Location != nil {
			bundle.Location.StatusMessageID = bundle.Post.ID
			if err := tx.Create(bundle.Location).Error; err != nil {
				return err
			}
		}
		for _, photo := range bundle.Photos {
			photo.StatusMessageGUID = bundle.Post.GUID
			photo.AuthorID = bundle.Post.AuthorID
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&photo).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return bundle.Post, err
}

func (s *Store) GetPostByGUID(ctx context.Context, guid string) (types.Post, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPostByGUID")
	defer span.End()

	var post types.Post
	err := s.db.WithContext(ctx).Where("guid = ?", guid).First(&post).Error
	return post, err
}

func (s *Store) GetPostByID(ctx context.Context, id uint) (types.Post, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPostByID")
	defer span.End()

	var post types.Post
	err := s.db.WithContext(ctx).First(&post, id).Error
	return post, err
}

func (s *Store) GetPollByGUID(ctx context.Context, guid string) (types.Poll, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPollByGUID")
	defer span.End()

	var poll types.Poll
	err := s.db.WithContext(ctx).Where("guid = ?", guid).First(&poll).Error
	return poll, err
}

func (s *Store) GetPollAnswerByGUID(ctx context.Context, guid string) (types.PollAnswer, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPollAnswerByGUID")
	defer span.End()

	var answer types.PollAnswer
	err := s.db.WithContext(ctx).Where("guid = ?", guid).First(&answer).Error
	return answer, err
}

func (s *Store) GetCommentByGUID(ctx context.Context, guid string) (types.Comment, error) {
	ctx, span := tracer.Start(ctx, "Store.GetCommentByGUID")
	defer span.End()

	var comment types.Comment
	err := s.db.WithContext(ctx).Where("guid = ?", guid).First(&comment).Error
	return comment, err
}

func (s *Store) CreateComment(ctx context.Context, comment types.Comment) (types.Comment, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateComment")
	defer span.End()

	err := s.db.WithContext(ctx).Create(&comment).Error
	return comment, err
}

func (s *Store) GetLikeByGUID(ctx context.Context, guid string) (types.Like, error) {
	ctx, span := tracer.Start(ctx, "Store.GetLikeByGUID")
	defer span.End()

	var like types.Like
	err := s.db.WithContext(ctx).Where("guid = ?", guid).First(&like).Error
	return like, err
}

func (s *Store) CreateLike(ctx context.Context, like types.Like) (types.Like, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateLike")
	defer span.End()

	err := s.db.WithContext(ctx).Create(&like).Error
	return like, err
}

func (s *Store) GetPollParticipationByGUID(ctx context.Context, guid string) (types.PollParticipation, error) {
	ctx, span := tracer.Start(ctx, "Store.GetPollParticipationByGUID")
	defer span.End()

	var participation types.PollParticipation
	err := s.db.WithContext(ctx).Where("guid = ?", guid).First(&participation).Error
	return participation, err
}

// CreatePollParticipation records a vote and bumps the answer's counter.
func (s *Store) CreatePollParticipation(ctx context.Context, participation types.PollParticipation) (types.PollParticipation, error) {
	ctx, span := tracer.Start(ctx, "Store.CreatePollParticipation")
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&participation).Error; err != nil {
			return err
		}
		return tx.Model(&types.PollAnswer{}).
			Where("id = ?", participation.PollAnswerID).
			Update("vote_count", gorm.Expr("vote_count + 1")).Error
	})
	if err != nil {
		span.RecordError(err)
	}
	return participation, err
}

// CreateParticipation subscribes a person to a post and reports whether the
// subscription is new. Existing subscriptions are left untouched.
func (s *Store) CreateParticipation(ctx context.Context, authorID, postID uint) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateParticipation")
	defer span.End()

	participation := types.Participation{AuthorID: authorID, TargetID: postID, Count: 1}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&participation)
	return result.RowsAffected > 0, result.Error
}

func (s *Store) GetParticipations(ctx context.Context, authorID uint) ([]types.Participation, error) {
	ctx, span := tracer.Start(ctx, "Store.GetParticipations")
	defer span.End()

	var participations []types.Participation
	err := s.db.WithContext(ctx).Where("author_id = ?", authorID).Find(&participations).Error
	return participations, err
}

package forum

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// toggleLike flips like membership for one subject. Liking an already-liked
// subject and unliking a never-liked one both report Conflict, so a like
// followed by an unlike always restores the prior like set exactly. Membership
// is case-sensitive. Closed or deleted state never blocks a like.
func (s *Service) toggleLike(tx *gorm.DB, subjectID string, caller Address, shouldLike bool) error {
	const operation = "forum.toggle_like"

	var existing Like
	err := tx.Where("subject_id = ? AND address = ?", subjectID, caller.String()).Take(&existing).Error
	present := true
	if errors.Is(err, gorm.ErrRecordNotFound) {
		present = false
	} else if err != nil {
		return err
	}

	if shouldLike {
		if present {
			return conflict("address %s already liked this message", caller)
		}
		like := Like{SubjectID: subjectID, Address: caller.String(), LikedAtSeconds: s.nowSeconds()}
		if err := tx.Create(&like).Error; err != nil {
			s.logError(operation, "insert_failed", err, zap.String("subject_id", subjectID))
			return err
		}
		return nil
	}

	if !present {
		return conflict("address %s has not liked this message", caller)
	}
	if err := tx.Where("subject_id = ? AND address = ?", subjectID, caller.String()).Delete(&Like{}).Error; err != nil {
		s.logError(operation, "delete_failed", err, zap.String("subject_id", subjectID))
		return err
	}
	return nil
}

// ToggleTopicLike likes or unlikes a topic. Any non-banned caller.
func (s *Service) ToggleTopicLike(ctx context.Context, caller Address, categoryID, topicID string, shouldLike bool) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireNotBanned(tx, caller); err != nil {
			return err
		}
		_, topic, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		return s.toggleLike(tx, topic.ID, caller, shouldLike)
	})
}

// TogglePostLike likes or unlikes a post by position. Any non-banned caller.
func (s *Service) TogglePostLike(ctx context.Context, caller Address, categoryID, topicID string, position int, shouldLike bool) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireNotBanned(tx, caller); err != nil {
			return err
		}
		_, _, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		post, err := loadPostAt(tx, topicID, position)
		if err != nil {
			return err
		}
		return s.toggleLike(tx, post.ID, caller, shouldLike)
	})
}

package forum

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// recordEdit appends (now, previous value) to the subject's history for the
// given field, then the caller persists the new value. Appending happens
// before the overwrite so the history entry always holds the value that was
// current immediately prior to the edit.
func (s *Service) recordEdit(tx *gorm.DB, subjectID string, field RevisionField, previousValue string) error {
	const operation = "forum.record_edit"
	revision := Revision{
		SubjectID:       subjectID,
		Field:           field,
		EditedAtSeconds: s.nowSeconds(),
		PreviousValue:   previousValue,
	}
	if err := tx.Create(&revision).Error; err != nil {
		s.logError(operation, "insert_failed", err, zap.String("subject_id", subjectID))
		return err
	}
	return nil
}

// EditTopicTitle replaces a topic's title, recording the prior title. Exact
// creator only; blocked while the topic is closed.
func (s *Service) EditTopicTitle(ctx context.Context, caller Address, categoryID, topicID, newTitle string) error {
	if newTitle == "" {
		return badRequest("topic title is required")
	}
	return s.run(ctx, func(tx *gorm.DB) error {
		_, topic, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		if err := requireCreator(caller, topic.CreatedBy); err != nil {
			return err
		}
		if err := requireEditable(topic, topic.Deleted); err != nil {
			return err
		}
		if err := s.recordEdit(tx, topic.ID, FieldTitle, topic.Title); err != nil {
			return err
		}
		return tx.Model(&Topic{}).Where("id = ?", topic.ID).Update("title", newTitle).Error
	})
}

// EditTopicBody replaces a topic's body, recording the prior body. Exact
// creator only; blocked while the topic is closed.
func (s *Service) EditTopicBody(ctx context.Context, caller Address, categoryID, topicID, newBody string) error {
	if newBody == "" {
		return badRequest("topic body is required")
	}
	return s.run(ctx, func(tx *gorm.DB) error {
		_, topic, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		if err := requireCreator(caller, topic.CreatedBy); err != nil {
			return err
		}
		if err := requireEditable(topic, topic.Deleted); err != nil {
			return err
		}
		if err := s.recordEdit(tx, topic.ID, FieldBody, topic.Body); err != nil {
			return err
		}
		return tx.Model(&Topic{}).Where("id = ?", topic.ID).Update("body", newBody).Error
	})
}

// EditPostBody replaces a post's body, recording the prior body. Exact creator
// only; blocked while the owning topic is closed or the post is deleted.
func (s *Service) EditPostBody(ctx context.Context, caller Address, categoryID, topicID string, position int, newBody string) error {
	if newBody == "" {
		return badRequest("post body is required")
	}
	return s.run(ctx, func(tx *gorm.DB) error {
		_, topic, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		post, err := loadPostAt(tx, topicID, position)
		if err != nil {
			return err
		}
		if err := requireCreator(caller, post.CreatedBy); err != nil {
			return err
		}
		if err := requireEditable(topic, post.Deleted); err != nil {
			return err
		}
		if err := s.recordEdit(tx, post.ID, FieldBody, post.Body); err != nil {
			return err
		}
		return tx.Model(&Post{}).Where("id = ?", post.ID).Update("body", newBody).Error
	})
}

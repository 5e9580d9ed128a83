package forum

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Topic ordering is kept in two explicit id lists on the category row: the
// manually ordered pin list and the recency list. The storage layer never
// supplies ordering of its own.

const emptyIDList = "[]"

func decodeIDList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func encodeIDList(ids []string) (string, error) {
	if len(ids) == 0 {
		return emptyIDList, nil
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// removeOne deletes exactly one occurrence of the id, never a range.
func removeOne(ids []string, id string) []string {
	for index, candidate := range ids {
		if candidate == id {
			return append(ids[:index:index], ids[index+1:]...)
		}
	}
	return ids
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// recordActivity stamps the topic's activity time and moves it to the front
// of the category's recency list. Fired on topic and post creation only;
// edits never bump activity. The activity timestamp never moves backward.
func (s *Service) recordActivity(tx *gorm.DB, category *Category, topic *Topic) error {
	const operation = "forum.record_activity"

	now := s.nowSeconds()
	if now < topic.LastActivitySeconds {
		now = topic.LastActivitySeconds
	}
	topic.LastActivitySeconds = now
	if err := tx.Model(&Topic{}).Where("id = ?", topic.ID).Update("last_activity_s", now).Error; err != nil {
		s.logError(operation, "topic_update_failed", err, zap.String("topic_id", topic.ID))
		return err
	}

	recent, err := decodeIDList(category.RecentTopicsJSON)
	if err != nil {
		s.logError(operation, "recent_list_corrupt", err, zap.String("category_id", category.CategoryID))
		return err
	}
	recent = removeOne(recent, topic.ID)
	recent = append([]string{topic.ID}, recent...)
	encoded, err := encodeIDList(recent)
	if err != nil {
		return err
	}
	category.RecentTopicsJSON = encoded
	if err := tx.Model(&Category{}).Where("category_id = ?", category.CategoryID).Update("recent_topics_json", encoded).Error; err != nil {
		s.logError(operation, "category_update_failed", err, zap.String("category_id", category.CategoryID))
		return err
	}
	return nil
}

// SetTopicPinned pins or unpins a topic. Pinning appends to the pin list when
// absent; unpinning removes exactly one occurrence when present. Either
// direction is a no-op when the state already matches. Moderator or admin.
func (s *Service) SetTopicPinned(ctx context.Context, caller Address, categoryID, topicID string, pinned bool) error {
	const operation = "forum.set_topic_pinned"
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireStaff(tx, caller); err != nil {
			return err
		}
		category, topic, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}

		pins, err := decodeIDList(category.PinnedTopicsJSON)
		if err != nil {
			s.logError(operation, "pin_list_corrupt", err, zap.String("category_id", categoryID))
			return err
		}
		present := containsID(pins, topicID)
		if pinned && !present {
			pins = append(pins, topicID)
		} else if !pinned && present {
			pins = removeOne(pins, topicID)
		}

		encoded, err := encodeIDList(pins)
		if err != nil {
			return err
		}
		if err := tx.Model(&Category{}).Where("category_id = ?", categoryID).Update("pinned_topics_json", encoded).Error; err != nil {
			s.logError(operation, "category_update_failed", err, zap.String("category_id", categoryID))
			return err
		}
		if topic.Pinned != pinned {
			if err := tx.Model(&Topic{}).Where("id = ?", topicID).Update("is_pinned", pinned).Error; err != nil {
				s.logError(operation, "topic_update_failed", err, zap.String("topic_id", topicID))
				return err
			}
		}
		return nil
	})
}

// ListTopics returns the category's topics: pinned topics first in their pin
// order, then the rest in recency order. A topic that is both pinned and
// recently active appears once, in its pinned position.
func (s *Service) ListTopics(ctx context.Context, categoryID string) ([]Topic, error) {
	var topics []Topic
	err := s.run(ctx, func(tx *gorm.DB) error {
		category, err := loadCategory(tx, categoryID)
		if err != nil {
			return err
		}
		pins, err := decodeIDList(category.PinnedTopicsJSON)
		if err != nil {
			return err
		}
		recent, err := decodeIDList(category.RecentTopicsJSON)
		if err != nil {
			return err
		}

		ordered := make([]string, 0, len(pins)+len(recent))
		seen := make(map[string]struct{}, len(pins)+len(recent))
		for _, id := range append(append([]string{}, pins...), recent...) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ordered = append(ordered, id)
		}

		var rows []Topic
		if err := tx.Where("category_id = ?", categoryID).Find(&rows).Error; err != nil {
			return err
		}
		byID := make(map[string]Topic, len(rows))
		for _, row := range rows {
			byID[row.ID] = row
		}

		topics = make([]Topic, 0, len(ordered))
		for _, id := range ordered {
			if topic, ok := byID[id]; ok {
				topics = append(topics, topic)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return topics, nil
}

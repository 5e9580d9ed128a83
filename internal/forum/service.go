package forum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues unique identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the forum engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the forum content engine. Every operation runs to completion
// before the next begins: a single mutex serializes all callers, and each
// mutation additionally executes inside one storage transaction.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger
	mu     sync.Mutex
}

// NewService constructs the engine after validating its dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
	}, nil
}

func (s *Service) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", fmt.Errorf("%s: generating id: %w", operation, err)
	}
	return id, nil
}

func (s *Service) nowSeconds() int64 {
	return s.clock().UTC().Unix()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("forum service error", attrs...)
}

// lookup helpers; each reports the first missing level as NotFound.

func loadCategory(tx *gorm.DB, categoryID string) (*Category, error) {
	var category Category
	err := tx.Where("category_id = ?", categoryID).Take(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("category %s does not exist", categoryID)
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func loadTopic(tx *gorm.DB, categoryID, topicID string) (*Category, *Topic, error) {
	category, err := loadCategory(tx, categoryID)
	if err != nil {
		return nil, nil, err
	}
	var topic Topic
	err = tx.Where("category_id = ? AND id = ?", categoryID, topicID).Take(&topic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, notFound("topic %s does not exist", topicID)
	}
	if err != nil {
		return nil, nil, err
	}
	return category, &topic, nil
}

// loadPostAt resolves a post by its position in the topic's sequence. A
// soft-deleted post is still returned; only an out-of-range index is missing.
func loadPostAt(tx *gorm.DB, topicID string, position int) (*Post, error) {
	if position < 0 {
		return nil, notFound("post %d does not exist", position)
	}
	var post Post
	err := tx.Where("topic_id = ? AND position = ?", topicID, position).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("post %d does not exist", position)
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func likesFor(tx *gorm.DB, subjectID string) ([]string, error) {
	var rows []Like
	if err := tx.Where("subject_id = ?", subjectID).Order("liked_at_s ASC, address ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	addresses := make([]string, 0, len(rows))
	for _, row := range rows {
		addresses = append(addresses, row.Address)
	}
	return addresses, nil
}

func historyFor(tx *gorm.DB, subjectID string, field RevisionField) ([]RevisionView, error) {
	var rows []Revision
	if err := tx.Where("subject_id = ? AND field = ?", subjectID, field).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	views := make([]RevisionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, RevisionView{EditedAtSeconds: row.EditedAtSeconds, PreviousValue: row.PreviousValue})
	}
	return views, nil
}

func postView(tx *gorm.DB, post Post) (PostView, error) {
	likes, err := likesFor(tx, post.ID)
	if err != nil {
		return PostView{}, err
	}
	history, err := historyFor(tx, post.ID, FieldBody)
	if err != nil {
		return PostView{}, err
	}
	return PostView{Post: post, Likes: likes, History: history}, nil
}

func topicView(tx *gorm.DB, topic Topic) (TopicView, error) {
	likes, err := likesFor(tx, topic.ID)
	if err != nil {
		return TopicView{}, err
	}
	titleHistory, err := historyFor(tx, topic.ID, FieldTitle)
	if err != nil {
		return TopicView{}, err
	}
	bodyHistory, err := historyFor(tx, topic.ID, FieldBody)
	if err != nil {
		return TopicView{}, err
	}

	var posts []Post
	if err := tx.Where("topic_id = ?", topic.ID).Order("position ASC").Find(&posts).Error; err != nil {
		return TopicView{}, err
	}
	postViews := make([]PostView, 0, len(posts))
	for _, post := range posts {
		view, err := postView(tx, post)
		if err != nil {
			return TopicView{}, err
		}
		postViews = append(postViews, view)
	}

	return TopicView{
		Topic:        topic,
		Likes:        likes,
		TitleHistory: titleHistory,
		BodyHistory:  bodyHistory,
		Posts:        postViews,
	}, nil
}

// ListCategories returns the ids of every category.
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.run(ctx, func(tx *gorm.DB) error {
		var categories []Category
		if err := tx.Order("created_at_s ASC, category_id ASC").Find(&categories).Error; err != nil {
			return err
		}
		ids = make([]string, 0, len(categories))
		for _, category := range categories {
			ids = append(ids, category.CategoryID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetTopic resolves a topic with its posts, likes, and histories.
func (s *Service) GetTopic(ctx context.Context, categoryID, topicID string) (TopicView, error) {
	var view TopicView
	err := s.run(ctx, func(tx *gorm.DB) error {
		_, topic, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		view, err = topicView(tx, *topic)
		return err
	})
	if err != nil {
		return TopicView{}, err
	}
	return view, nil
}

// GetPost resolves a post by position. A soft-deleted post is returned with
// blank content; its slot stays allocated.
func (s *Service) GetPost(ctx context.Context, categoryID, topicID string, position int) (PostView, error) {
	var view PostView
	err := s.run(ctx, func(tx *gorm.DB) error {
		_, _, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		post, err := loadPostAt(tx, topicID, position)
		if err != nil {
			return err
		}
		view, err = postView(tx, *post)
		return err
	})
	if err != nil {
		return PostView{}, err
	}
	return view, nil
}

// CreateCategory creates an empty category. Admin only.
func (s *Service) CreateCategory(ctx context.Context, caller Address, name string) (Category, error) {
	const operation = "forum.create_category"
	if name == "" {
		return Category{}, badRequest("category name is required")
	}

	id, err := s.newID(operation)
	if err != nil {
		return Category{}, err
	}

	category := Category{
		CategoryID:       id,
		Name:             name,
		CreatedBy:        caller.String(),
		PinnedTopicsJSON: emptyIDList,
		RecentTopicsJSON: emptyIDList,
	}
	err = s.run(ctx, func(tx *gorm.DB) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		category.CreatedAtSeconds = s.nowSeconds()
		if err := tx.Create(&category).Error; err != nil {
			s.logError(operation, "insert_failed", err, zap.String("category_id", id))
			return err
		}
		return nil
	})
	if err != nil {
		return Category{}, err
	}
	return category, nil
}

// CreateTopic creates a topic inside an existing category and registers it
// with the activity index. Any non-banned caller.
func (s *Service) CreateTopic(ctx context.Context, caller Address, categoryID, title, body string) (Topic, error) {
	const operation = "forum.create_topic"
	if title == "" {
		return Topic{}, badRequest("topic title is required")
	}
	if body == "" {
		return Topic{}, badRequest("topic body is required")
	}

	id, err := s.newID(operation)
	if err != nil {
		return Topic{}, err
	}

	var topic Topic
	err = s.run(ctx, func(tx *gorm.DB) error {
		if err := requireNotBanned(tx, caller); err != nil {
			return err
		}
		category, err := loadCategory(tx, categoryID)
		if err != nil {
			return err
		}

		now := s.nowSeconds()
		topic = Topic{
			EditableContent: EditableContent{
				ID:               id,
				Body:             body,
				CreatedBy:        caller.String(),
				CreatedAtSeconds: now,
			},
			CategoryID: categoryID,
			Title:      title,
		}
		if err := tx.Create(&topic).Error; err != nil {
			s.logError(operation, "insert_failed", err, zap.String("topic_id", id))
			return err
		}
		return s.recordActivity(tx, category, &topic)
	})
	if err != nil {
		return Topic{}, err
	}
	return topic, nil
}

// CreatePost appends a post to an open topic and bumps the topic's activity.
// Any non-banned caller.
func (s *Service) CreatePost(ctx context.Context, caller Address, categoryID, topicID, body string) (Post, error) {
	const operation = "forum.create_post"
	if body == "" {
		return Post{}, badRequest("post body is required")
	}

	id, err := s.newID(operation)
	if err != nil {
		return Post{}, err
	}

	var post Post
	err = s.run(ctx, func(tx *gorm.DB) error {
		if err := requireNotBanned(tx, caller); err != nil {
			return err
		}
		category, topic, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		if topic.Closed {
			return forbidden("topic %s is closed", topicID)
		}

		var count int64
		if err := tx.Model(&Post{}).Where("topic_id = ?", topicID).Count(&count).Error; err != nil {
			return err
		}

		post = Post{
			EditableContent: EditableContent{
				ID:               id,
				Body:             body,
				CreatedBy:        caller.String(),
				CreatedAtSeconds: s.nowSeconds(),
			},
			TopicID:  topicID,
			Position: int(count),
		}
		if err := tx.Create(&post).Error; err != nil {
			s.logError(operation, "insert_failed", err, zap.String("post_id", id))
			return err
		}
		return s.recordActivity(tx, category, topic)
	})
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

// DeleteCategory removes a category and everything it owns: topics, posts,
// their revisions, and their likes. Admin only.
func (s *Service) DeleteCategory(ctx context.Context, caller Address, categoryID string) error {
	const operation = "forum.delete_category"
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		category, err := loadCategory(tx, categoryID)
		if err != nil {
			return err
		}

		var topics []Topic
		if err := tx.Where("category_id = ?", categoryID).Find(&topics).Error; err != nil {
			return err
		}
		subjectIDs := make([]string, 0, len(topics))
		topicIDs := make([]string, 0, len(topics))
		for _, topic := range topics {
			subjectIDs = append(subjectIDs, topic.ID)
			topicIDs = append(topicIDs, topic.ID)
		}
		if len(topicIDs) > 0 {
			var posts []Post
			if err := tx.Where("topic_id IN ?", topicIDs).Find(&posts).Error; err != nil {
				return err
			}
			for _, post := range posts {
				subjectIDs = append(subjectIDs, post.ID)
			}
			if err := tx.Where("topic_id IN ?", topicIDs).Delete(&Post{}).Error; err != nil {
				return err
			}
			if err := tx.Where("category_id = ?", categoryID).Delete(&Topic{}).Error; err != nil {
				return err
			}
		}
		if len(subjectIDs) > 0 {
			if err := tx.Where("subject_id IN ?", subjectIDs).Delete(&Revision{}).Error; err != nil {
				return err
			}
			if err := tx.Where("subject_id IN ?", subjectIDs).Delete(&Like{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(category).Error; err != nil {
			s.logError(operation, "delete_failed", err, zap.String("category_id", categoryID))
			return err
		}
		return nil
	})
}

// SoftDeletePost blanks a post's body, purges its edit history, and marks it
// deleted. The row keeps its position so outstanding references stay valid.
// Repeating the delete succeeds as a no-op; nothing is ever resurrected.
// Creator, moderator, or admin.
func (s *Service) SoftDeletePost(ctx context.Context, caller Address, categoryID, topicID string, position int) error {
	const operation = "forum.soft_delete_post"
	return s.run(ctx, func(tx *gorm.DB) error {
		_, _, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		post, err := loadPostAt(tx, topicID, position)
		if err != nil {
			return err
		}
		if err := requireCreatorOrStaff(tx, caller, post.CreatedBy); err != nil {
			return err
		}

		if err := tx.Where("subject_id = ?", post.ID).Delete(&Revision{}).Error; err != nil {
			return err
		}
		updates := map[string]any{"body": "", "is_deleted": true}
		if err := tx.Model(&Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
			s.logError(operation, "update_failed", err, zap.String("post_id", post.ID))
			return err
		}
		return nil
	})
}

// SetTopicClosed closes or reopens a topic. Moderator or admin. The change is
// idempotent; setting the current state again succeeds.
func (s *Service) SetTopicClosed(ctx context.Context, caller Address, categoryID, topicID string, closed bool) error {
	const operation = "forum.set_topic_closed"
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireStaff(tx, caller); err != nil {
			return err
		}
		_, topic, err := loadTopic(tx, categoryID, topicID)
		if err != nil {
			return err
		}
		if topic.Closed == closed {
			return nil
		}
		if err := tx.Model(&Topic{}).Where("id = ?", topic.ID).Update("is_closed", closed).Error; err != nil {
			s.logError(operation, "update_failed", err, zap.String("topic_id", topic.ID))
			return err
		}
		return nil
	})
}

package forum

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

// ErrInvalidAddress indicates a caller address is empty or exceeds storage bounds.
var ErrInvalidAddress = errors.New("forum: invalid address")

// Address is an opaque caller identity. Role and ban checks compare addresses
// case-insensitively; like-set membership compares them exactly.
type Address string

// NewAddress validates raw input and returns an Address.
func NewAddress(rawInput string) (Address, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAddress, maxIdentifierLength)
	}
	return Address(trimmed), nil
}

// String returns the underlying address value.
func (a Address) String() string {
	return string(a)
}

// EqualsRole reports role-style membership equality (case-insensitive).
func (a Address) EqualsRole(other Address) bool {
	return strings.EqualFold(string(a), string(other))
}

// EditableContent carries the fields shared by topics and posts. Likes and
// edit history live in side tables keyed by the content id.
type EditableContent struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	Deleted          bool   `gorm:"column:is_deleted;not null;default:false"`
}

// Topic is an editable content with a title, pin/close state, and an activity
// timestamp maintained by the activity indexer.
type Topic struct {
	EditableContent
	CategoryID          string `gorm:"column:category_id;size:190;not null;index:idx_topics_category"`
	Title               string `gorm:"column:title;type:text;not null"`
	Pinned              bool   `gorm:"column:is_pinned;not null;default:false"`
	Closed              bool   `gorm:"column:is_closed;not null;default:false"`
	LastActivitySeconds int64  `gorm:"column:last_activity_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Topic) TableName() string {
	return "topics"
}

// Post is an editable content addressed by its zero-based position inside its
// topic. Positions are stable forever because deletion only blanks the row.
type Post struct {
	EditableContent
	TopicID  string `gorm:"column:topic_id;size:190;not null;index:idx_posts_topic"`
	Position int    `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Category owns its topics. The two JSON columns hold explicit ordered topic
// id lists; ordering is never derived from the storage layer.
type Category struct {
	CategoryID       string `gorm:"column:category_id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:190;not null"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	PinnedTopicsJSON string `gorm:"column:pinned_topics_json;type:text;not null;default:'[]'"`
	RecentTopicsJSON string `gorm:"column:recent_topics_json;type:text;not null;default:'[]'"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "categories"
}

// RevisionField names the editable field a revision belongs to.
type RevisionField string

const (
	// FieldBody is the message body of a topic or post.
	FieldBody RevisionField = "body"
	// FieldTitle is a topic title.
	FieldTitle RevisionField = "title"
)

// Revision stores one prior value of an editable field. The log is append-only
// except for the full clear performed when a post is soft-deleted.
type Revision struct {
	Seq             uint64        `gorm:"column:seq;primaryKey;autoIncrement"`
	SubjectID       string        `gorm:"column:subject_id;size:190;not null;index:idx_revisions_subject"`
	Field           RevisionField `gorm:"column:field;size:16;not null"`
	EditedAtSeconds int64         `gorm:"column:edited_at_s;not null"`
	PreviousValue   string        `gorm:"column:previous_value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "revisions"
}

// Like records one address having liked one topic or post. Membership is
// case-sensitive, unlike role membership.
type Like struct {
	SubjectID      string `gorm:"column:subject_id;primaryKey;size:190;not null"`
	Address        string `gorm:"column:address;primaryKey;size:190;not null"`
	LikedAtSeconds int64  `gorm:"column:liked_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "likes"
}

// AdminEntry maps a generated row id to an admin address.
type AdminEntry struct {
	RowID   string `gorm:"column:row_id;primaryKey;size:190;not null"`
	Address string `gorm:"column:address;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AdminEntry) TableName() string {
	return "admins"
}

// ModeratorEntry maps a generated row id to a moderator address.
type ModeratorEntry struct {
	RowID   string `gorm:"column:row_id;primaryKey;size:190;not null"`
	Address string `gorm:"column:address;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ModeratorEntry) TableName() string {
	return "moderators"
}

// BanEntry maps a generated row id to a banned address.
type BanEntry struct {
	RowID   string `gorm:"column:row_id;primaryKey;size:190;not null"`
	Address string `gorm:"column:address;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (BanEntry) TableName() string {
	return "banned"
}

// RevisionView is a history entry as exposed to readers.
type RevisionView struct {
	EditedAtSeconds int64  `json:"edited_at_s"`
	PreviousValue   string `json:"previous_value"`
}

// PostView bundles a post with its like set and body history.
type PostView struct {
	Post    Post
	Likes   []string
	History []RevisionView
}

// TopicView bundles a topic with its like set, histories, and posts in
// insertion order.
type TopicView struct {
	Topic        Topic
	Likes        []string
	TitleHistory []RevisionView
	BodyHistory  []RevisionView
	Posts        []PostView
}

// Models lists every persisted forum type for schema migration.
func Models() []any {
	return []any{
		&Category{},
		&Topic{},
		&Post{},
		&Revision{},
		&Like{},
		&AdminEntry{},
		&ModeratorEntry{},
		&BanEntry{},
	}
}

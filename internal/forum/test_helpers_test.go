package forum

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	prefix string
	index  int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.index++
	return fmt.Sprintf("%s-%d", g.prefix, g.index), nil
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *fakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:forum_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &fakeClock{current: time.Unix(1700000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{prefix: "id"},
	})
	if err != nil {
		t.Fatalf("failed to construct forum service: %v", err)
	}

	return service, db, clock
}

func mustAddress(t *testing.T, value string) Address {
	t.Helper()
	address, err := NewAddress(value)
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	return address
}

func seedAdmin(t *testing.T, service *Service, address Address) {
	t.Helper()
	if err := service.BootstrapAdmins(context.Background(), []Address{address}); err != nil {
		t.Fatalf("failed to bootstrap admin: %v", err)
	}
}

func seedModerator(t *testing.T, service *Service, admin, moderator Address) {
	t.Helper()
	if err := service.AddModerator(context.Background(), admin, moderator); err != nil {
		t.Fatalf("failed to add moderator: %v", err)
	}
}

func mustCreateCategory(t *testing.T, service *Service, admin Address, name string) Category {
	t.Helper()
	category, err := service.CreateCategory(context.Background(), admin, name)
	if err != nil {
		t.Fatalf("failed to create category: %v", err)
	}
	return category
}

func mustCreateTopic(t *testing.T, service *Service, caller Address, categoryID, title, body string) Topic {
	t.Helper()
	topic, err := service.CreateTopic(context.Background(), caller, categoryID, title, body)
	if err != nil {
		t.Fatalf("failed to create topic: %v", err)
	}
	return topic
}

func mustCreatePost(t *testing.T, service *Service, caller Address, categoryID, topicID, body string) Post {
	t.Helper()
	post, err := service.CreatePost(context.Background(), caller, categoryID, topicID, body)
	if err != nil {
		t.Fatalf("failed to create post: %v", err)
	}
	return post
}

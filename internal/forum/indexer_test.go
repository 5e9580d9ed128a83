package forum

import (
	"context"
	"testing"
	"time"
)

func TestListTopicsOrdersByRecency(t *testing.T) {
	service, _, clock := newTestService(t)
	admin := mustAddress(t, "admin-a")
	user := mustAddress(t, "user-u")
	seedAdmin(t, service, admin)
	category := mustCreateCategory(t, service, admin, "General")

	first := mustCreateTopic(t, service, user, category.CategoryID, "Hello", "hi")
	clock.Advance(time.Minute)
	second := mustCreateTopic(t, service, user, category.CategoryID, "World", "hello")

	topics, err := service.ListTopics(context.Background(), category.CategoryID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(topics) != 2 || topics[0].ID != second.ID || topics[1].ID != first.ID {
		t.Fatalf("expected most recent first, got %v", topicIDs(topics))
	}

	// A new post in the older topic moves it back to the front.
	clock.Advance(time.Minute)
	mustCreatePost(t, service, user, category.CategoryID, first.ID, "bump")
	topics, err = service.ListTopics(context.Background(), category.CategoryID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if topics[0].ID != first.ID || topics[1].ID != second.ID {
		t.Fatalf("expected bumped topic first, got %v", topicIDs(topics))
	}
}

func TestPinnedTopicsPrecedeRecentOnes(t *testing.T) {
	service, _, clock := newTestService(t)
	admin := mustAddress(t, "admin-a")
	moderator := mustAddress(t, "mod-m")
	user := mustAddress(t, "user-u")
	seedAdmin(t, service, admin)
	seedModerator(t, service, admin, moderator)
	category := mustCreateCategory(t, service, admin, "General")

	pinned := mustCreateTopic(t, service, user, category.CategoryID, "Hello", "hi")
	if err := service.SetTopicPinned(context.Background(), moderator, category.CategoryID, pinned.ID, true); err != nil {
		t.Fatalf("unexpected pin error: %v", err)
	}

	clock.Advance(time.Minute)
	recent := mustCreateTopic(t, service, user, category.CategoryID, "World", "hello")

	topics, err := service.ListTopics(context.Background(), category.CategoryID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	// The pinned topic leads even though "World" is more recently active.
	if len(topics) != 2 || topics[0].ID != pinned.ID || topics[1].ID != recent.ID {
		t.Fatalf("expected pinned topic first, got %v", topicIDs(topics))
	}
	if !topics[0].Pinned {
		t.Fatalf("expected pinned flag on leading topic")
	}
}

func TestListTopicsDeduplicatesPinnedAndRecent(t *testing.T) {
	service, _, _ := newTestService(t)
	admin := mustAddress(t, "admin-a")
	user := mustAddress(t, "user-u")
	seedAdmin(t, service, admin)
	category := mustCreateCategory(t, service, admin, "General")

	topic := mustCreateTopic(t, service, user, category.CategoryID, "Hello", "hi")
	if err := service.SetTopicPinned(context.Background(), admin, category.CategoryID, topic.ID, true); err != nil {
		t.Fatalf("unexpected pin error: %v", err)
	}
	mustCreatePost(t, service, user, category.CategoryID, topic.ID, "active again")

	topics, err := service.ListTopics(context.Background(), category.CategoryID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(topics) != 1 || topics[0].ID != topic.ID {
		t.Fatalf("expected a single occurrence in pinned position, got %v", topicIDs(topics))
	}
}

func TestSetTopicPinnedRequiresStaff(t *testing.T) {
	service, _, _ := newTestService(t)
	admin := mustAddress(t, "admin-a")
	user := mustAddress(t, "user-u")
	seedAdmin(t, service, admin)
	category := mustCreateCategory(t, service, admin, "General")
	topic := mustCreateTopic(t, service, user, category.CategoryID, "Hello", "hi")

	if err := service.SetTopicPinned(context.Background(), user, category.CategoryID, topic.ID, true); err == nil {
		t.Fatalf("expected forbidden for non-staff caller")
	}
}

func TestUnpinRemovesExactlyOneEntry(t *testing.T) {
	service, db, _ := newTestService(t)
	admin := mustAddress(t, "admin-a")
	user := mustAddress(t, "user-u")
	seedAdmin(t, service, admin)
	category := mustCreateCategory(t, service, admin, "General")

	first := mustCreateTopic(t, service, user, category.CategoryID, "One", "1")
	second := mustCreateTopic(t, service, user, category.CategoryID, "Two", "2")
	third := mustCreateTopic(t, service, user, category.CategoryID, "Three", "3")
	for _, id := range []string{first.ID, second.ID, third.ID} {
		if err := service.SetTopicPinned(context.Background(), admin, category.CategoryID, id, true); err != nil {
			t.Fatalf("unexpected pin error: %v", err)
		}
	}

	if err := service.SetTopicPinned(context.Background(), admin, category.CategoryID, second.ID, false); err != nil {
		t.Fatalf("unexpected unpin error: %v", err)
	}

	var stored Category
	if err := db.Where("category_id = ?", category.CategoryID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load category: %v", err)
	}
	pins, err := decodeIDList(stored.PinnedTopicsJSON)
	if err != nil {
		t.Fatalf("failed to decode pin list: %v", err)
	}
	if len(pins) != 2 || pins[0] != first.ID || pins[1] != third.ID {
		t.Fatalf("expected exactly one entry removed, got %v", pins)
	}

	// Unpinning an unpinned topic is a no-op.
	if err := service.SetTopicPinned(context.Background(), admin, category.CategoryID, second.ID, false); err != nil {
		t.Fatalf("unexpected unpin error: %v", err)
	}
}

func TestActivityTimestampNeverMovesBackward(t *testing.T) {
	service, db, clock := newTestService(t)
	admin := mustAddress(t, "admin-a")
	user := mustAddress(t, "user-u")
	seedAdmin(t, service, admin)
	category := mustCreateCategory(t, service, admin, "General")

	clock.Advance(time.Hour)
	topic := mustCreateTopic(t, service, user, category.CategoryID, "Hello", "hi")
	stamped := topic.LastActivitySeconds

	// Even with a clock running behind, activity stays monotonic.
	clock.Advance(-30 * time.Minute)
	mustCreatePost(t, service, user, category.CategoryID, topic.ID, "p1")

	var stored Topic
	if err := db.Where("id = ?", topic.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load topic: %v", err)
	}
	if stored.LastActivitySeconds < stamped {
		t.Fatalf("activity moved backward: %d -> %d", stamped, stored.LastActivitySeconds)
	}
}

func TestEditsDoNotBumpActivity(t *testing.T) {
	service, db, clock := newTestService(t)
	admin := mustAddress(t, "admin-a")
	user := mustAddress(t, "user-u")
	seedAdmin(t, service, admin)
	category := mustCreateCategory(t, service, admin, "General")
	topic := mustCreateTopic(t, service, user, category.CategoryID, "Hello", "hi")
	stamped := topic.LastActivitySeconds

	clock.Advance(time.Hour)
	if err := service.EditTopicBody(context.Background(), user, category.CategoryID, topic.ID, "hi there"); err != nil {
		t.Fatalf("unexpected edit error: %v", err)
	}

	var stored Topic
	if err := db.Where("id = ?", topic.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load topic: %v", err)
	}
	if stored.LastActivitySeconds != stamped {
		t.Fatalf("edit must not bump activity: %d -> %d", stamped, stored.LastActivitySeconds)
	}
}

func topicIDs(topics []Topic) []string {
	ids := make([]string, 0, len(topics))
	for _, topic := range topics {
		ids = append(ids, topic.ID)
	}
	return ids
}

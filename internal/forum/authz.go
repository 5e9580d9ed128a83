package forum

import "gorm.io/gorm"

// The decision table consulted before every mutation:
//
//	create/delete category            admin
//	create topic/post, like/unlike    any non-banned caller
//	edit title/body                   exact creator only
//	pin/unpin, close/reopen           moderator or admin
//	delete post                       creator, moderator, or admin
//	grant/revoke roles                admin
//	ban/unban                         moderator or admin

func requireAdmin(tx *gorm.DB, caller Address) error {
	ok, err := isAdmin(tx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("caller %s is not an admin", caller)
	}
	return nil
}

// requireStaff admits admins and moderators.
func requireStaff(tx *gorm.DB, caller Address) error {
	admin, err := isAdmin(tx, caller)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	moderator, err := isModerator(tx, caller)
	if err != nil {
		return err
	}
	if !moderator {
		return forbidden("caller %s is not a moderator or admin", caller)
	}
	return nil
}

func requireNotBanned(tx *gorm.DB, caller Address) error {
	banned, err := isBanned(tx, caller)
	if err != nil {
		return err
	}
	if banned {
		return forbidden("caller %s is banned", caller)
	}
	return nil
}

// requireCreator admits only the exact author. Staff get no override here:
// nobody edits another address's content.
func requireCreator(caller Address, createdBy string) error {
	if caller.String() != createdBy {
		return forbidden("caller %s is not the creator", caller)
	}
	return nil
}

func requireCreatorOrStaff(tx *gorm.DB, caller Address, createdBy string) error {
	if caller.String() == createdBy {
		return nil
	}
	if err := requireStaff(tx, caller); err != nil {
		return forbidden("caller %s is not the creator, a moderator, or an admin", caller)
	}
	return nil
}

// requireEditable blocks edits on a closed topic or deleted content,
// independent of role.
func requireEditable(topic *Topic, deleted bool) error {
	if topic.Closed {
		return forbidden("topic %s is closed", topic.ID)
	}
	if deleted {
		return forbidden("content is deleted")
	}
	return nil
}

package forum

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Role and ban membership lives in three address tables keyed by generated row
// ids, so every check is a scan by address. Admin and moderator membership
// compares case-insensitively; ban membership compares exactly.

func isAdmin(tx *gorm.DB, address Address) (bool, error) {
	var entries []AdminEntry
	if err := tx.Find(&entries).Error; err != nil {
		return false, err
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Address, address.String()) {
			return true, nil
		}
	}
	return false, nil
}

func isModerator(tx *gorm.DB, address Address) (bool, error) {
	var entries []ModeratorEntry
	if err := tx.Find(&entries).Error; err != nil {
		return false, err
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Address, address.String()) {
			return true, nil
		}
	}
	return false, nil
}

func isBanned(tx *gorm.DB, address Address) (bool, error) {
	var entries []BanEntry
	if err := tx.Find(&entries).Error; err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Address == address.String() {
			return true, nil
		}
	}
	return false, nil
}

// IsAdmin reports whether the address currently holds the admin role.
func (s *Service) IsAdmin(ctx context.Context, address Address) (bool, error) {
	var ok bool
	err := s.run(ctx, func(tx *gorm.DB) error {
		var err error
		ok, err = isAdmin(tx, address)
		return err
	})
	return ok, err
}

// IsModerator reports whether the address currently holds the moderator role.
func (s *Service) IsModerator(ctx context.Context, address Address) (bool, error) {
	var ok bool
	err := s.run(ctx, func(tx *gorm.DB) error {
		var err error
		ok, err = isModerator(tx, address)
		return err
	})
	return ok, err
}

// IsBanned reports whether the address is currently banned.
func (s *Service) IsBanned(ctx context.Context, address Address) (bool, error) {
	var ok bool
	err := s.run(ctx, func(tx *gorm.DB) error {
		var err error
		ok, err = isBanned(tx, address)
		return err
	})
	return ok, err
}

// ListAdmins returns every admin address.
func (s *Service) ListAdmins(ctx context.Context) ([]string, error) {
	return s.listAddresses(ctx, func(tx *gorm.DB) ([]string, error) {
		var entries []AdminEntry
		if err := tx.Order("row_id ASC").Find(&entries).Error; err != nil {
			return nil, err
		}
		addresses := make([]string, 0, len(entries))
		for _, entry := range entries {
			addresses = append(addresses, entry.Address)
		}
		return addresses, nil
	})
}

// ListModerators returns every moderator address.
func (s *Service) ListModerators(ctx context.Context) ([]string, error) {
	return s.listAddresses(ctx, func(tx *gorm.DB) ([]string, error) {
		var entries []ModeratorEntry
		if err := tx.Order("row_id ASC").Find(&entries).Error; err != nil {
			return nil, err
		}
		addresses := make([]string, 0, len(entries))
		for _, entry := range entries {
			addresses = append(addresses, entry.Address)
		}
		return addresses, nil
	})
}

// ListBanned returns every banned address.
func (s *Service) ListBanned(ctx context.Context) ([]string, error) {
	return s.listAddresses(ctx, func(tx *gorm.DB) ([]string, error) {
		var entries []BanEntry
		if err := tx.Order("row_id ASC").Find(&entries).Error; err != nil {
			return nil, err
		}
		addresses := make([]string, 0, len(entries))
		for _, entry := range entries {
			addresses = append(addresses, entry.Address)
		}
		return addresses, nil
	})
}

func (s *Service) listAddresses(ctx context.Context, load func(tx *gorm.DB) ([]string, error)) ([]string, error) {
	var addresses []string
	err := s.run(ctx, func(tx *gorm.DB) error {
		var err error
		addresses, err = load(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

// BootstrapAdmins seeds the admin table from configuration, once, at startup.
// It bypasses the caller check but only acts while the table is empty; after
// the first grant the normal AddAdmin path is the only way in.
func (s *Service) BootstrapAdmins(ctx context.Context, addresses []Address) error {
	const operation = "forum.bootstrap_admins"
	if len(addresses) == 0 {
		return nil
	}
	return s.run(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AdminEntry{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, address := range addresses {
			already, err := isAdmin(tx, address)
			if err != nil {
				return err
			}
			if already {
				continue
			}
			rowID, err := s.newID(operation)
			if err != nil {
				return err
			}
			if err := tx.Create(&AdminEntry{RowID: rowID, Address: address.String()}).Error; err != nil {
				s.logError(operation, "insert_failed", err, zap.String("address", address.String()))
				return err
			}
		}
		return nil
	})
}

// AddAdmin grants the admin role. Admin only.
func (s *Service) AddAdmin(ctx context.Context, caller, target Address) error {
	const operation = "forum.add_admin"
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		return s.grantRole(tx, operation, target, roleAdmin)
	})
}

// RemoveAdmin revokes the admin role. Admin only.
func (s *Service) RemoveAdmin(ctx context.Context, caller, target Address) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		return revokeRole(tx, target, roleAdmin)
	})
}

// AddModerator grants the moderator role. Admin only.
func (s *Service) AddModerator(ctx context.Context, caller, target Address) error {
	const operation = "forum.add_moderator"
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		return s.grantRole(tx, operation, target, roleModerator)
	})
}

// RemoveModerator revokes the moderator role. Admin only.
func (s *Service) RemoveModerator(ctx context.Context, caller, target Address) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		return revokeRole(tx, target, roleModerator)
	})
}

// Ban inserts the target into the banned set. Moderator or admin; staff
// addresses can never be banned.
func (s *Service) Ban(ctx context.Context, caller, target Address) error {
	const operation = "forum.ban"
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireStaff(tx, caller); err != nil {
			return err
		}
		targetAdmin, err := isAdmin(tx, target)
		if err != nil {
			return err
		}
		targetModerator, err := isModerator(tx, target)
		if err != nil {
			return err
		}
		if targetAdmin || targetModerator {
			return forbidden("address %s is staff and cannot be banned", target)
		}
		banned, err := isBanned(tx, target)
		if err != nil {
			return err
		}
		if banned {
			return conflict("address %s is already banned", target)
		}

		rowID, err := s.newID(operation)
		if err != nil {
			return err
		}
		if err := tx.Create(&BanEntry{RowID: rowID, Address: target.String()}).Error; err != nil {
			s.logError(operation, "insert_failed", err, zap.String("address", target.String()))
			return err
		}
		return nil
	})
}

// Unban removes the target from the banned set. Moderator or admin.
func (s *Service) Unban(ctx context.Context, caller, target Address) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		if err := requireStaff(tx, caller); err != nil {
			return err
		}
		var entries []BanEntry
		if err := tx.Find(&entries).Error; err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Address == target.String() {
				return tx.Where("row_id = ?", entry.RowID).Delete(&BanEntry{}).Error
			}
		}
		return notFound("address %s is not banned", target)
	})
}

type role int

const (
	roleAdmin role = iota
	roleModerator
)

func (r role) name() string {
	if r == roleAdmin {
		return "admin"
	}
	return "moderator"
}

func (s *Service) grantRole(tx *gorm.DB, operation string, target Address, r role) error {
	held, err := holdsRole(tx, target, r)
	if err != nil {
		return err
	}
	if held {
		return conflict("address %s is already a %s", target, r.name())
	}
	// Banned addresses stay out of staff roles; the sets must never intersect.
	banned, err := isBanned(tx, target)
	if err != nil {
		return err
	}
	if banned {
		return conflict("address %s is banned", target)
	}

	rowID, err := s.newID(operation)
	if err != nil {
		return err
	}
	if r == roleAdmin {
		err = tx.Create(&AdminEntry{RowID: rowID, Address: target.String()}).Error
	} else {
		err = tx.Create(&ModeratorEntry{RowID: rowID, Address: target.String()}).Error
	}
	if err != nil {
		s.logError(operation, "insert_failed", err, zap.String("address", target.String()))
	}
	return err
}

func revokeRole(tx *gorm.DB, target Address, r role) error {
	if r == roleAdmin {
		var entries []AdminEntry
		if err := tx.Find(&entries).Error; err != nil {
			return err
		}
		for _, entry := range entries {
			if strings.EqualFold(entry.Address, target.String()) {
				return tx.Where("row_id = ?", entry.RowID).Delete(&AdminEntry{}).Error
			}
		}
	} else {
		var entries []ModeratorEntry
		if err := tx.Find(&entries).Error; err != nil {
			return err
		}
		for _, entry := range entries {
			if strings.EqualFold(entry.Address, target.String()) {
				return tx.Where("row_id = ?", entry.RowID).Delete(&ModeratorEntry{}).Error
			}
		}
	}
	return notFound("address %s is not a %s", target, r.name())
}

func holdsRole(tx *gorm.DB, target Address, r role) (bool, error) {
	if r == roleAdmin {
		return isAdmin(tx, target)
	}
	return isModerator(tx, target)
}

package services

import (
	"errors"
	"sort"

	"gorm.io/gorm"

	"github.com/noelys215/arbiter-api/models"
)

// groupMemberIDs returns the group's distinct member ids, sorted so every
// caller iterates the roster in the same order.
func groupMemberIDs(db *gorm.DB, groupID string) ([]string, error) {
	var ids []string
	err := db.Model(&models.GroupMembership{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	ids = dedupeIDs(ids)
	sort.Strings(ids)
	return ids, nil
}

func assertUserInGroup(db *gorm.DB, groupID, userID string) error {
	var membership models.GroupMembership
	err := db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotGroupMember
		}
		return err
	}
	return nil
}

func assertGroupLeader(db *gorm.DB, groupID, userID string) error {
	var group models.Group
	err := db.First(&group, "id = ?", groupID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if group.OwnerID != userID {
		return ErrNotGroupLeader
	}
	return nil
}

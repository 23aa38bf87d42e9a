package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquirePlantPostingLock serializes stock postings per plant across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the posting transaction.
func AcquirePlantPostingLock(tx *gorm.DB, plantId string) error {
	lockName := fmt.Sprintf("posting:%s", plantId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for plant_id=%s", plantId)
	}
	return nil
}

func ReleasePlantPostingLock(tx *gorm.DB, plantId string) {
	lockName := fmt.Sprintf("posting:%s", plantId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceMaxNumber is the largest value a counter can issue. Lot and
// bundle numbers embed the counter zero-padded, so going past four digits
// would break every downstream label format.
const SequenceMaxNumber = 9999

const DefaultSequenceWidth = 4

// NumberSequence is one counter row, keyed by (plant, prefix, scopeKey).
// ScopeKey is normally a yymmdd day string; counters that must never reset
// use a caller-chosen sentinel instead (e.g. product+marking-lot).
//
// The row is the single source of truth: the last issued value is never
// cached in process memory, every issuance re-reads it under a row lock.
type NumberSequence struct {
	ID         int       `gorm:"primary_key" json:"id"`
	PlantId    string    `gorm:"uniqueIndex:idx_number_sequences_key;not null" json:"plant_id"`
	Prefix     string    `gorm:"uniqueIndex:idx_number_sequences_key;size:10;not null" json:"prefix" binding:"required"`
	ScopeKey   string    `gorm:"uniqueIndex:idx_number_sequences_key;size:20;not null" json:"scope_key" binding:"required"`
	LastNumber int       `gorm:"not null;default:0" json:"last_number"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SequenceRequest is one (prefix, scopeKey) pair of a batch issuance.
type SequenceRequest struct {
	Prefix   string `json:"prefix" binding:"required"`
	ScopeKey string `json:"scope_key" binding:"required"`
	Width    int    `json:"width"`
}

func formatSequenceNumber(number int, width int) string {
	if width <= 0 {
		width = DefaultSequenceWidth
	}
	return fmt.Sprintf("%0*d", width, number)
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func lockSequenceRow(tx *gorm.DB, plantId string, prefix string, scopeKey string) (NumberSequence, error) {
	var seq NumberSequence
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND prefix = ? AND scope_key = ?", plantId, prefix, scopeKey).
		First(&seq).Error
	return seq, err
}

// nextNumberTx increments the counter row inside the caller's transaction,
// creating it at 1 on first use. The row is locked FOR UPDATE so two
// concurrent callers never read the same value. A FOR UPDATE read of an
// absent row takes no lock under READ COMMITTED, so two first issuances can
// both reach the create; the loser of that insert race re-reads the winner's
// row and increments it.
func nextNumberTx(tx *gorm.DB, plantId string, prefix string, scopeKey string) (int, error) {
	seq, err := lockSequenceRow(tx, plantId, prefix, scopeKey)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created := NumberSequence{
			PlantId:    plantId,
			Prefix:     prefix,
			ScopeKey:   scopeKey,
			LastNumber: 1,
		}
		createErr := tx.Create(&created).Error
		if createErr == nil {
			return 1, nil
		}
		if !isDuplicateKeyErr(createErr) {
			return 0, createErr
		}
		seq, err = lockSequenceRow(tx, plantId, prefix, scopeKey)
	}
	if err != nil {
		return 0, err
	}

	next := seq.LastNumber + 1
	if next > SequenceMaxNumber {
		return 0, ErrSequenceExhausted
	}
	if err := tx.Model(&NumberSequence{}).
		Where("id = ?", seq.ID).
		Update("last_number", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}

// NextSequenceNumberTx issues inside the caller's transaction, so a lot
// or bundle number is only spent if the surrounding write commits.
func NextSequenceNumberTx(tx *gorm.DB, plantId string, prefix string, scopeKey string, width int) (string, error) {
	number, err := nextNumberTx(tx, plantId, prefix, scopeKey)
	if err != nil {
		return "", err
	}
	return formatSequenceNumber(number, width), nil
}

// NextSequenceNumber issues the next number for (prefix, scopeKey) and
// returns it zero-padded to width.
func NextSequenceNumber(ctx context.Context, prefix string, scopeKey string, width int) (string, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return "", errors.New("plant id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return "", tx.Error
	}

	number, err := nextNumberTx(tx, plantId, prefix, scopeKey)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	if err := tx.Commit().Error; err != nil {
		return "", err
	}
	return formatSequenceNumber(number, width), nil
}

// NextSequenceNumbers issues several counters in one transaction.
// Either every request succeeds or none is applied.
func NextSequenceNumbers(ctx context.Context, requests []SequenceRequest) ([]string, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	if len(requests) == 0 {
		return nil, errors.New("no sequence requests")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	numbers := make([]string, 0, len(requests))
	for _, req := range requests {
		number, err := nextNumberTx(tx, plantId, req.Prefix, req.ScopeKey)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		numbers = append(numbers, formatSequenceNumber(number, req.Width))
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return numbers, nil
}

// PeekSequenceNumber reads the current counter value without incrementing.
// Returns 0 for a key that has never issued.
func PeekSequenceNumber(ctx context.Context, prefix string, scopeKey string) (int, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return 0, errors.New("plant id is required")
	}

	db := config.GetDB()
	var seq NumberSequence
	err := db.WithContext(ctx).
		Where("plant_id = ? AND prefix = ? AND scope_key = ?", plantId, prefix, scopeKey).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.LastNumber, nil
}

// CheckReportedSequence audits an externally-reported value (e.g. a
// physically scanned label) against the stored counter. Scanned identifiers
// can arrive out of order, so a gap is a warning for the caller, not an
// error here.
func CheckReportedSequence(ctx context.Context, prefix string, scopeKey string, reported int) (SequenceCheckResult, error) {
	current, err := PeekSequenceNumber(ctx, prefix, scopeKey)
	if err != nil {
		return "", err
	}
	switch {
	case reported <= current:
		return SequenceCheckDuplicate, nil
	case reported > current+1:
		return SequenceCheckGap, nil
	default:
		return SequenceCheckInSync, nil
	}
}

// ResetSequence sets a counter back to 0. Administrative only.
func ResetSequence(ctx context.Context, prefix string, scopeKey string) error {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return errors.New("plant id is required")
	}

	db := config.GetDB()
	result := db.WithContext(ctx).Model(&NumberSequence{}).
		Where("plant_id = ? AND prefix = ? AND scope_key = ?", plantId, prefix, scopeKey).
		Update("last_number", 0)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// PurgeSequences deletes counter rows whose scope key predates the cutoff.
// Scope keys sort lexicographically (yymmdd), so a plain comparison works;
// non-date sentinel scopes must sort above any date to survive the purge.
func PurgeSequences(ctx context.Context, scopeKeyBefore string) (int64, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return 0, errors.New("plant id is required")
	}

	db := config.GetDB()
	result := db.WithContext(ctx).
		Where("plant_id = ? AND scope_key < ?", plantId, scopeKeyBefore).
		Delete(&NumberSequence{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

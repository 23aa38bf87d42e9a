package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockLot is one tier-scoped inventory record. The same physical lot
// number owns at most one row per (tier, processCode); re-registering the
// combination accumulates quantity unless the row is exhausted.
type StockLot struct {
	ID          int             `gorm:"primary_key" json:"id"`
	PlantId     string          `gorm:"uniqueIndex:idx_stock_lots_key;not null" json:"plant_id"`
	LotNumber   string          `gorm:"uniqueIndex:idx_stock_lots_key;size:100;not null" json:"lot_number"`
	Tier        StockTier       `gorm:"uniqueIndex:idx_stock_lots_key;type:enum('W','F','P');not null" json:"tier"`
	ProcessCode string          `gorm:"uniqueIndex:idx_stock_lots_key;size:20;not null;default:''" json:"process_code"`
	MaterialId  int             `gorm:"index;not null" json:"material_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UsedQty     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"used_qty"`
	ReceivedAt  time.Time       `gorm:"index;not null" json:"received_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (lot *StockLot) AvailableQty() decimal.Decimal {
	return lot.Qty.Sub(lot.UsedQty)
}

// IsExhausted reports whether the record has been fully consumed.
// Exhausted records must not be reopened by further accumulation.
func (lot *StockLot) IsExhausted() bool {
	return lot.UsedQty.IsPositive() && !lot.AvailableQty().IsPositive()
}

// StockTransferRecord is the audit row written for every transfer between
// tiers. CancelStockTransfer reverses exactly one of these.
type StockTransferRecord struct {
	ID          int             `gorm:"primary_key" json:"id"`
	PlantId     string          `gorm:"index;not null" json:"plant_id"`
	LotNumber   string          `gorm:"size:100;not null" json:"lot_number"`
	FromTier    StockTier       `gorm:"type:enum('W','F','P');not null" json:"from_tier"`
	ToTier      StockTier       `gorm:"type:enum('W','F','P');not null" json:"to_tier"`
	ProcessCode string          `gorm:"size:20;not null;default:''" json:"process_code"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	SourceLotId int             `gorm:"index;not null" json:"source_lot_id"`
	DestLotId   int             `gorm:"index;not null" json:"dest_lot_id"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewStockReceipt struct {
	MaterialId int             `json:"material_id" binding:"required"`
	LotNumber  string          `json:"lot_number" binding:"required"`
	Qty        decimal.Decimal `json:"qty"`
	ReceivedAt *time.Time      `json:"received_at"`
}

type NewStockTransfer struct {
	LotNumber   string          `json:"lot_number" binding:"required"`
	Qty         decimal.Decimal `json:"qty"`
	FromTier    StockTier       `json:"from_tier" binding:"required,stocktier"`
	ToTier      StockTier       `json:"to_tier" binding:"required,stocktier"`
	ProcessCode string          `json:"process_code"`
	Policy      TransferPolicy  `json:"policy"`
}

// lockStockLotTx reads one tier record under a row lock.
// Passes gorm.ErrRecordNotFound through for the caller to decide.
func lockStockLotTx(tx *gorm.DB, plantId string, lotNumber string, tier StockTier, processCode string) (*StockLot, error) {
	var lot StockLot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND lot_number = ? AND tier = ? AND process_code = ?",
			plantId, lotNumber, tier, processCode).
		First(&lot).Error
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// accumulateStockLotTx creates or tops up a tier record. An exhausted
// record rejects the accumulation: the lot number has to enter this tier
// under a fresh registration, never by reopening spent history.
func accumulateStockLotTx(tx *gorm.DB, plantId string, materialId int, lotNumber string, tier StockTier, processCode string, qty decimal.Decimal, receivedAt time.Time) (*StockLot, error) {
	lot, err := lockStockLotTx(tx, plantId, lotNumber, tier, processCode)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lot = &StockLot{
			PlantId:     plantId,
			LotNumber:   lotNumber,
			Tier:        tier,
			ProcessCode: processCode,
			MaterialId:  materialId,
			Qty:         qty,
			UsedQty:     decimal.Zero,
			ReceivedAt:  receivedAt,
		}
		if err := tx.Create(lot).Error; err != nil {
			return nil, err
		}
		return lot, nil
	}
	if err != nil {
		return nil, err
	}

	if lot.IsExhausted() {
		return nil, ErrLotExhausted
	}
	if lot.MaterialId != materialId {
		return nil, errors.New("lot number already registered for another material in this tier")
	}

	lot.Qty = lot.Qty.Add(qty)
	if err := tx.Model(&StockLot{}).
		Where("id = ?", lot.ID).
		Update("qty", lot.Qty).Error; err != nil {
		return nil, err
	}
	return lot, nil
}

func (input *NewStockReceipt) validate(ctx context.Context, plantId string) error {
	if !input.Qty.IsPositive() {
		return errors.New("qty must be positive")
	}
	if err := utils.ValidateResourceId[Material](ctx, plantId, input.MaterialId); err != nil {
		return errors.New("material not found")
	}
	return nil
}

// ReceiveStockLot registers quantity at the warehouse tier.
func ReceiveStockLot(ctx context.Context, input *NewStockReceipt) (*StockLot, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	if err := input.validate(ctx, plantId); err != nil {
		return nil, err
	}

	receivedAt := time.Now().UTC()
	if input.ReceivedAt != nil {
		receivedAt = *input.ReceivedAt
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	lot, err := accumulateStockLotTx(tx, plantId, input.MaterialId, input.LotNumber, StockTierWarehouse, "", input.Qty, receivedAt)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return lot, nil
}

func (input *NewStockTransfer) validate() error {
	if !input.Qty.IsPositive() {
		return errors.New("qty must be positive")
	}
	if input.FromTier == input.ToTier {
		return errors.New("source and destination tier must differ")
	}
	if input.ToTier == StockTierProcess && input.ProcessCode == "" {
		return errors.New("process code is required for process-tier transfers")
	}
	switch input.Policy {
	case TransferPolicyClamp, TransferPolicyStrict:
	case "":
		// floor-bound transfers clamp, process staging is strict
		if input.ToTier == StockTierProcess {
			input.Policy = TransferPolicyStrict
		} else {
			input.Policy = TransferPolicyClamp
		}
	default:
		return errors.New("invalid transfer policy")
	}
	return nil
}

// tierProcessCode returns the process-code half of a tier key: only the
// process tier carries one.
func tierProcessCode(tier StockTier, processCode string) string {
	if tier == StockTierProcess {
		return processCode
	}
	return ""
}

// TransferStockLot moves quantity of a lot from one tier to another in a
// single transaction: source used_qty grows, destination record is created
// or accumulated. The returned record's Qty is the moved amount, which is
// below the requested amount only under the clamp policy.
func TransferStockLot(ctx context.Context, input *NewStockTransfer) (*StockTransferRecord, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	source, err := lockStockLotTx(tx, plantId, input.LotNumber, input.FromTier, tierProcessCode(input.FromTier, input.ProcessCode))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	available := source.AvailableQty()
	moved := input.Qty
	if input.Qty.GreaterThan(available) {
		if input.Policy == TransferPolicyStrict {
			tx.Rollback()
			return nil, ErrInsufficientStock
		}
		moved = available
	}
	if !moved.IsPositive() {
		tx.Rollback()
		return nil, ErrInsufficientStock
	}

	source.UsedQty = source.UsedQty.Add(moved)
	if err := tx.Model(&StockLot{}).
		Where("id = ?", source.ID).
		Update("used_qty", source.UsedQty).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	dest, err := accumulateStockLotTx(tx, plantId, source.MaterialId, input.LotNumber, input.ToTier, tierProcessCode(input.ToTier, input.ProcessCode), moved, time.Now().UTC())
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	record := StockTransferRecord{
		PlantId:     plantId,
		LotNumber:   input.LotNumber,
		FromTier:    input.FromTier,
		ToTier:      input.ToTier,
		ProcessCode: input.ProcessCode,
		Qty:         moved,
		SourceLotId: source.ID,
		DestLotId:   dest.ID,
	}
	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// CancelStockTransfer reverses a transfer-in while nothing has consumed
// from the destination record yet.
func CancelStockTransfer(ctx context.Context, recordId int) (*StockTransferRecord, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var record StockTransferRecord
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ?", plantId).
		First(&record, recordId).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}

	var dest StockLot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&dest, record.DestLotId).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if dest.UsedQty.IsPositive() {
		tx.Rollback()
		return nil, ErrLotInUse
	}

	remaining := dest.Qty.Sub(record.Qty)
	if remaining.IsPositive() {
		if err := tx.Model(&StockLot{}).
			Where("id = ?", dest.ID).
			Update("qty", remaining).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	} else {
		if err := tx.Delete(&StockLot{}, dest.ID).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	var source StockLot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&source, record.SourceLotId).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if err := tx.Model(&StockLot{}).
		Where("id = ?", source.ID).
		Update("used_qty", source.UsedQty.Sub(record.Qty)).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Delete(&StockTransferRecord{}, record.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ResetStockLot deletes a tier record outright. Only allowed while nothing
// has consumed from it.
func ResetStockLot(ctx context.Context, lotId int) (*StockLot, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var lot StockLot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ?", plantId).
		First(&lot, lotId).Error; err != nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if lot.UsedQty.IsPositive() {
		tx.Rollback()
		return nil, ErrLotInUse
	}
	if err := tx.Delete(&StockLot{}, lot.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

// ListStockLots lists tier records in FIFO order.
func ListStockLots(ctx context.Context, tier *StockTier, processCode *string, materialId *int) ([]*StockLot, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("plant_id = ?", plantId)
	if tier != nil {
		dbCtx = dbCtx.Where("tier = ?", *tier)
	}
	if processCode != nil && len(*processCode) > 0 {
		dbCtx = dbCtx.Where("process_code = ?", *processCode)
	}
	if materialId != nil && *materialId > 0 {
		dbCtx = dbCtx.Where("material_id = ?", *materialId)
	}

	var results []*StockLot
	err := dbCtx.Order("received_at, id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

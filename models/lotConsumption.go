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

// LotConsumption links a consuming production lot to the stock lot it drew
// from. One row per FIFO deduction; rollback deletes the rows and restores
// the stock lots.
type LotConsumption struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PlantId         string          `gorm:"index;not null" json:"plant_id"`
	ProductionLotId int             `gorm:"index;not null" json:"production_lot_id"`
	StockLotId      int             `gorm:"index;not null" json:"stock_lot_id"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// RollbackConsumptionTx restores every stock lot a production lot consumed
// from and deletes the consumption rows, inside the caller's transaction.
// Calling it again after the rows are gone is a no-op.
func RollbackConsumptionTx(tx *gorm.DB, plantId string, productionLotId int) error {
	var records []*LotConsumption
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND production_lot_id = ?", plantId, productionLotId).
		Find(&records).Error; err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	for _, record := range records {
		var lot StockLot
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&lot, record.StockLotId).Error; err != nil {
			return err
		}
		if err := tx.Model(&StockLot{}).
			Where("id = ?", lot.ID).
			Update("used_qty", lot.UsedQty.Sub(record.Qty)).Error; err != nil {
			return err
		}
		if err := tx.Delete(&LotConsumption{}, record.ID).Error; err != nil {
			return err
		}
	}
	return nil
}

// RollbackConsumption is the standalone-transaction variant.
func RollbackConsumption(ctx context.Context, productionLotId int) error {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return errors.New("plant id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := RollbackConsumptionTx(tx, plantId, productionLotId); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// ListLotConsumptions lists the consumption rows of one production lot.
func ListLotConsumptions(ctx context.Context, productionLotId int) ([]*LotConsumption, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	var results []*LotConsumption
	err := db.WithContext(ctx).
		Where("plant_id = ? AND production_lot_id = ?", plantId, productionLotId).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
)

// ProductionLot is one manufacturing run of a product at a process.
// Creation issues the lot number from the sequence issuer and consumes
// materials FIFO; see workflow.CreateProductionLot.
type ProductionLot struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	PlantId     string              `gorm:"index;not null" json:"plant_id"`
	ProductId   int                 `gorm:"index;not null" json:"product_id"`
	ProcessCode string              `gorm:"size:20;not null" json:"process_code"`
	LotNumber   string              `gorm:"index;size:100;not null" json:"lot_number"`
	PlannedQty  decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"planned_qty"`
	ActualQty   decimal.Decimal     `gorm:"type:decimal(20,4);not null;default:0" json:"actual_qty"`
	Status      ProductionLotStatus `gorm:"type:enum('I','C','X');default:I" json:"status"`
	StartedAt   time.Time           `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductionLot struct {
	ProductId     int             `json:"product_id" binding:"required"`
	ProcessCode   string          `json:"process_code" binding:"required"`
	PlannedQty    decimal.Decimal `json:"planned_qty"`
	AllowNegative bool            `json:"allow_negative"`
}

func GetProductionLot(ctx context.Context, id int) (*ProductionLot, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	return utils.FetchModel[ProductionLot](ctx, plantId, id)
}

func ListProductionLots(ctx context.Context, status *ProductionLotStatus) ([]*ProductionLot, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("plant_id = ?", plantId)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}

	var results []*ProductionLot
	err := dbCtx.Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

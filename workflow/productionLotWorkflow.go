package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/models"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
)

const fallbackLotPrefix = "LOT"

// ProductionLotResult pairs the created lot with what its start consumed.
type ProductionLotResult struct {
	Lot          *models.ProductionLot `json:"lot"`
	Consumptions []*ConsumeResult      `json:"consumptions"`
}

// CreateProductionLot starts a production lot: it draws a lot number from
// the day-scoped sequence of the product's prefix, scales the recipe to the
// planned quantity and consumes each requirement FIFO from the process tier.
// Number issuance, lot creation and consumption share one transaction, so a
// failed consumption never leaks a spent number.
func CreateProductionLot(ctx context.Context, input *models.NewProductionLot) (*ProductionLotResult, error) {
	ctx, span := tracer.Start(ctx, "CreateProductionLot")
	defer span.End()

	logger := config.GetLogger()

	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	if !input.PlannedQty.IsPositive() {
		return nil, errors.New("planned qty must be positive")
	}
	if input.ProcessCode == "" {
		return nil, errors.New("process code is required")
	}

	product, err := models.GetProduct(ctx, input.ProductId)
	if err != nil {
		return nil, errors.New("product not found")
	}

	requirements, err := models.GetMaterialRequirements(ctx, input.ProductId, &input.ProcessCode, input.PlannedQty)
	if err != nil {
		config.LogError(logger, "productionLotWorkflow.go", "CreateProductionLot", "GetMaterialRequirements", input, err)
		return nil, err
	}

	prefix := product.LotPrefix
	if prefix == "" {
		prefix = fallbackLotPrefix
	}
	scopeKey := time.Now().UTC().Format("060102")

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	if err := AcquirePlantPostingLock(tx, plantId); err != nil {
		tx.Rollback()
		return nil, err
	}
	defer ReleasePlantPostingLock(tx, plantId)

	seq, err := models.NextSequenceNumberTx(tx, plantId, prefix, scopeKey, models.DefaultSequenceWidth)
	if err != nil {
		tx.Rollback()
		config.LogError(logger, "productionLotWorkflow.go", "CreateProductionLot", "NextSequenceNumberTx", input, err)
		return nil, err
	}

	lot := models.ProductionLot{
		PlantId:     plantId,
		ProductId:   input.ProductId,
		ProcessCode: input.ProcessCode,
		LotNumber:   fmt.Sprintf("%s%s-%s", prefix, scopeKey, seq),
		PlannedQty:  input.PlannedQty,
		ActualQty:   decimal.Zero,
		Status:      models.ProductionLotStatusInProgress,
		StartedAt:   time.Now().UTC(),
	}
	if err := tx.Create(&lot).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	consumptions := make([]*ConsumeResult, 0, len(requirements))
	for _, requirement := range requirements {
		result, err := ConsumeStock(tx, logger, &ConsumeRequest{
			PlantId:         plantId,
			MaterialId:      requirement.MaterialId,
			Qty:             requirement.RequiredQty,
			Tier:            models.StockTierProcess,
			ProcessCode:     input.ProcessCode,
			AllowNegative:   input.AllowNegative,
			ProductionLotId: lot.ID,
		})
		if err != nil {
			tx.Rollback()
			config.LogError(logger, "productionLotWorkflow.go", "CreateProductionLot", "ConsumeStock", requirement, err)
			return nil, err
		}
		// a lot must start fully stocked; partial draws are for ad-hoc
		// consumption, not lot creation
		if result.ShortfallQty.IsPositive() {
			tx.Rollback()
			return nil, models.ErrInsufficientStock
		}
		consumptions = append(consumptions, result)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &ProductionLotResult{Lot: &lot, Consumptions: consumptions}, nil
}

// CompleteProductionLot closes an in-progress lot with its actual output.
func CompleteProductionLot(ctx context.Context, lotId int, actualQty decimal.Decimal) (*models.ProductionLot, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	if actualQty.IsNegative() {
		return nil, errors.New("actual qty must not be negative")
	}

	lot, err := models.GetProductionLot(ctx, lotId)
	if err != nil {
		return nil, err
	}
	if lot.Status != models.ProductionLotStatusInProgress {
		return nil, errors.New("production lot is not in progress")
	}

	now := time.Now().UTC()
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&models.ProductionLot{}).
		Where("id = ? AND plant_id = ?", lot.ID, plantId).
		Updates(map[string]interface{}{
			"Status":      models.ProductionLotStatusCompleted,
			"ActualQty":   actualQty,
			"CompletedAt": now,
		}).Error; err != nil {
		return nil, err
	}

	lot.Status = models.ProductionLotStatusCompleted
	lot.ActualQty = actualQty
	lot.CompletedAt = &now
	return lot, nil
}

// CancelProductionLot cancels an in-progress lot and gives back everything
// it consumed.
func CancelProductionLot(ctx context.Context, lotId int) (*models.ProductionLot, error) {
	logger := config.GetLogger()

	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	lot, err := models.GetProductionLot(ctx, lotId)
	if err != nil {
		return nil, err
	}
	if lot.Status == models.ProductionLotStatusCompleted {
		return nil, errors.New("completed production lot cannot be cancelled")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	if err := AcquirePlantPostingLock(tx, plantId); err != nil {
		tx.Rollback()
		return nil, err
	}
	defer ReleasePlantPostingLock(tx, plantId)

	if err := models.RollbackConsumptionTx(tx, plantId, lot.ID); err != nil {
		tx.Rollback()
		config.LogError(logger, "productionLotWorkflow.go", "CancelProductionLot", "RollbackConsumptionTx", lot, err)
		return nil, err
	}

	if err := tx.Model(&models.ProductionLot{}).
		Where("id = ?", lot.ID).
		Update("status", models.ProductionLotStatusCancelled).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	lot.Status = models.ProductionLotStatusCancelled
	return lot, nil
}

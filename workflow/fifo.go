package workflow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/models"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("workflow")

// ConsumeRequest asks for quantity of one material at one tier.
type ConsumeRequest struct {
	PlantId         string
	MaterialId      int
	Qty             decimal.Decimal
	Tier            models.StockTier
	ProcessCode     string
	AllowNegative   bool
	ProductionLotId int
}

// ConsumptionLine records how much was drawn from one stock lot.
type ConsumptionLine struct {
	StockLotId int             `json:"stock_lot_id"`
	LotNumber  string          `json:"lot_number"`
	Qty        decimal.Decimal `json:"qty"`
}

type ConsumeResult struct {
	RequestedQty decimal.Decimal   `json:"requested_qty"`
	ConsumedQty  decimal.Decimal   `json:"consumed_qty"`
	ShortfallQty decimal.Decimal   `json:"shortfall_qty"`
	Lines        []ConsumptionLine `json:"lines"`
}

// lockFifoCandidates reads the open records of a material at a tier in FIFO
// order, all under row locks so concurrent consumers serialize per lot.
func lockFifoCandidates(tx *gorm.DB, req *ConsumeRequest) ([]*models.StockLot, error) {
	var lots []*models.StockLot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND material_id = ? AND tier = ? AND process_code = ?",
			req.PlantId, req.MaterialId, req.Tier, req.ProcessCode).
		Where("qty - used_qty > 0").
		Order("received_at, id").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// lockNewestLot finds the most recently received record of the material at
// the tier regardless of availability, for over-drawing when nothing open
// remains but negatives are allowed.
func lockNewestLot(tx *gorm.DB, req *ConsumeRequest) (*models.StockLot, error) {
	var lot models.StockLot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ? AND material_id = ? AND tier = ? AND process_code = ?",
			req.PlantId, req.MaterialId, req.Tier, req.ProcessCode).
		Order("received_at DESC, id DESC").
		First(&lot).Error
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// ConsumeStock draws the requested quantity from the tier's stock records
// oldest-first inside the caller's transaction. Each draw bumps the record's
// used_qty and, when the request names a production lot, writes a
// consumption row so the draw can be rolled back later.
//
// With AllowNegative the remainder after walking the open records is pushed
// onto the last record touched (or, when nothing was open, onto the newest
// record of the key), driving its used_qty past qty. Without it the draws
// made so far stand and the remainder comes back as ShortfallQty; whether a
// shortfall is acceptable is the caller's call, not this function's.
func ConsumeStock(tx *gorm.DB, logger *logrus.Logger, req *ConsumeRequest) (*ConsumeResult, error) {
	if req == nil || !req.Qty.IsPositive() {
		return nil, errors.New("consume qty must be positive")
	}

	result := ConsumeResult{
		RequestedQty: req.Qty,
		ConsumedQty:  decimal.Zero,
		ShortfallQty: decimal.Zero,
	}

	candidates, err := lockFifoCandidates(tx, req)
	if err != nil {
		config.LogError(logger, "fifo.go", "ConsumeStock", "LockFifoCandidates", req, err)
		return nil, err
	}

	remaining := req.Qty
	var lastDrawn *models.StockLot
	for _, lot := range candidates {
		if !remaining.IsPositive() {
			break
		}
		draw := lot.AvailableQty()
		if draw.GreaterThan(remaining) {
			draw = remaining
		}
		if err := drawFromLot(tx, req, lot, draw, &result); err != nil {
			config.LogError(logger, "fifo.go", "ConsumeStock", "DrawFromLot", lot, err)
			return nil, err
		}
		remaining = remaining.Sub(draw)
		lastDrawn = lot
	}

	if remaining.IsPositive() {
		if !req.AllowNegative {
			result.ShortfallQty = remaining
			return &result, nil
		}

		over := lastDrawn
		if over == nil {
			over, err = lockNewestLot(tx, req)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// no record of this key has ever existed at the tier,
				// so there is nothing to over-draw
				result.ShortfallQty = remaining
				return &result, nil
			}
			if err != nil {
				config.LogError(logger, "fifo.go", "ConsumeStock", "LockNewestLot", req, err)
				return nil, err
			}
		}
		if err := drawFromLot(tx, req, over, remaining, &result); err != nil {
			config.LogError(logger, "fifo.go", "ConsumeStock", "OverDraw", over, err)
			return nil, err
		}
		remaining = decimal.Zero
	}

	return &result, nil
}

func drawFromLot(tx *gorm.DB, req *ConsumeRequest, lot *models.StockLot, qty decimal.Decimal, result *ConsumeResult) error {
	lot.UsedQty = lot.UsedQty.Add(qty)
	if err := tx.Model(&models.StockLot{}).
		Where("id = ?", lot.ID).
		Update("used_qty", lot.UsedQty).Error; err != nil {
		return err
	}

	if req.ProductionLotId > 0 {
		record := models.LotConsumption{
			PlantId:         req.PlantId,
			ProductionLotId: req.ProductionLotId,
			StockLotId:      lot.ID,
			Qty:             qty,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
	}

	result.ConsumedQty = result.ConsumedQty.Add(qty)
	result.Lines = append(result.Lines, ConsumptionLine{
		StockLotId: lot.ID,
		LotNumber:  lot.LotNumber,
		Qty:        qty,
	})
	return nil
}

// ConsumeStockForPlant runs one consumption in its own transaction,
// serialized by the plant posting lock. A partially satisfied draw commits;
// the shortfall is reported in the result for the caller to act on.
func ConsumeStockForPlant(ctx context.Context, req *ConsumeRequest) (*ConsumeResult, error) {
	ctx, span := tracer.Start(ctx, "ConsumeStockForPlant")
	defer span.End()

	logger := config.GetLogger()

	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	req.PlantId = plantId

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

	result, err := ConsumeStock(tx, logger, req)
	if err != nil {
		tx.Rollback()
		return result, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return result, nil
}

package models_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/models"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/workflow"
)

func mustCreateMaterial(t *testing.T, ctx context.Context, sku string) *models.Material {
	t.Helper()
	material, err := models.CreateMaterial(ctx, &models.NewMaterial{Sku: sku, Name: sku, Unit: "kg"})
	if err != nil {
		t.Fatalf("CreateMaterial %s: %v", sku, err)
	}
	return material
}

func mustReceive(t *testing.T, ctx context.Context, materialId int, lotNumber string, qty int64) *models.StockLot {
	t.Helper()
	lot, err := models.ReceiveStockLot(ctx, &models.NewStockReceipt{
		MaterialId: materialId,
		LotNumber:  lotNumber,
		Qty:        decimal.NewFromInt(qty),
	})
	if err != nil {
		t.Fatalf("ReceiveStockLot %s: %v", lotNumber, err)
	}
	return lot
}

func mustTransfer(t *testing.T, ctx context.Context, input *models.NewStockTransfer) *models.StockTransferRecord {
	t.Helper()
	record, err := models.TransferStockLot(ctx, input)
	if err != nil {
		t.Fatalf("TransferStockLot %s: %v", input.LotNumber, err)
	}
	return record
}

func TestReceiveAccumulatesUntilExhausted(t *testing.T) {
	ctx := setupIntegration(t)
	material := mustCreateMaterial(t, ctx, "STEEL-01")

	first := mustReceive(t, ctx, material.ID, "RM-100", 50)
	second := mustReceive(t, ctx, material.ID, "RM-100", 30)
	if first.ID != second.ID {
		t.Fatalf("same lot number at the same tier must accumulate into one record")
	}
	if !second.Qty.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected accumulated qty 80, got %s", second.Qty)
	}

	// a second material must not hijack the lot number
	other := mustCreateMaterial(t, ctx, "ALU-01")
	if _, err := models.ReceiveStockLot(ctx, &models.NewStockReceipt{
		MaterialId: other.ID, LotNumber: "RM-100", Qty: decimal.NewFromInt(5),
	}); err == nil {
		t.Fatal("expected material mismatch error")
	}

	// drain the record completely, then try to reopen it
	mustTransfer(t, ctx, &models.NewStockTransfer{
		LotNumber: "RM-100",
		Qty:       decimal.NewFromInt(80),
		FromTier:  models.StockTierWarehouse,
		ToTier:    models.StockTierFloor,
	})
	_, err := models.ReceiveStockLot(ctx, &models.NewStockReceipt{
		MaterialId: material.ID, LotNumber: "RM-100", Qty: decimal.NewFromInt(10),
	})
	if !errors.Is(err, models.ErrLotExhausted) {
		t.Fatalf("exhausted record must reject accumulation, got %v", err)
	}
}

func TestTransferPoliciesClampAndStrict(t *testing.T) {
	ctx := setupIntegration(t)
	material := mustCreateMaterial(t, ctx, "STEEL-01")
	mustReceive(t, ctx, material.ID, "RM-200", 40)

	// clamp: asking for more than available moves what is there
	record := mustTransfer(t, ctx, &models.NewStockTransfer{
		LotNumber: "RM-200",
		Qty:       decimal.NewFromInt(100),
		FromTier:  models.StockTierWarehouse,
		ToTier:    models.StockTierFloor,
		Policy:    models.TransferPolicyClamp,
	})
	if !record.Qty.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("clamp should move 40, got %s", record.Qty)
	}

	// strict: shortfall fails without touching anything
	_, err := models.TransferStockLot(ctx, &models.NewStockTransfer{
		LotNumber:   "RM-200",
		Qty:         decimal.NewFromInt(100),
		FromTier:    models.StockTierFloor,
		ToTier:      models.StockTierProcess,
		ProcessCode: "CUT",
		Policy:      models.TransferPolicyStrict,
	})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("strict shortfall should fail, got %v", err)
	}

	// process-tier transfers default to strict
	_, err = models.TransferStockLot(ctx, &models.NewStockTransfer{
		LotNumber:   "RM-200",
		Qty:         decimal.NewFromInt(100),
		FromTier:    models.StockTierFloor,
		ToTier:      models.StockTierProcess,
		ProcessCode: "CUT",
	})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("process staging should default strict, got %v", err)
	}

	// exact amount passes, and tier totals are conserved
	mustTransfer(t, ctx, &models.NewStockTransfer{
		LotNumber:   "RM-200",
		Qty:         decimal.NewFromInt(15),
		FromTier:    models.StockTierFloor,
		ToTier:      models.StockTierProcess,
		ProcessCode: "CUT",
	})

	lots, err := models.ListStockLots(ctx, nil, nil, &material.ID)
	if err != nil {
		t.Fatalf("ListStockLots: %v", err)
	}
	totalAvailable := decimal.Zero
	for _, lot := range lots {
		totalAvailable = totalAvailable.Add(lot.AvailableQty())
	}
	if !totalAvailable.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("transfers must conserve total available qty, got %s", totalAvailable)
	}
}

func TestCancelTransferRestoresSourceAndRemovesDest(t *testing.T) {
	ctx := setupIntegration(t)
	material := mustCreateMaterial(t, ctx, "STEEL-01")
	source := mustReceive(t, ctx, material.ID, "RM-300", 60)

	record := mustTransfer(t, ctx, &models.NewStockTransfer{
		LotNumber: "RM-300",
		Qty:       decimal.NewFromInt(25),
		FromTier:  models.StockTierWarehouse,
		ToTier:    models.StockTierFloor,
	})

	if _, err := models.CancelStockTransfer(ctx, record.ID); err != nil {
		t.Fatalf("CancelStockTransfer: %v", err)
	}

	db := config.GetDB()
	var sourceLot models.StockLot
	if err := db.First(&sourceLot, source.ID).Error; err != nil {
		t.Fatalf("fetch source: %v", err)
	}
	if !sourceLot.UsedQty.IsZero() {
		t.Fatalf("cancel must restore source used qty, got %s", sourceLot.UsedQty)
	}
	var destCount int64
	db.Model(&models.StockLot{}).
		Where("lot_number = ? AND tier = ?", "RM-300", models.StockTierFloor).
		Count(&destCount)
	if destCount != 0 {
		t.Fatalf("fully reversed destination record should be gone, found %d", destCount)
	}

	// once the destination has been consumed from, the transfer is final
	record = mustTransfer(t, ctx, &models.NewStockTransfer{
		LotNumber: "RM-300",
		Qty:       decimal.NewFromInt(25),
		FromTier:  models.StockTierWarehouse,
		ToTier:    models.StockTierFloor,
	})
	mustTransfer(t, ctx, &models.NewStockTransfer{
		LotNumber:   "RM-300",
		Qty:         decimal.NewFromInt(5),
		FromTier:    models.StockTierFloor,
		ToTier:      models.StockTierProcess,
		ProcessCode: "CUT",
	})
	if _, err := models.CancelStockTransfer(ctx, record.ID); !errors.Is(err, models.ErrLotInUse) {
		t.Fatalf("cancel after downstream consumption should fail, got %v", err)
	}
}

func TestFifoConsumeOrderAndNegativeStock(t *testing.T) {
	ctx := setupIntegration(t)
	logger := logrus.New()
	material := mustCreateMaterial(t, ctx, "STEEL-01")
	plantId, _ := utils.GetPlantIdFromContext(ctx)

	// stage three lots at the CUT station, oldest first
	for _, lot := range []struct {
		number string
		qty    int64
	}{{"RM-401", 10}, {"RM-402", 10}, {"RM-403", 10}} {
		mustReceive(t, ctx, material.ID, lot.number, lot.qty)
		mustTransfer(t, ctx, &models.NewStockTransfer{
			LotNumber:   lot.number,
			Qty:         decimal.NewFromInt(lot.qty),
			FromTier:    models.StockTierWarehouse,
			ToTier:      models.StockTierProcess,
			ProcessCode: "CUT",
		})
	}

	db := config.GetDB()
	tx := db.Begin()
	result, err := workflow.ConsumeStock(tx, logger, &workflow.ConsumeRequest{
		PlantId:     plantId,
		MaterialId:  material.ID,
		Qty:         decimal.NewFromInt(15),
		Tier:        models.StockTierProcess,
		ProcessCode: "CUT",
	})
	if err != nil {
		_ = tx.Rollback().Error
		t.Fatalf("ConsumeStock: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit consume: %v", err)
	}

	if len(result.Lines) != 2 {
		t.Fatalf("expected 2 consumption lines, got %d", len(result.Lines))
	}
	if result.Lines[0].LotNumber != "RM-401" || !result.Lines[0].Qty.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("oldest lot must drain first, got %+v", result.Lines[0])
	}
	if result.Lines[1].LotNumber != "RM-402" || !result.Lines[1].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("second lot takes the rest, got %+v", result.Lines[1])
	}

	// over-demand without negatives draws what is there and reports the rest
	tx = db.Begin()
	result, err = workflow.ConsumeStock(tx, logger, &workflow.ConsumeRequest{
		PlantId:     plantId,
		MaterialId:  material.ID,
		Qty:         decimal.NewFromInt(100),
		Tier:        models.StockTierProcess,
		ProcessCode: "CUT",
	})
	if err != nil {
		_ = tx.Rollback().Error
		t.Fatalf("ConsumeStock over-demand: %v", err)
	}
	_ = tx.Rollback().Error
	if !result.ConsumedQty.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("over-demand should still drain the 15 available, got %s", result.ConsumedQty)
	}
	if !result.ShortfallQty.Equal(decimal.NewFromInt(85)) {
		t.Fatalf("expected shortfall 85, got %s", result.ShortfallQty)
	}

	// with negatives enabled the remainder lands on the last lot drawn
	tx = db.Begin()
	result, err = workflow.ConsumeStock(tx, logger, &workflow.ConsumeRequest{
		PlantId:       plantId,
		MaterialId:    material.ID,
		Qty:           decimal.NewFromInt(20),
		Tier:          models.StockTierProcess,
		ProcessCode:   "CUT",
		AllowNegative: true,
	})
	if err != nil {
		_ = tx.Rollback().Error
		t.Fatalf("ConsumeStock allowNegative: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit consume: %v", err)
	}
	if !result.ConsumedQty.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("allowNegative must consume the full demand, got %s", result.ConsumedQty)
	}

	var last models.StockLot
	if err := db.Where("plant_id = ? AND lot_number = ? AND tier = ?", plantId, "RM-403", models.StockTierProcess).
		First(&last).Error; err != nil {
		t.Fatalf("fetch RM-403: %v", err)
	}
	if !last.AvailableQty().IsNegative() {
		t.Fatalf("last lot should have gone negative, available %s", last.AvailableQty())
	}
}

func TestPartialConsumeCommitsAndLotCreationStaysStrict(t *testing.T) {
	ctx := setupIntegration(t)
	material := mustCreateMaterial(t, ctx, "STEEL-01")

	mustReceive(t, ctx, material.ID, "RM-600", 10)
	mustTransfer(t, ctx, &models.NewStockTransfer{
		LotNumber:   "RM-600",
		Qty:         decimal.NewFromInt(10),
		FromTier:    models.StockTierWarehouse,
		ToTier:      models.StockTierProcess,
		ProcessCode: "CUT",
	})

	// the exposed consume commits the partial draw and reports the rest
	result, err := workflow.ConsumeStockForPlant(ctx, &workflow.ConsumeRequest{
		MaterialId:  material.ID,
		Qty:         decimal.NewFromInt(25),
		Tier:        models.StockTierProcess,
		ProcessCode: "CUT",
	})
	if err != nil {
		t.Fatalf("ConsumeStockForPlant: %v", err)
	}
	if !result.ConsumedQty.Equal(decimal.NewFromInt(10)) || !result.ShortfallQty.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected 10 consumed and 15 short, got %+v", result)
	}

	tier := models.StockTierProcess
	code := "CUT"
	lots, err := models.ListStockLots(ctx, &tier, &code, &material.ID)
	if err != nil || len(lots) != 1 {
		t.Fatalf("ListStockLots: %v (%d lots)", err, len(lots))
	}
	if !lots[0].AvailableQty().IsZero() {
		t.Fatalf("partial draw must persist, available %s", lots[0].AvailableQty())
	}

	// lot creation stays strict: any shortfall rolls the whole start back
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Sku: "WIDGET-2", Name: "Widget", LotPrefix: "WG",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if _, err := models.CreateRecipe(ctx, &models.NewRecipe{
		ProductId:   product.ID,
		ProcessCode: "CUT",
		MaterialId:  material.ID,
		QtyPerUnit:  decimal.NewFromInt(2),
	}); err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}

	if _, err := workflow.CreateProductionLot(ctx, &models.NewProductionLot{
		ProductId:   product.ID,
		ProcessCode: "CUT",
		PlannedQty:  decimal.NewFromInt(10),
	}); !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	created, err := models.ListProductionLots(ctx, nil)
	if err != nil || len(created) != 0 {
		t.Fatalf("failed start must not leave a lot behind: %v (%d lots)", err, len(created))
	}
	day := time.Now().UTC().Format("060102")
	if last, _ := models.PeekSequenceNumber(ctx, "WG", day); last != 0 {
		t.Fatalf("failed start must not spend a number, counter at %d", last)
	}
	lots, _ = models.ListStockLots(ctx, &tier, &code, &material.ID)
	if len(lots) != 1 || !lots[0].AvailableQty().IsZero() {
		t.Fatalf("failed start must not move stock, got %+v", lots)
	}
}

func TestProductionLotConsumesAndRollsBack(t *testing.T) {
	ctx := setupIntegration(t)
	material := mustCreateMaterial(t, ctx, "STEEL-01")

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Sku: "WIDGET-1", Name: "Widget", LotPrefix: "WG",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if _, err := models.CreateRecipe(ctx, &models.NewRecipe{
		ProductId:   product.ID,
		ProcessCode: "CUT",
		MaterialId:  material.ID,
		QtyPerUnit:  decimal.NewFromInt(2),
	}); err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}

	mustReceive(t, ctx, material.ID, "RM-500", 100)
	mustTransfer(t, ctx, &models.NewStockTransfer{
		LotNumber:   "RM-500",
		Qty:         decimal.NewFromInt(100),
		FromTier:    models.StockTierWarehouse,
		ToTier:      models.StockTierProcess,
		ProcessCode: "CUT",
	})

	result, err := workflow.CreateProductionLot(ctx, &models.NewProductionLot{
		ProductId:   product.ID,
		ProcessCode: "CUT",
		PlannedQty:  decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("CreateProductionLot: %v", err)
	}
	lot := result.Lot
	if lot.LotNumber == "" || lot.Status != models.ProductionLotStatusInProgress {
		t.Fatalf("unexpected lot %+v", lot)
	}
	if len(result.Consumptions) != 1 || !result.Consumptions[0].ConsumedQty.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected 20 consumed for 10 units at 2/unit, got %+v", result.Consumptions)
	}

	consumptions, err := models.ListLotConsumptions(ctx, lot.ID)
	if err != nil || len(consumptions) == 0 {
		t.Fatalf("consumption trail missing: %v", err)
	}

	// a second lot the same day gets the next number
	result2, err := workflow.CreateProductionLot(ctx, &models.NewProductionLot{
		ProductId:   product.ID,
		ProcessCode: "CUT",
		PlannedQty:  decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateProductionLot #2: %v", err)
	}
	if result2.Lot.LotNumber == lot.LotNumber {
		t.Fatalf("second lot must get a fresh number")
	}

	// cancel gives the material back
	if _, err := workflow.CancelProductionLot(ctx, lot.ID); err != nil {
		t.Fatalf("CancelProductionLot: %v", err)
	}
	lots, err := models.ListStockLots(ctx, nil, nil, &material.ID)
	if err != nil {
		t.Fatalf("ListStockLots: %v", err)
	}
	totalAvailable := decimal.Zero
	for _, l := range lots {
		totalAvailable = totalAvailable.Add(l.AvailableQty())
	}
	// 100 received, 30 consumed across both lots, 20 returned by the cancel
	if !totalAvailable.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("cancel should restore consumed stock, available %s", totalAvailable)
	}
	if after, _ := models.ListLotConsumptions(ctx, lot.ID); len(after) != 0 {
		t.Fatalf("cancel must delete the consumption trail, %d rows left", len(after))
	}

	// complete the surviving lot
	completed, err := workflow.CompleteProductionLot(ctx, result2.Lot.ID, decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("CompleteProductionLot: %v", err)
	}
	if completed.Status != models.ProductionLotStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("unexpected completed lot %+v", completed)
	}
	if _, err := workflow.CancelProductionLot(ctx, completed.ID); err == nil {
		t.Fatal("completed lot must not be cancellable")
	}
}

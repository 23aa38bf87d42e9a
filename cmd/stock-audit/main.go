package main

import (
	"flag"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/models"
)

// Audits the stock ledger of one plant for invariant violations:
//   - overdrawn records (used_qty above qty without negatives enabled)
//   - transfer records whose destination no longer exists
//   - lot numbers whose tier balances no longer add up against their
//     transfer history (warehouse receipts minus transfers out should
//     match what the lower tiers hold plus what they consumed)
//
// Read-only; violations are logged, the exit code reports whether any
// were found.
func main() {
	plantId := flag.String("plant", strings.TrimSpace(os.Getenv("PLANT_ID")), "plant id to audit")
	flag.Parse()

	logger := config.GetLogger()
	if *plantId == "" {
		logger.Fatal("plant id is required (-plant or PLANT_ID)")
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()

	violations := 0

	var overdrawn []*models.StockLot
	if err := db.
		Where("plant_id = ? AND used_qty > qty", *plantId).
		Find(&overdrawn).Error; err != nil {
		logger.Fatal(err)
	}
	for _, lot := range overdrawn {
		violations++
		logger.WithFields(logrus.Fields{
			"lot_number":   lot.LotNumber,
			"tier":         lot.Tier,
			"process_code": lot.ProcessCode,
			"qty":          lot.Qty,
			"used_qty":     lot.UsedQty,
		}).Warn("stock record is overdrawn")
	}

	var danglingTransfers []*models.StockTransferRecord
	if err := db.
		Where("plant_id = ?", *plantId).
		Where("dest_lot_id NOT IN (SELECT id FROM stock_lots)").
		Find(&danglingTransfers).Error; err != nil {
		logger.Fatal(err)
	}
	for _, record := range danglingTransfers {
		violations++
		logger.WithFields(logrus.Fields{
			"record_id":  record.ID,
			"lot_number": record.LotNumber,
			"from_tier":  record.FromTier,
			"to_tier":    record.ToTier,
			"qty":        record.Qty,
		}).Warn("transfer record points at a missing destination")
	}

	// Conservation per lot number: everything a source tier marked as used
	// for transfers must equal what the destination records hold plus what
	// they in turn consumed.
	type tierBalance struct {
		LotNumber string
		Moved     decimal.Decimal
		Held      decimal.Decimal
	}
	var balances []tierBalance
	if err := db.Raw(`
		SELECT t.lot_number AS lot_number,
		       COALESCE(SUM(t.qty), 0) AS moved,
		       COALESCE((SELECT SUM(s.qty) FROM stock_lots s
		                 WHERE s.plant_id = t.plant_id
		                   AND s.lot_number = t.lot_number
		                   AND s.tier <> 'W'), 0) AS held
		FROM stock_transfer_records t
		WHERE t.plant_id = ?
		GROUP BY t.plant_id, t.lot_number`, *plantId).
		Scan(&balances).Error; err != nil {
		logger.Fatal(err)
	}
	for _, balance := range balances {
		if !balance.Moved.Equal(balance.Held) {
			violations++
			logger.WithFields(logrus.Fields{
				"lot_number": balance.LotNumber,
				"moved":      balance.Moved,
				"held":       balance.Held,
			}).Warn("tier balances do not match transfer history")
		}
	}

	if violations > 0 {
		logger.WithFields(logrus.Fields{"plant_id": *plantId, "violations": violations}).
			Error("stock audit found violations")
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{"plant_id": *plantId}).Info("stock audit clean")
}

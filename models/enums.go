package models

import "errors"

// StockTier is the physical location a lot currently sits in:
// bulk warehouse, production floor, or a specific process station.
type StockTier string

const (
	StockTierWarehouse StockTier = "W"
	StockTierFloor     StockTier = "F"
	StockTierProcess   StockTier = "P"
)

func ParseStockTier(s string) (StockTier, error) {
	switch s {
	case "W", "warehouse":
		return StockTierWarehouse, nil
	case "F", "floor":
		return StockTierFloor, nil
	case "P", "process":
		return StockTierProcess, nil
	default:
		return "", errors.New("invalid stock tier")
	}
}

// TransferPolicy decides what happens when the requested quantity exceeds
// what is available at the source tier.
type TransferPolicy string

const (
	// TransferPolicyClamp moves min(requested, available). Used by
	// unattended floor-level transfers.
	TransferPolicyClamp TransferPolicy = "clamp"
	// TransferPolicyStrict fails the transfer outright. Used when exact
	// quantities must match, e.g. process-tier staging.
	TransferPolicyStrict TransferPolicy = "strict"
)

type ProductionLotStatus string

const (
	ProductionLotStatusInProgress ProductionLotStatus = "I"
	ProductionLotStatusCompleted  ProductionLotStatus = "C"
	ProductionLotStatusCancelled  ProductionLotStatus = "X"
)

type BundleStatus string

const (
	BundleStatusActive    BundleStatus = "A"
	BundleStatusPartial   BundleStatus = "P"
	BundleStatusShipped   BundleStatus = "S"
	BundleStatusUnbundled BundleStatus = "U"
)

func ParseBundleStatus(s string) (BundleStatus, error) {
	switch s {
	case "A", "active":
		return BundleStatusActive, nil
	case "P", "partial":
		return BundleStatusPartial, nil
	case "S", "shipped":
		return BundleStatusShipped, nil
	case "U", "unbundled":
		return BundleStatusUnbundled, nil
	default:
		return "", errors.New("invalid bundle status")
	}
}

type BundleItemStatus string

const (
	BundleItemStatusBundled BundleItemStatus = "B"
	BundleItemStatusShipped BundleItemStatus = "S"
)

// BundleType is derived from the member lots' product identities.
type BundleType string

const (
	BundleTypeSameProduct  BundleType = "S"
	BundleTypeMultiProduct BundleType = "M"
)

// SequenceCheckResult classifies an externally-reported sequence value
// against the stored counter, for auditing scanned identifiers.
type SequenceCheckResult string

const (
	SequenceCheckInSync    SequenceCheckResult = "InSync"
	SequenceCheckDuplicate SequenceCheckResult = "Duplicate"
	SequenceCheckGap       SequenceCheckResult = "Gap"
)

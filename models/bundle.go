package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	BundleSequencePrefix = "BD"
	BundleSequenceWidth  = 3
)

// Bundle aggregates production lots into one shippable unit. It owns its
// items; deleting the bundle deletes them.
type Bundle struct {
	ID           int             `gorm:"primary_key" json:"id"`
	PlantId      string          `gorm:"index;not null" json:"plant_id"`
	BundleNumber string          `gorm:"index;size:100;not null" json:"bundle_number"`
	ProductId    int             `gorm:"index" json:"product_id"`
	SetSize      int             `gorm:"not null;default:0" json:"set_size"`
	TotalQty     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_qty"`
	Type         BundleType      `gorm:"type:enum('S','M');default:S" json:"type"`
	Status       BundleStatus    `gorm:"type:enum('A','P','S','U');default:A" json:"status"`
	Items        []BundleItem    `gorm:"foreignKey:BundleId;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type BundleItem struct {
	ID              int              `gorm:"primary_key" json:"id"`
	BundleId        int              `gorm:"index;not null" json:"bundle_id"`
	ProductionLotId int              `gorm:"index;not null" json:"production_lot_id"`
	Qty             decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"qty"`
	Status          BundleItemStatus `gorm:"type:enum('B','S');default:B" json:"status"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBundle struct {
	ProductId int `json:"product_id" binding:"required"`
	SetSize   int `json:"set_size"`
}

type NewBundleItem struct {
	ProductionLotId int             `json:"production_lot_id" binding:"required"`
	Qty             decimal.Decimal `json:"qty"`
}

type NewSetBundle struct {
	SetSize int             `json:"set_size"`
	Items   []NewBundleItem `json:"items" binding:"required"`
}

// BundleStats aggregates bundle and item counts for dashboards.
type BundleStats struct {
	ActiveCount     int64           `json:"active_count"`
	PartialCount    int64           `json:"partial_count"`
	ShippedCount    int64           `json:"shipped_count"`
	UnbundledCount  int64           `json:"unbundled_count"`
	ShippedItems    int64           `json:"shipped_items"`
	PendingItems    int64           `json:"pending_items"`
	ShippedItemsQty decimal.Decimal `json:"shipped_items_qty"`
	PendingItemsQty decimal.Decimal `json:"pending_items_qty"`
}

// BundleStatusFromItems is the single source of truth of the bundle state
// machine: every mutation recomputes status through here.
//
// Zero items means the bundle has been emptied (fresh bundles start ACTIVE
// without consulting this rule).
func BundleStatusFromItems(items []BundleItem) BundleStatus {
	if len(items) == 0 {
		return BundleStatusUnbundled
	}
	shipped := 0
	for _, item := range items {
		if item.Status == BundleItemStatusShipped {
			shipped++
		}
	}
	switch {
	case shipped == 0:
		return BundleStatusActive
	case shipped == len(items):
		return BundleStatusShipped
	default:
		return BundleStatusPartial
	}
}

func BundleTypeFromProducts(productIds []int) BundleType {
	if len(utils.UniqueSlice(productIds)) > 1 {
		return BundleTypeMultiProduct
	}
	return BundleTypeSameProduct
}

func bundleStatsCacheKey(plantId string) string {
	return "BundleStats:" + plantId
}

// fetchBundleTx loads a bundle with a row lock and its current items.
func fetchBundleTx(tx *gorm.DB, plantId string, bundleId int) (*Bundle, error) {
	var bundle Bundle
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plant_id = ?", plantId).
		First(&bundle, bundleId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := tx.Where("bundle_id = ?", bundle.ID).Order("id").Find(&bundle.Items).Error; err != nil {
		return nil, err
	}
	return &bundle, nil
}

// recomputeBundleTx re-derives status, type and total quantity from the
// current item set and persists them.
func recomputeBundleTx(tx *gorm.DB, bundle *Bundle) error {
	var items []BundleItem
	if err := tx.Where("bundle_id = ?", bundle.ID).Order("id").Find(&items).Error; err != nil {
		return err
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Qty)
	}

	bundleType := bundle.Type
	if len(items) > 0 {
		var productIds []int
		if err := tx.Model(&ProductionLot{}).
			Where("id IN (SELECT production_lot_id FROM bundle_items WHERE bundle_id = ?)", bundle.ID).
			Distinct().
			Pluck("product_id", &productIds).Error; err != nil {
			return err
		}
		bundleType = BundleTypeFromProducts(productIds)
	}

	status := BundleStatusFromItems(items)
	if err := tx.Model(&Bundle{}).
		Where("id = ?", bundle.ID).
		Updates(map[string]interface{}{
			"Status":   status,
			"Type":     bundleType,
			"TotalQty": total,
		}).Error; err != nil {
		return err
	}

	bundle.Items = items
	bundle.Status = status
	bundle.Type = bundleType
	bundle.TotalQty = total
	return nil
}

// mutable rejects mutations on bundles that already left the building or
// were torn down.
func (bundle *Bundle) mutable() error {
	switch bundle.Status {
	case BundleStatusShipped:
		return ErrBundleShipped
	case BundleStatusUnbundled:
		return errors.New("bundle is unbundled")
	}
	return nil
}

// CreateBundle creates an empty ACTIVE bundle, drawing its number from the
// sequence issuer.
func CreateBundle(ctx context.Context, input *NewBundle) (*Bundle, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	if err := utils.ValidateResourceId[Product](ctx, plantId, input.ProductId); err != nil {
		return nil, errors.New("product not found")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	scopeKey := time.Now().UTC().Format("060102")
	seq, err := NextSequenceNumberTx(tx, plantId, BundleSequencePrefix, scopeKey, BundleSequenceWidth)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	bundle := Bundle{
		PlantId:      plantId,
		BundleNumber: fmt.Sprintf("%s%s-%s", BundleSequencePrefix, scopeKey, seq),
		ProductId:    input.ProductId,
		SetSize:      input.SetSize,
		TotalQty:     decimal.Zero,
		Type:         BundleTypeSameProduct,
		Status:       BundleStatusActive,
	}
	if err := tx.Create(&bundle).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	config.RemoveRedisKey(bundleStatsCacheKey(plantId))
	return &bundle, nil
}

// CreateSetBundle creates a bundle and all of its items in one step.
func CreateSetBundle(ctx context.Context, input *NewSetBundle) (*Bundle, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	if len(input.Items) == 0 {
		return nil, errors.New("set bundle needs at least one item")
	}

	lotIds := make([]int, 0, len(input.Items))
	for _, item := range input.Items {
		if !item.Qty.IsPositive() {
			return nil, errors.New("item qty must be positive")
		}
		lotIds = append(lotIds, item.ProductionLotId)
	}
	if err := utils.ValidateResourcesId[ProductionLot](ctx, plantId, lotIds); err != nil {
		return nil, errors.New("production lot not found")
	}

	db := config.GetDB()

	var productIds []int
	if err := db.WithContext(ctx).Model(&ProductionLot{}).
		Where("plant_id = ? AND id IN ?", plantId, utils.UniqueSlice(lotIds)).
		Distinct().
		Pluck("product_id", &productIds).Error; err != nil {
		return nil, err
	}
	bundleType := BundleTypeFromProducts(productIds)
	scopeProductId := 0
	if bundleType == BundleTypeSameProduct && len(productIds) > 0 {
		scopeProductId = productIds[0]
	}

	total := decimal.Zero
	for _, item := range input.Items {
		total = total.Add(item.Qty)
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	scopeKey := time.Now().UTC().Format("060102")
	seq, err := NextSequenceNumberTx(tx, plantId, BundleSequencePrefix, scopeKey, BundleSequenceWidth)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	bundle := Bundle{
		PlantId:      plantId,
		BundleNumber: fmt.Sprintf("%s%s-%s", BundleSequencePrefix, scopeKey, seq),
		ProductId:    scopeProductId,
		SetSize:      input.SetSize,
		TotalQty:     total,
		Type:         bundleType,
		Status:       BundleStatusActive,
	}
	for _, item := range input.Items {
		bundle.Items = append(bundle.Items, BundleItem{
			ProductionLotId: item.ProductionLotId,
			Qty:             item.Qty,
			Status:          BundleItemStatusBundled,
		})
	}
	if err := tx.Create(&bundle).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	config.RemoveRedisKey(bundleStatsCacheKey(plantId))
	return &bundle, nil
}

// AddBundleItem appends a production lot to a bundle.
func AddBundleItem(ctx context.Context, bundleId int, input *NewBundleItem) (*Bundle, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	if !input.Qty.IsPositive() {
		return nil, errors.New("item qty must be positive")
	}
	if err := utils.ValidateResourceId[ProductionLot](ctx, plantId, input.ProductionLotId); err != nil {
		return nil, errors.New("production lot not found")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	bundle, err := fetchBundleTx(tx, plantId, bundleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := bundle.mutable(); err != nil {
		tx.Rollback()
		return nil, err
	}

	item := BundleItem{
		BundleId:        bundle.ID,
		ProductionLotId: input.ProductionLotId,
		Qty:             input.Qty,
		Status:          BundleItemStatusBundled,
	}
	if err := tx.Create(&item).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recomputeBundleTx(tx, bundle); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	config.RemoveRedisKey(bundleStatsCacheKey(plantId))
	return bundle, nil
}

func findBundleItem(bundle *Bundle, itemId int) *BundleItem {
	for i := range bundle.Items {
		if bundle.Items[i].ID == itemId {
			return &bundle.Items[i]
		}
	}
	return nil
}

// removeBundleItemTx deletes one still-bundled item and recomputes.
func removeBundleItemTx(tx *gorm.DB, bundle *Bundle, itemId int) error {
	item := findBundleItem(bundle, itemId)
	if item == nil {
		return utils.ErrorRecordNotFound
	}
	if item.Status == BundleItemStatusShipped {
		return ErrAlreadyShipped
	}
	if err := tx.Delete(&BundleItem{}, item.ID).Error; err != nil {
		return err
	}
	return recomputeBundleTx(tx, bundle)
}

// RemoveBundleItem takes an unshipped item out of a bundle.
func RemoveBundleItem(ctx context.Context, bundleId int, itemId int) (*Bundle, error) {
	return UnbundleItem(ctx, bundleId, itemId)
}

// UnbundleItem reverts one item to a loose lot. Shipped items cannot be
// unbundled.
func UnbundleItem(ctx context.Context, bundleId int, itemId int) (*Bundle, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	bundle, err := fetchBundleTx(tx, plantId, bundleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if bundle.Status == BundleStatusShipped {
		tx.Rollback()
		return nil, ErrBundleShipped
	}
	if err := removeBundleItemTx(tx, bundle, itemId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	config.RemoveRedisKey(bundleStatsCacheKey(plantId))
	return bundle, nil
}

// UnbundleBundle removes every still-bundled item, returning their
// production lot ids. Shipped items stay put.
func UnbundleBundle(ctx context.Context, bundleId int) (*Bundle, []int, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, nil, tx.Error
	}

	bundle, err := fetchBundleTx(tx, plantId, bundleId)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if len(bundle.Items) == 0 {
		tx.Rollback()
		return nil, nil, ErrBundleEmpty
	}

	releasedLotIds := make([]int, 0, len(bundle.Items))
	removedItemIds := make([]int, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		if item.Status == BundleItemStatusBundled {
			releasedLotIds = append(releasedLotIds, item.ProductionLotId)
			removedItemIds = append(removedItemIds, item.ID)
		}
	}
	if len(removedItemIds) == 0 {
		tx.Rollback()
		return nil, nil, ErrNothingToUnbundle
	}

	if err := tx.Where("id IN ?", removedItemIds).Delete(&BundleItem{}).Error; err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := recomputeBundleTx(tx, bundle); err != nil {
		tx.Rollback()
		return nil, nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, nil, err
	}

	config.RemoveRedisKey(bundleStatsCacheKey(plantId))
	return bundle, releasedLotIds, nil
}

// ShipBundleItem marks one item shipped.
func ShipBundleItem(ctx context.Context, bundleId int, itemId int) (*Bundle, error) {
	return setBundleItemStatus(ctx, bundleId, itemId, BundleItemStatusShipped)
}

// CancelBundleItemShipment reverts a shipped item to bundled.
func CancelBundleItemShipment(ctx context.Context, bundleId int, itemId int) (*Bundle, error) {
	return setBundleItemStatus(ctx, bundleId, itemId, BundleItemStatusBundled)
}

func setBundleItemStatus(ctx context.Context, bundleId int, itemId int, target BundleItemStatus) (*Bundle, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	bundle, err := fetchBundleTx(tx, plantId, bundleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	item := findBundleItem(bundle, itemId)
	if item == nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if item.Status == target {
		tx.Rollback()
		if target == BundleItemStatusShipped {
			return nil, ErrAlreadyShipped
		}
		return nil, ErrNotShipped
	}

	if err := tx.Model(&BundleItem{}).
		Where("id = ?", item.ID).
		Update("status", target).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recomputeBundleTx(tx, bundle); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	config.RemoveRedisKey(bundleStatsCacheKey(plantId))
	return bundle, nil
}

// ShipBundle marks every still-bundled item shipped in one step.
func ShipBundle(ctx context.Context, bundleId int) (*Bundle, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	bundle, err := fetchBundleTx(tx, plantId, bundleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(bundle.Items) == 0 {
		tx.Rollback()
		return nil, ErrBundleEmpty
	}

	pending := 0
	for _, item := range bundle.Items {
		if item.Status == BundleItemStatusBundled {
			pending++
		}
	}
	if pending == 0 {
		tx.Rollback()
		return nil, ErrNothingToShip
	}

	if err := tx.Model(&BundleItem{}).
		Where("bundle_id = ? AND status = ?", bundle.ID, BundleItemStatusBundled).
		Update("status", BundleItemStatusShipped).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := recomputeBundleTx(tx, bundle); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	config.RemoveRedisKey(bundleStatsCacheKey(plantId))
	return bundle, nil
}

func GetBundle(ctx context.Context, id int) (*Bundle, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	return utils.FetchModel[Bundle](ctx, plantId, id, "Items")
}

func ListBundles(ctx context.Context, status *BundleStatus) ([]*Bundle, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("plant_id = ?", plantId)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}

	var results []*Bundle
	err := dbCtx.Preload("Items").Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListShippedBundleItems lists every shipped item across the plant.
func ListShippedBundleItems(ctx context.Context) ([]*BundleItem, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	var results []*BundleItem
	err := db.WithContext(ctx).
		Joins("JOIN bundles ON bundles.id = bundle_items.bundle_id").
		Where("bundles.plant_id = ? AND bundle_items.status = ?", plantId, BundleItemStatusShipped).
		Order("bundle_items.id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetBundleStats aggregates counts by status and shipped/pending item
// totals. The result is cached briefly; the refresh is guarded by a Redis
// lock so concurrent dashboards don't stampede the aggregate queries.
func GetBundleStats(ctx context.Context) (*BundleStats, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	cacheKey := bundleStatsCacheKey(plantId)
	var cached *BundleStats
	if exists, err := config.GetRedisObject(cacheKey, &cached); err != nil {
		return nil, err
	} else if exists && cached != nil {
		return cached, nil
	}

	if lock, err := utils.PlantLock(ctx, plantId, "BundleStats", "bundle.go", "GetBundleStats"); err == nil && lock != nil {
		defer lock.Release(ctx)
		// a concurrent refresh may have filled the cache while we waited
		if exists, err := config.GetRedisObject(cacheKey, &cached); err == nil && exists && cached != nil {
			return cached, nil
		}
	}

	db := config.GetDB()
	stats := BundleStats{}

	statusCounts := []struct {
		Status BundleStatus
		Count  int64
	}{}
	if err := db.WithContext(ctx).Model(&Bundle{}).
		Select("status, COUNT(*) AS count").
		Where("plant_id = ?", plantId).
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}
	for _, row := range statusCounts {
		switch row.Status {
		case BundleStatusActive:
			stats.ActiveCount = row.Count
		case BundleStatusPartial:
			stats.PartialCount = row.Count
		case BundleStatusShipped:
			stats.ShippedCount = row.Count
		case BundleStatusUnbundled:
			stats.UnbundledCount = row.Count
		}
	}

	itemTotals := []struct {
		Status BundleItemStatus
		Count  int64
		Qty    decimal.Decimal
	}{}
	if err := db.WithContext(ctx).Model(&BundleItem{}).
		Select("bundle_items.status AS status, COUNT(*) AS count, COALESCE(SUM(bundle_items.qty), 0) AS qty").
		Joins("JOIN bundles ON bundles.id = bundle_items.bundle_id").
		Where("bundles.plant_id = ?", plantId).
		Group("bundle_items.status").
		Scan(&itemTotals).Error; err != nil {
		return nil, err
	}
	for _, row := range itemTotals {
		switch row.Status {
		case BundleItemStatusShipped:
			stats.ShippedItems = row.Count
			stats.ShippedItemsQty = row.Qty
		case BundleItemStatusBundled:
			stats.PendingItems = row.Count
			stats.PendingItemsQty = row.Qty
		}
	}

	if err := config.SetRedisObject(cacheKey, &stats, 5*time.Minute); err != nil {
		return nil, err
	}
	return &stats, nil
}

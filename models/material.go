package models

import (
	"context"
	"errors"
	"time"

	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
)

// Material is the raw-material master record.
type Material struct {
	ID        int       `gorm:"primary_key" json:"id"`
	PlantId   string    `gorm:"index;not null" json:"plant_id"`
	Sku       string    `gorm:"size:100;not null" json:"sku" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Unit      string    `gorm:"size:20" json:"unit"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterial struct {
	Sku  string `json:"sku" binding:"required"`
	Name string `json:"name" binding:"required"`
	Unit string `json:"unit"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewMaterial) validate(ctx context.Context, plantId string, id int) error {
	// sku
	if err := utils.ValidateUnique[Material](ctx, plantId, "sku", input.Sku, id); err != nil {
		return err
	}
	return nil
}

func CreateMaterial(ctx context.Context, input *NewMaterial) (*Material, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	if err := input.validate(ctx, plantId, 0); err != nil {
		return nil, err
	}

	material := Material{
		PlantId:  plantId,
		Sku:      input.Sku,
		Name:     input.Name,
		Unit:     input.Unit,
		IsActive: utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&material).Error
	if err != nil {
		return nil, err
	}
	// stale list cache
	utils.RemoveRedisList[Material](plantId)
	return &material, nil
}

func GetMaterial(ctx context.Context, id int) (*Material, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	return utils.FetchModel[Material](ctx, plantId, id)
}

// ListMaterial reads the cached list when available.
func ListMaterial(ctx context.Context, name *string) ([]*Material, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	// name filtering bypasses the cache
	if name == nil || len(*name) == 0 {
		cached, err := utils.RetrieveRedisList[Material](plantId)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}

	db := config.GetDB()
	var results []*Material

	dbCtx := db.WithContext(ctx).Where("plant_id = ?", plantId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	// db query
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}

	if name == nil || len(*name) == 0 {
		if err := utils.StoreRedisList[Material](results, plantId); err != nil {
			return nil, err
		}
	}
	return results, nil
}

package models

import (
	"context"
	"errors"
	"time"

	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
)

// Product is the finished-product master record.
// LotPrefix is the default sequence prefix for production lot numbers.
type Product struct {
	ID        int       `gorm:"primary_key" json:"id"`
	PlantId   string    `gorm:"index;not null" json:"plant_id"`
	Sku       string    `gorm:"size:100;not null" json:"sku" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	LotPrefix string    `gorm:"size:10" json:"lot_prefix"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Sku       string `json:"sku" binding:"required"`
	Name      string `json:"name" binding:"required"`
	LotPrefix string `json:"lot_prefix"`
}

func (input *NewProduct) validate(ctx context.Context, plantId string, id int) error {
	if err := utils.ValidateUnique[Product](ctx, plantId, "sku", input.Sku, id); err != nil {
		return err
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	if err := input.validate(ctx, plantId, 0); err != nil {
		return nil, err
	}

	product := Product{
		PlantId:   plantId,
		Sku:       input.Sku,
		Name:      input.Name,
		LotPrefix: input.LotPrefix,
		IsActive:  utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&product).Error
	if err != nil {
		return nil, err
	}
	utils.RemoveRedisList[Product](plantId)
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	return utils.FetchModel[Product](ctx, plantId, id)
}

func ListProduct(ctx context.Context, name *string) ([]*Product, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	if name == nil || len(*name) == 0 {
		cached, err := utils.RetrieveRedisList[Product](plantId)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}

	db := config.GetDB()
	var results []*Product

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
		if err := utils.StoreRedisList[Product](results, plantId); err != nil {
			return nil, err
		}
	}
	return results, nil
}

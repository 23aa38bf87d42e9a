package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
)

// Recipe is one material line of a product's process recipe:
// building one unit of the product at the given process takes
// QtyPerUnit of the material.
type Recipe struct {
	ID          int             `gorm:"primary_key" json:"id"`
	PlantId     string          `gorm:"index;not null" json:"plant_id"`
	ProductId   int             `gorm:"index;not null" json:"product_id" binding:"required"`
	ProcessCode string          `gorm:"size:20;not null" json:"process_code" binding:"required"`
	MaterialId  int             `gorm:"index;not null" json:"material_id" binding:"required"`
	QtyPerUnit  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_per_unit"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRecipe struct {
	ProductId   int             `json:"product_id" binding:"required"`
	ProcessCode string          `json:"process_code" binding:"required"`
	MaterialId  int             `json:"material_id" binding:"required"`
	QtyPerUnit  decimal.Decimal `json:"qty_per_unit"`
}

// MaterialRequirement is one scaled requirement line for a planned quantity.
type MaterialRequirement struct {
	MaterialId  int             `json:"material_id"`
	ProcessCode string          `json:"process_code"`
	QtyPerUnit  decimal.Decimal `json:"qty_per_unit"`
	RequiredQty decimal.Decimal `json:"required_qty"`
}

func (input *NewRecipe) validate(ctx context.Context, plantId string) error {
	if err := utils.ValidateResourceId[Product](ctx, plantId, input.ProductId); err != nil {
		return errors.New("product not found")
	}
	if err := utils.ValidateResourceId[Material](ctx, plantId, input.MaterialId); err != nil {
		return errors.New("material not found")
	}
	if !input.QtyPerUnit.IsPositive() {
		return errors.New("qty per unit must be positive")
	}
	return nil
}

func CreateRecipe(ctx context.Context, input *NewRecipe) (*Recipe, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	if err := input.validate(ctx, plantId); err != nil {
		return nil, err
	}

	recipe := Recipe{
		PlantId:     plantId,
		ProductId:   input.ProductId,
		ProcessCode: input.ProcessCode,
		MaterialId:  input.MaterialId,
		QtyPerUnit:  input.QtyPerUnit,
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&recipe).Error
	if err != nil {
		return nil, err
	}
	utils.RemoveRedisList[Recipe](plantId)
	return &recipe, nil
}

func ListRecipe(ctx context.Context, productId int) ([]*Recipe, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	db := config.GetDB()
	var results []*Recipe
	err := db.WithContext(ctx).
		Where("plant_id = ?", plantId).
		Where("product_id = ?", productId).
		Order("process_code, material_id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetMaterialRequirements scales the product's recipe lines by plannedQty.
// With processCode nil, lines are aggregated per material across processes.
func GetMaterialRequirements(ctx context.Context, productId int, processCode *string, plannedQty decimal.Decimal) ([]*MaterialRequirement, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}

	if err := utils.ValidateResourceId[Product](ctx, plantId, productId); err != nil {
		return nil, errors.New("product not found")
	}

	db := config.GetDB()
	var recipes []*Recipe
	dbCtx := db.WithContext(ctx).
		Where("plant_id = ?", plantId).
		Where("product_id = ?", productId)
	if processCode != nil && len(*processCode) > 0 {
		dbCtx = dbCtx.Where("process_code = ?", *processCode)
	}
	if err := dbCtx.Order("process_code, material_id").Find(&recipes).Error; err != nil {
		return nil, err
	}

	aggregate := processCode == nil || len(*processCode) == 0
	return ScaleRequirements(recipes, plannedQty, aggregate), nil
}

// ScaleRequirements is the pure part of the requirement calculator:
// requiredQty = qtyPerUnit * plannedQty, optionally aggregated per material.
func ScaleRequirements(recipes []*Recipe, plannedQty decimal.Decimal, aggregate bool) []*MaterialRequirement {
	if !aggregate {
		requirements := make([]*MaterialRequirement, 0, len(recipes))
		for _, r := range recipes {
			requirements = append(requirements, &MaterialRequirement{
				MaterialId:  r.MaterialId,
				ProcessCode: r.ProcessCode,
				QtyPerUnit:  r.QtyPerUnit,
				RequiredQty: r.QtyPerUnit.Mul(plannedQty),
			})
		}
		return requirements
	}

	// aggregate across processes, keeping first-seen order
	byMaterial := make(map[int]*MaterialRequirement)
	requirements := make([]*MaterialRequirement, 0, len(recipes))
	for _, r := range recipes {
		if existing, ok := byMaterial[r.MaterialId]; ok {
			existing.QtyPerUnit = existing.QtyPerUnit.Add(r.QtyPerUnit)
			existing.RequiredQty = existing.RequiredQty.Add(r.QtyPerUnit.Mul(plannedQty))
			continue
		}
		req := &MaterialRequirement{
			MaterialId:  r.MaterialId,
			QtyPerUnit:  r.QtyPerUnit,
			RequiredQty: r.QtyPerUnit.Mul(plannedQty),
		}
		byMaterial[r.MaterialId] = req
		requirements = append(requirements, req)
	}
	return requirements
}

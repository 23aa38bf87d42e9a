package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
)

// Plant is the tenant scope: one factory site.
// Every other row in the schema is keyed by plant_id.
type Plant struct {
	ID        uuid.UUID `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Code      string    `gorm:"size:20" json:"code"`
	Address   string    `gorm:"type:text" json:"address"`
	Timezone  string    `gorm:"size:50" json:"timezone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPlant struct {
	Name     string `json:"name" binding:"required"`
	Code     string `json:"code"`
	Address  string `json:"address"`
	Timezone string `json:"timezone"`
}

func CreatePlant(ctx context.Context, input *NewPlant) (*Plant, error) {
	plant := Plant{
		ID:       uuid.New(),
		Name:     input.Name,
		Code:     input.Code,
		Address:  input.Address,
		Timezone: input.Timezone,
		IsActive: utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&plant).Error
	if err != nil {
		return nil, err
	}
	return &plant, nil
}

func GetPlant(ctx context.Context, id string) (*Plant, error) {
	db := config.GetDB()
	var plant Plant
	if err := db.WithContext(ctx).Where("id = ?", id).First(&plant).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &plant, nil
}

func GetPlantFromContext(ctx context.Context) (*Plant, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id is required")
	}
	return GetPlant(ctx, plantId)
}

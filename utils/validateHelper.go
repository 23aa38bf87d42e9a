package utils

import (
	"context"
	"errors"
	"reflect"

	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
)

// check if id exists, using ctx's plant_id in WHERE, return RecordNotFound Error
func ValidateResourceId[T any](ctx context.Context, plantId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, plantId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

// check if ALL id exists, using ctx's plant_id in WHERE, return RecordNotFound Error
func ValidateResourcesId[M any, ID comparable](ctx context.Context, plantId string, ids []ID) error {
	unqIds := UniqueSlice(ids)

	count, err := ResourceCountWhere[M](ctx, plantId, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}

	return nil
}

func ValidateUnique[T any](ctx context.Context, plantId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, plantId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, plantId, column+" = ? AND NOT id = ?", value, exceptId)
	}

	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records, using WHERE plant_id = ? AND $condition
// plant_id can be blank for admin tooling
func ResourceCountWhere[T any](ctx context.Context, plantId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if plantId != "" {
		dbCtx.Where("plant_id = ?", plantId)
	}
	dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

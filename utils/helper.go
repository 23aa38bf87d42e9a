package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// returns slice removing duplicate elements
func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			// if not exists in map, append it, otherwise do nothing
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

// mergeSlices merges two integer slices and removes duplicates
func MergeIntSlices(slice1, slice2 []int) []int {
	elementMap := make(map[int]bool)
	mergedSlice := []int{}

	for _, elem := range slice1 {
		if !elementMap[elem] {
			elementMap[elem] = true
			mergedSlice = append(mergedSlice, elem)
		}
	}
	for _, elem := range slice2 {
		if !elementMap[elem] {
			elementMap[elem] = true
			mergedSlice = append(mergedSlice, elem)
		}
	}

	return mergedSlice
}

// safely dereference pointer of type T, nil pointer return zero value or optional default
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func NilIfEmpty[T comparable](ptr T) *T {
	var defaultZero T
	if ptr == defaultZero {
		return nil
	}
	return &ptr
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// PlantLock obtains a short-lived Redis lock scoped by plant.
// The caller must release the returned lock. Redis locking here is a
// best-effort optimization; posting paths also serialize via MySQL advisory
// locks, so correctness must not depend on it.
func PlantLock(ctx context.Context, plantId string, lockType string, moduleName string, functionName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", plantId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, plantId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for plantId", plantId, err)
		return nil, errors.New("could not obtain lock for plant")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for plantId", plantId, err)
		return nil, err
	}

	return lock, nil
}

package models_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/models"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
)

func TestSequenceIssuesMonotonicPaddedNumbers(t *testing.T) {
	ctx := setupIntegration(t)

	for i := 1; i <= 3; i++ {
		got, err := models.NextSequenceNumber(ctx, "LOT", "250101", 0)
		if err != nil {
			t.Fatalf("NextSequenceNumber #%d: %v", i, err)
		}
		if want := fmt.Sprintf("%04d", i); got != want {
			t.Fatalf("expected %s got %s", want, got)
		}
	}

	// width override
	if got, err := models.NextSequenceNumber(ctx, "BD", "250101", 3); err != nil || got != "001" {
		t.Fatalf("expected 001 got %s (%v)", got, err)
	}

	// different scope keys count independently
	if got, err := models.NextSequenceNumber(ctx, "LOT", "250102", 0); err != nil || got != "0001" {
		t.Fatalf("new scope should start at 0001, got %s (%v)", got, err)
	}

	last, err := models.PeekSequenceNumber(ctx, "LOT", "250101")
	if err != nil || last != 3 {
		t.Fatalf("peek expected 3 got %d (%v)", last, err)
	}
	if last, err := models.PeekSequenceNumber(ctx, "LOT", "999999"); err != nil || last != 0 {
		t.Fatalf("peek on unknown scope expected 0 got %d (%v)", last, err)
	}
}

func TestSequenceConcurrentIssuanceHasNoDuplicatesOrGaps(t *testing.T) {
	ctx := setupIntegration(t)

	// the key is fresh, so the goroutines also race the first-issuance insert
	const n = 20
	results := make(chan string, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := models.NextSequenceNumber(ctx, "CONC", "250101", 4)
			if err != nil {
				errs <- err
				return
			}
			results <- number
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent issuance: %v", err)
	}

	seen := map[string]bool{}
	for number := range results {
		if seen[number] {
			t.Fatalf("duplicate number issued: %s", number)
		}
		seen[number] = true
	}
	for i := 1; i <= n; i++ {
		if want := fmt.Sprintf("%04d", i); !seen[want] {
			t.Fatalf("gap in issued numbers: %s missing", want)
		}
	}
}

func TestSequenceBatchIsAllOrNothing(t *testing.T) {
	ctx := setupIntegration(t)

	numbers, err := models.NextSequenceNumbers(ctx, []models.SequenceRequest{
		{Prefix: "LOT", ScopeKey: "250101"},
		{Prefix: "BD", ScopeKey: "250101", Width: 3},
		{Prefix: "LOT", ScopeKey: "250101"},
	})
	if err != nil {
		t.Fatalf("NextSequenceNumbers: %v", err)
	}
	want := []string{"0001", "001", "0002"}
	for i := range want {
		if numbers[i] != want[i] {
			t.Fatalf("batch expected %v got %v", want, numbers)
		}
	}

	// exhaust one of the counters, the whole batch must fail and leave every
	// counter untouched
	plantId, _ := utils.GetPlantIdFromContext(ctx)
	db := config.GetDB()
	if err := db.Model(&models.NumberSequence{}).
		Where("plant_id = ? AND prefix = ? AND scope_key = ?", plantId, "BD", "250101").
		Update("last_number", models.SequenceMaxNumber).Error; err != nil {
		t.Fatalf("force exhaustion: %v", err)
	}

	_, err = models.NextSequenceNumbers(ctx, []models.SequenceRequest{
		{Prefix: "LOT", ScopeKey: "250101"},
		{Prefix: "BD", ScopeKey: "250101"},
	})
	if !errors.Is(err, models.ErrSequenceExhausted) {
		t.Fatalf("expected ErrSequenceExhausted, got %v", err)
	}
	if last, _ := models.PeekSequenceNumber(ctx, "LOT", "250101"); last != 2 {
		t.Fatalf("failed batch must not advance other counters, LOT is at %d", last)
	}
}

func TestSequenceCheckResetAndPurge(t *testing.T) {
	ctx := setupIntegration(t)

	for i := 0; i < 4; i++ {
		if _, err := models.NextSequenceNumber(ctx, "LOT", "250101", 0); err != nil {
			t.Fatalf("NextSequenceNumber: %v", err)
		}
	}

	cases := []struct {
		reported int
		want     models.SequenceCheckResult
	}{
		{2, models.SequenceCheckDuplicate},
		{4, models.SequenceCheckDuplicate},
		{5, models.SequenceCheckInSync},
		{7, models.SequenceCheckGap},
	}
	for _, tc := range cases {
		got, err := models.CheckReportedSequence(ctx, "LOT", "250101", tc.reported)
		if err != nil {
			t.Fatalf("CheckReportedSequence(%d): %v", tc.reported, err)
		}
		if got != tc.want {
			t.Fatalf("reported %d: expected %s got %s", tc.reported, tc.want, got)
		}
	}

	if err := models.ResetSequence(ctx, "LOT", "250101"); err != nil {
		t.Fatalf("ResetSequence: %v", err)
	}
	if last, _ := models.PeekSequenceNumber(ctx, "LOT", "250101"); last != 0 {
		t.Fatalf("reset counter should read 0, got %d", last)
	}
	if got, err := models.NextSequenceNumber(ctx, "LOT", "250101", 0); err != nil || got != "0001" {
		t.Fatalf("reset counter should issue 0001, got %s (%v)", got, err)
	}
	if err := models.ResetSequence(ctx, "LOT", "999999"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("reset on unknown scope should be not-found, got %v", err)
	}

	// purge everything before 250115; day scopes survive the cutoff,
	// sentinel scopes sort above dates and survive too
	if _, err := models.NextSequenceNumber(ctx, "LOT", "250120", 0); err != nil {
		t.Fatalf("NextSequenceNumber: %v", err)
	}
	if _, err := models.NextSequenceNumber(ctx, "LOT", "MARK-7", 0); err != nil {
		t.Fatalf("NextSequenceNumber: %v", err)
	}
	purged, err := models.PurgeSequences(ctx, "250115")
	if err != nil {
		t.Fatalf("PurgeSequences: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged counter, got %d", purged)
	}
	if last, _ := models.PeekSequenceNumber(ctx, "LOT", "250120"); last != 1 {
		t.Fatalf("counter past cutoff must survive, got %d", last)
	}
	if last, _ := models.PeekSequenceNumber(ctx, "LOT", "MARK-7"); last != 1 {
		t.Fatalf("sentinel scope must survive, got %d", last)
	}
}

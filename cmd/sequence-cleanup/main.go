package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/models"
	"github.com/snapart79-maker/vietnam-mes-simple-sub001/utils"
)

// Deletes day-scoped sequence counters older than the retention window.
// Day counters are only consulted on the day they belong to, so old rows are
// pure growth. Run as a scheduled job:
//
//	sequence-cleanup -plant <plant-id> -retention-days 30
func main() {
	plantId := flag.String("plant", strings.TrimSpace(os.Getenv("PLANT_ID")), "plant id to clean up")
	retentionDays := flag.Int("retention-days", 30, "keep counters whose day scope is within this many days")
	flag.Parse()

	logger := config.GetLogger()
	if *plantId == "" {
		logger.Fatal("plant id is required (-plant or PLANT_ID)")
	}
	if *retentionDays < 1 {
		logger.Fatal("retention-days must be at least 1")
	}

	config.ConnectDatabaseWithRetry()

	cutoff := time.Now().UTC().AddDate(0, 0, -*retentionDays).Format("060102")
	ctx := utils.SetPlantIdInContext(context.Background(), *plantId)

	purged, err := models.PurgeSequences(ctx, cutoff)
	if err != nil {
		logger.WithFields(logrus.Fields{"plant_id": *plantId, "cutoff": cutoff}).Fatal(err)
	}
	logger.WithFields(logrus.Fields{
		"plant_id": *plantId,
		"cutoff":   cutoff,
		"purged":   purged,
	}).Info("sequence cleanup finished")
}

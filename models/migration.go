package models

import (
	"log"

	"github.com/snapart79-maker/vietnam-mes-simple-sub001/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Plant{},
		&Material{}, &Product{}, &Recipe{},
		&NumberSequence{},
		&StockLot{}, &StockTransferRecord{},
		&ProductionLot{}, &LotConsumption{},
		&Bundle{}, &BundleItem{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

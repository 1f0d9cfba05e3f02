package data

import (
	"log"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func MustMySQL(dsn string) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	return db
}

// Migrate creates or updates the courtbot tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Setting{},
		&types.TargetGuild{},
		&types.Petition{},
		&types.Vote{},
		&types.Sanction{},
	)
}

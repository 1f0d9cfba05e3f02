package data

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Locked adds a row lock to reads inside a transaction. SQLite has no row
// locks; its single-writer transactions already serialize, so the clause is
// omitted there.
func Locked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

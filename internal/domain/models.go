// Package domain defines the persistence models for users and expenses.
// These types are mapped with GORM and form the core data layer of the
// expense tracking application.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a whitelisted sender. Rows are long-lived reference data
// created administratively (seeding, ops tooling); the intake pipeline never
// creates, mutates, or deletes them.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - TelegramID: the chat platform's stable user identifier; unique.
//   - CreatedAt: timestamp managed by GORM.
type User struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	TelegramID string    `json:"telegram_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_users_telegram_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Expense represents a single categorized expense extracted from a chat
// message. Rows are append-only: the pipeline inserts exactly one row per
// successfully processed message and never updates or deletes it.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: foreign key to the owning user (indexed).
//   - Description: non-empty free-text description ("Pizza").
//   - Amount: exact decimal, always > 0. Stored as DECIMAL(10,2); never a
//     binary float, so 20.00 round-trips without drift.
//   - Category: one of the closed vocabulary values (see Category).
//   - AddedAt: insertion timestamp (indexed for recency-ordered listing).
type Expense struct {
	ID          string          `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string          `json:"user_id"     gorm:"type:char(36);not null;index:idx_user_expenses"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Amount      decimal.Decimal `json:"amount"      gorm:"type:decimal(10,2);not null"`
	Category    Category        `json:"category"    gorm:"type:varchar(32);not null;index"`
	AddedAt     time.Time       `json:"added_at"    gorm:"index:idx_user_expenses_added,priority:2"`

	// User is the owning whitelisted sender. Expenses are cascade-deleted
	// if the user row is ever removed administratively.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Expense.
func (Expense) TableName() string { return "expenses" }

// Category is a value from the closed expense category vocabulary. The
// pipeline never persists a string outside this set; provider guesses are
// mapped onto it by the category package.
type Category string

// The full category vocabulary.
const (
	CategoryHousing        Category = "Housing"
	CategoryTransportation Category = "Transportation"
	CategoryFood           Category = "Food"
	CategoryUtilities      Category = "Utilities"
	CategoryInsurance      Category = "Insurance"
	CategoryMedical        Category = "Medical/Healthcare"
	CategorySavings        Category = "Savings"
	CategoryDebt           Category = "Debt"
	CategoryEducation      Category = "Education"
	CategoryEntertainment  Category = "Entertainment"
	CategoryOther          Category = "Other"
)

// Categories returns the vocabulary in stable order (prompt construction,
// validation, docs).
func Categories() []Category {
	return []Category{
		CategoryHousing,
		CategoryTransportation,
		CategoryFood,
		CategoryUtilities,
		CategoryInsurance,
		CategoryMedical,
		CategorySavings,
		CategoryDebt,
		CategoryEducation,
		CategoryEntertainment,
		CategoryOther,
	}
}

// Valid reports whether c is a member of the vocabulary.
func (c Category) Valid() bool {
	for _, v := range Categories() {
		if c == v {
			return true
		}
	}
	return false
}

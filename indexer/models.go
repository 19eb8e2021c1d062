package indexer

import (
	"time"

	"gorm.io/gorm"
)

// Offer is the queryable projection of a trade offer. Amounts are base-10
// wei strings so the schema works on both sqlite and postgres. Position is
// the offer's zero-based place in the ledger's creation order.
type Offer struct {
	ID             string `gorm:"primaryKey;size:66"`
	Position       uint64 `gorm:"index"`
	Creator        string `gorm:"size:42;index"`
	Nonce          uint64
	EscrowedAmount string `gorm:"size:80"`
	QuotedPrice    string `gorm:"size:80"`
	Status         string `gorm:"size:16;index"`
	Counterparty   string `gorm:"size:42;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transfer is one native value movement caused by an escrow step.
type Transfer struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	OfferID   string `gorm:"size:66;index"`
	Sender    string `gorm:"size:42"`
	Recipient string `gorm:"size:42"`
	Amount    string `gorm:"size:80"`
	Reason    string `gorm:"size:16"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the index.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Offer{}, &Transfer{})
}

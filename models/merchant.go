package models

import (
	"strconv"
	"time"
)

// Merchant is a restaurant or supermarket on the reference backend.
type Merchant struct {
	ID          string        `json:"id" gorm:"primaryKey;size:36"`
	OwnerID     string        `json:"owner_id" gorm:"uniqueIndex;not null"`
	Kind        string        `json:"kind" gorm:"not null"` // RESTAURANT or SUPERMARCHE
	Name        string        `json:"name" gorm:"not null"`
	Cuisine     string        `json:"cuisine"`
	Address     string        `json:"address"`
	Description string        `json:"description"`
	IsOpen      bool          `json:"is_open" gorm:"default:true"`
	Items       []CatalogItem `json:"items,omitempty" gorm:"foreignKey:MerchantID"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type CatalogItem struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	MerchantID         string    `json:"merchant_id" gorm:"index;not null"`
	Name               string    `json:"name" gorm:"not null"`
	Description        string    `json:"description"`
	Price              float64   `json:"price" gorm:"not null"`
	DiscountPercentage float64   `json:"discount_percentage"`
	Category           string    `json:"category"`
	Unit               string    `json:"unit"`
	IsAvailable        bool      `json:"is_available" gorm:"not null"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ProductWire is a catalog item in the client wire shape. Prices are decimal
// strings, the merchant appears under restaurant or supermarche.
type ProductWire struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description,omitempty"`
	Price              string  `json:"price"`
	DiscountPercentage *string `json:"discount_percentage,omitempty"`
	Unit               string  `json:"unit,omitempty"`
	Available          bool    `json:"available"`
	Category           *string `json:"category,omitempty"`
	Restaurant         string  `json:"restaurant,omitempty"`
	Supermarket        string  `json:"supermarche,omitempty"`
}

func (i *CatalogItem) Wire(kind string) ProductWire {
	w := ProductWire{
		ID:          i.ID,
		Name:        i.Name,
		Description: i.Description,
		Price:       strconv.FormatFloat(i.Price, 'f', 2, 64),
		Unit:        i.Unit,
		Available:   i.IsAvailable,
	}
	if i.DiscountPercentage > 0 {
		d := strconv.FormatFloat(i.DiscountPercentage, 'f', 2, 64)
		w.DiscountPercentage = &d
	}
	if i.Category != "" {
		cat := i.Category
		w.Category = &cat
	}
	if kind == UserTypeSupermarket {
		w.Supermarket = i.MerchantID
	} else {
		w.Restaurant = i.MerchantID
	}
	return w
}

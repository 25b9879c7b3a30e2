package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Price decodes from either a JSON number or a decimal string ("12.50").
type Price float64

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*p = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*p = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("price %q: %w", s, err)
		}
		*p = Price(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*p = Price(f)
	return nil
}

// Product is a restaurant menu item or supermarket article.
type Product struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description,omitempty"`
	Image              string  `json:"image,omitempty"`
	Price              Price   `json:"price"`
	DiscountPercentage *Price  `json:"discount_percentage,omitempty"`
	Unit               string  `json:"unit,omitempty"`
	Available          *bool   `json:"available,omitempty"`
	Restaurant         string  `json:"restaurant,omitempty"`
	Supermarket        string  `json:"supermarche,omitempty"`
	Category           *string `json:"category,omitempty"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	type alias Product
	var raw struct {
		alias
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Product(raw.alias)
	p.ID = rawID(raw.ID)
	return nil
}

// DisplayPrice is the unit price after any positive discount percentage.
func (p Product) DisplayPrice() float64 {
	price := float64(p.Price)
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	if p.DiscountPercentage == nil {
		return price
	}
	d := float64(*p.DiscountPercentage)
	if d <= 0 || math.IsNaN(d) {
		return price
	}
	return price * (1 - d/100)
}

// Package cart holds the shopping cart. A cart belongs to one merchant at a
// time; adding an item from another merchant discards the current lines.
package cart

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"food-delivery-client/logging"
	"food-delivery-client/metrics"
	"food-delivery-client/models"

	"github.com/sirupsen/logrus"
)

// SourceType is the kind of merchant a cart is filled from
type SourceType string

const (
	SourceRestaurant  SourceType = "restaurant"
	SourceSupermarket SourceType = "supermarket"
)

func (t SourceType) Valid() bool {
	return t == SourceRestaurant || t == SourceSupermarket
}

var (
	ErrInvalidQuantity = errors.New("cart: quantity must be at least 1")
	ErrInvalidProduct  = errors.New("cart: product has no id")
	ErrInvalidSource   = errors.New("cart: invalid source")
)

// Item is one cart line.
type Item struct {
	Product  models.Product
	Quantity int
}

// LineTotal is the discounted unit price times quantity.
func (i Item) LineTotal() float64 {
	return i.Product.DisplayPrice() * float64(i.Quantity)
}

// Snapshot is a copy of the cart. Items keep insertion order.
type Snapshot struct {
	Items            []Item
	ActiveSourceID   string
	ActiveSourceType SourceType
}

// Totals are derived from the lines of a snapshot.
type Totals struct {
	LineCount int
	ItemCount int
	Subtotal  float64
}

func (s Snapshot) Totals() Totals {
	var t Totals
	for _, it := range s.Items {
		t.LineCount++
		t.ItemCount += it.Quantity
		t.Subtotal += it.LineTotal()
	}
	t.Subtotal = math.Round(t.Subtotal*100) / 100
	return t
}

func (s Snapshot) IsEmpty() bool { return len(s.Items) == 0 }

type Cart struct {
	mu         sync.Mutex
	order      []string
	items      map[string]*Item
	sourceID   string
	sourceType SourceType

	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

type Option func(*Cart)

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cart) { c.log = logging.OrDiscard(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cart) { c.metrics = m }
}

func New(opts ...Option) *Cart {
	c := &Cart{
		items: make(map[string]*Item),
		log:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WouldSwitch reports whether adding from the given source would discard the
// current lines. Screens use it to confirm with the user first.
func (c *Cart) WouldSwitch(sourceID string, sourceType SourceType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflicts(sourceID, sourceType)
}

func (c *Cart) conflicts(sourceID string, sourceType SourceType) bool {
	return len(c.order) > 0 && (c.sourceID != sourceID || c.sourceType != sourceType)
}

// AddItem adds quantity of product from the given merchant, summing with an
// existing line. When the merchant differs from the active one the cart is
// emptied first and switched is true.
func (c *Cart) AddItem(product models.Product, quantity int, sourceID string, sourceType SourceType) (switched bool, err error) {
	if strings.TrimSpace(product.ID) == "" {
		return false, ErrInvalidProduct
	}
	if quantity < 1 {
		return false, ErrInvalidQuantity
	}
	if strings.TrimSpace(sourceID) == "" || !sourceType.Valid() {
		return false, fmt.Errorf("%w: %q/%q", ErrInvalidSource, sourceType, sourceID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conflicts(sourceID, sourceType) {
		c.log.WithFields(logrus.Fields{
			"from_type": c.sourceType, "from_id": c.sourceID,
			"to_type": sourceType, "to_id": sourceID,
			"dropped_lines": len(c.order),
		}).Info("cart source switched")
		c.metrics.ObserveCartSwitch()
		c.reset()
		switched = true
	}
	c.sourceID = sourceID
	c.sourceType = sourceType

	if it, ok := c.items[product.ID]; ok {
		it.Quantity += quantity
		it.Product = product
		return switched, nil
	}
	c.items[product.ID] = &Item{Product: product, Quantity: quantity}
	c.order = append(c.order, product.ID)
	return switched, nil
}

// RemoveItem drops a line. Emptying the cart clears the active source.
func (c *Cart) RemoveItem(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(productID)
}

func (c *Cart) remove(productID string) {
	if _, ok := c.items[productID]; !ok {
		return
	}
	delete(c.items, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if len(c.order) == 0 {
		c.reset()
	}
}

// SetQuantity replaces a line's quantity; quantity <= 0 removes the line.
// Unknown products are ignored.
func (c *Cart) SetQuantity(productID string, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if quantity <= 0 {
		c.remove(productID)
		return
	}
	if it, ok := c.items[productID]; ok {
		it.Quantity = quantity
	}
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Cart) reset() {
	c.items = make(map[string]*Item)
	c.order = nil
	c.sourceID = ""
	c.sourceType = ""
}

func (c *Cart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{ActiveSourceID: c.sourceID, ActiveSourceType: c.sourceType}
	if len(c.order) > 0 {
		s.Items = make([]Item, 0, len(c.order))
		for _, id := range c.order {
			s.Items = append(s.Items, *c.items[id])
		}
	}
	return s
}

func (c *Cart) Totals() Totals {
	return c.Snapshot().Totals()
}

// Quantity returns the quantity of a line, 0 when absent.
func (c *Cart) Quantity(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[productID]; ok {
		return it.Quantity
	}
	return 0
}

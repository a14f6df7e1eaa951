package stock

import (
	"time"

	"github.com/google/uuid"
)

// Stock is the minimal inventory record the demo sells from: a SKU and an
// available quantity.
type Stock struct {
	ID        uuid.UUID `json:"id"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

func New(sku string, quantity int) Stock {
	return Stock{
		ID:        uuid.New(),
		SKU:       sku,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
}

// Purchase is broadcast to websocket subscribers after each successful buy.
type Purchase struct {
	SKU       string    `json:"sku"`
	Remaining int       `json:"remaining"`
	Path      string    `json:"path"` // which buy endpoint produced it
	At        time.Time `json:"at"`
}

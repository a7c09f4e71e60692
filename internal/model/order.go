package model

import (
	"encoding/json"
	"time"
)

// OrderStatus is the lifecycle state of a placed order.
type OrderStatus string

const OrderPending OrderStatus = "pending"

// Order is the immutable pricing snapshot taken from a cart at placement time.
type Order struct {
	Code         string       `json:"code"`
	CartCode     string       `json:"cartCode"`
	Owner        Owner        `json:"owner"`
	Status       OrderStatus  `json:"status"`
	Items        []LineItem   `json:"items"`
	Adjustments  []Adjustment `json:"adjustments"`
	DiscountInfo DiscountInfo `json:"discountInfo"`
	Total        float64      `json:"total"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Product is the catalog projection copied onto cart lines.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Image string  `json:"image"`
	Price float64 `json:"price"`
}

// DomainEvent is a persisted notification about a state change.
type DomainEvent struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

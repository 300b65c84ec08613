package id

import "github.com/google/uuid"

// UUIDGenerator issues random (v4) UUIDs for orders, order items and products.
type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator {
	return UUIDGenerator{}
}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

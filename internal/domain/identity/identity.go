// Package identity models the buyer and address records owned by the
// identity collaborator.
package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrBuyerNotFound   = errors.New("identity: buyer not found")
	ErrAddressNotFound = errors.New("identity: address not found")
	// ErrUnavailable wraps transport failures and timeouts.
	ErrUnavailable = errors.New("identity: collaborator unavailable")
)

type Buyer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type Address struct {
	ID      string
	Street  string
	City    string
	State   string
	Zip     string
	Country string
}

// Complete reports whether the fields needed to ship are present.
func (a Address) Complete() bool {
	for _, v := range []string{a.Street, a.City, a.Zip, a.Country} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// Directory looks buyers and addresses up.
type Directory interface {
	GetBuyer(ctx context.Context, id string) (*Buyer, error)
	GetAddress(ctx context.Context, id string) (*Address, error)
}

type destinationKind int

const (
	destinationNone destinationKind = iota
	destinationReference
	destinationInline
)

// ShippingDestination is either a reference to a stored address or an inline
// address used verbatim.
type ShippingDestination struct {
	kind      destinationKind
	addressID string
	inline    Address
}

func ByReference(addressID string) ShippingDestination {
	return ShippingDestination{kind: destinationReference, addressID: addressID}
}

func Inline(a Address) ShippingDestination {
	return ShippingDestination{kind: destinationInline, inline: a}
}

func (d ShippingDestination) IsZero() bool      { return d.kind == destinationNone }
func (d ShippingDestination) IsReference() bool { return d.kind == destinationReference }
func (d ShippingDestination) IsInline() bool    { return d.kind == destinationInline }
func (d ShippingDestination) AddressID() string { return d.addressID }
func (d ShippingDestination) Address() Address  { return d.inline }

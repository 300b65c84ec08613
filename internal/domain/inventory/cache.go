package inventory

import "fmt"

// CacheKey identifies a cached catalog read. Entity is the product id the
// entry depends on; listings leave it empty and depend on every product.
type CacheKey struct {
	Entity string
	Name   string
}

func (k CacheKey) IsListing() bool { return k.Entity == "" }

func ProductKey(id string) CacheKey {
	return CacheKey{Entity: id, Name: "products:id:" + id}
}

// SKUKey leaves Entity empty: the product behind a sku is unknown until the
// read, so the entry shares the listing generation.
func SKUKey(sku string) CacheKey {
	return CacheKey{Name: "products:sku:" + sku}
}

func ListingKey(page, size int) CacheKey {
	return CacheKey{Name: fmt.Sprintf("products:list:%d:%d", page, size)}
}

package billing

import (
	"fmt"
	"sort"
	"time"

	"mejaku/backend/internal/domain"
)

// lineKey merges consolidated lines. Two lines merge only when both the
// display name and the unit price match; a price change between orders
// produces separate bill lines.
type lineKey struct {
	name       string
	priceCents int64
}

// Consolidation is the in-memory result of merging a set of source orders.
type Consolidation struct {
	Items           []domain.BillItem
	ItemsTotalCents int64
	DiscountCents   int64
	FinalTotalCents int64
	OrderIDs        []string
}

// Consolidate merges the line items of the given orders into one bill line
// per (name, unit price) pair, summing quantities, and accumulates each
// order's discount into the discount total. Orders must already be sorted
// oldest first; OrderIDs preserves that order so callers can use the first
// id for denormalized fields. The final total is items minus discount and
// is deliberately not floored at zero.
func Consolidate(orders []domain.Order, itemNames map[string]string) Consolidation {
	merged := make(map[lineKey]int, 16)
	keys := make([]lineKey, 0, 16)

	result := Consolidation{OrderIDs: make([]string, 0, len(orders))}
	for _, order := range orders {
		result.OrderIDs = append(result.OrderIDs, order.ID)
		result.DiscountCents += order.DiscountCents

		for _, item := range order.Items {
			name, ok := itemNames[item.MenuItemID]
			if !ok || name == "" {
				name = domain.UnknownItemName
			}
			key := lineKey{name: name, priceCents: item.UnitPriceCents}
			if _, seen := merged[key]; !seen {
				keys = append(keys, key)
			}
			merged[key] += item.Qty
			result.ItemsTotalCents += int64(item.Qty) * item.UnitPriceCents
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name == keys[j].name {
			return keys[i].priceCents < keys[j].priceCents
		}
		return keys[i].name < keys[j].name
	})

	result.Items = make([]domain.BillItem, 0, len(keys))
	for _, key := range keys {
		qty := merged[key]
		result.Items = append(result.Items, domain.BillItem{
			ItemName:       key.name,
			Qty:            qty,
			UnitPriceCents: key.priceCents,
			SubtotalCents:  int64(qty) * key.priceCents,
		})
	}

	result.FinalTotalCents = result.ItemsTotalCents - result.DiscountCents
	return result
}

// FormatBillNumber renders a sequence value from the central counter.
func FormatBillNumber(seq int64) string {
	return fmt.Sprintf("BILL-%06d", seq)
}

// FallbackBillNumber derives a bill number from the clock when the central
// sequence is unavailable. Unique with overwhelming probability, not
// guaranteed collision-free.
func FallbackBillNumber(now time.Time) string {
	return fmt.Sprintf("BILL-T%d", now.UTC().UnixNano())
}

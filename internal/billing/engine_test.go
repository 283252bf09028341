package billing

import (
	"strings"
	"testing"
	"time"

	"mejaku/backend/internal/domain"
)

func TestConsolidateMergesByNameAndPrice(t *testing.T) {
	orders := []domain.Order{
		{
			ID: "ord-1",
			Items: []domain.OrderItem{
				{MenuItemID: "item-pizza", Qty: 2, UnitPriceCents: 500},
				{MenuItemID: "item-cola", Qty: 3, UnitPriceCents: 100},
			},
		},
		{
			ID: "ord-2",
			Items: []domain.OrderItem{
				{MenuItemID: "item-pizza", Qty: 1, UnitPriceCents: 500},
			},
		},
	}
	names := map[string]string{"item-pizza": "Pizza", "item-cola": "Cola"}

	result := Consolidate(orders, names)

	if len(result.Items) != 2 {
		t.Fatalf("expected 2 consolidated lines, got %d", len(result.Items))
	}
	if result.Items[0].ItemName != "Cola" || result.Items[0].Qty != 3 || result.Items[0].SubtotalCents != 300 {
		t.Fatalf("unexpected first line: %+v", result.Items[0])
	}
	if result.Items[1].ItemName != "Pizza" || result.Items[1].Qty != 3 || result.Items[1].SubtotalCents != 1500 {
		t.Fatalf("unexpected second line: %+v", result.Items[1])
	}
	if result.ItemsTotalCents != 1800 || result.FinalTotalCents != 1800 {
		t.Fatalf("unexpected totals: items=%d final=%d", result.ItemsTotalCents, result.FinalTotalCents)
	}
	if len(result.OrderIDs) != 2 || result.OrderIDs[0] != "ord-1" {
		t.Fatalf("unexpected order ids: %v", result.OrderIDs)
	}
}

func TestConsolidateKeepsDistinctPricesSeparate(t *testing.T) {
	orders := []domain.Order{
		{
			ID: "ord-1",
			Items: []domain.OrderItem{
				{MenuItemID: "item-pizza", Qty: 1, UnitPriceCents: 500},
			},
		},
		{
			ID: "ord-2",
			Items: []domain.OrderItem{
				{MenuItemID: "item-pizza", Qty: 1, UnitPriceCents: 550},
			},
		},
	}
	names := map[string]string{"item-pizza": "Pizza"}

	result := Consolidate(orders, names)

	if len(result.Items) != 2 {
		t.Fatalf("expected price change to produce 2 lines, got %d", len(result.Items))
	}
	if result.Items[0].UnitPriceCents != 500 || result.Items[1].UnitPriceCents != 550 {
		t.Fatalf("expected lines ordered by price: %+v", result.Items)
	}
}

func TestConsolidateAccumulatesDiscounts(t *testing.T) {
	orders := []domain.Order{
		{
			ID:            "ord-1",
			DiscountCents: 400,
			Items: []domain.OrderItem{
				{MenuItemID: "item-cola", Qty: 1, UnitPriceCents: 100},
			},
		},
		{
			ID:            "ord-2",
			DiscountCents: 300,
			Items: []domain.OrderItem{
				{MenuItemID: "item-cola", Qty: 1, UnitPriceCents: 100},
			},
		},
	}
	names := map[string]string{"item-cola": "Cola"}

	result := Consolidate(orders, names)

	if result.DiscountCents != 700 {
		t.Fatalf("expected discount 700, got %d", result.DiscountCents)
	}
	// Discounts can exceed the item total; the final total stays negative
	// so the over-discount is visible on the bill.
	if result.FinalTotalCents != -500 {
		t.Fatalf("expected final total -500, got %d", result.FinalTotalCents)
	}
}

func TestConsolidateUsesPlaceholderForUnknownItems(t *testing.T) {
	orders := []domain.Order{
		{
			ID: "ord-1",
			Items: []domain.OrderItem{
				{MenuItemID: "item-deleted", Qty: 2, UnitPriceCents: 250},
			},
		},
	}

	result := Consolidate(orders, map[string]string{})

	if len(result.Items) != 1 || result.Items[0].ItemName != domain.UnknownItemName {
		t.Fatalf("expected placeholder name, got %+v", result.Items)
	}
	if result.ItemsTotalCents != 500 {
		t.Fatalf("expected total from stored price, got %d", result.ItemsTotalCents)
	}
}

func TestBillNumberFormats(t *testing.T) {
	if got := FormatBillNumber(42); got != "BILL-000042" {
		t.Fatalf("unexpected sequence number: %s", got)
	}
	fallback := FallbackBillNumber(time.Unix(0, 1700000000000000000))
	if !strings.HasPrefix(fallback, "BILL-T") {
		t.Fatalf("unexpected fallback number: %s", fallback)
	}
}

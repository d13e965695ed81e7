package bid

import (
	"context"
	"testing"

	"ridebid/internal/testutil/pgtest"
)

func TestPGPlaceAndSettle(t *testing.T) {
	ctx := context.Background()
	book := NewBook(NewPGStore(pgtest.Open(t)))

	if _, err := book.Place(ctx, PlaceCommand{RideID: "r1", DriverID: "d1", Type: TypeCounteroffer, Price: price("14.00")}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := book.Place(ctx, PlaceCommand{RideID: "r1", DriverID: "d1", Type: TypeAccept}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, err := book.Place(ctx, PlaceCommand{RideID: "r1", DriverID: "d2", Type: TypeAccept}); err != nil {
		t.Fatalf("place d2: %v", err)
	}

	active, err := book.ListActiveForRide(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active bids, got %d", len(active))
	}

	declined, err := book.Settle(ctx, "r1", "d1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(declined) != 1 || declined[0] != "d2" {
		t.Fatalf("expected d2 declined, got %v", declined)
	}
}

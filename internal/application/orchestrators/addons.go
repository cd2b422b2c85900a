package orchestrators

import (
	"context"
	"fmt"

	"studiobook/internal/domain/product"
)

// ListAddOnsInput carries input for the add-on selector.
type ListAddOnsInput struct {
	ClientID   int
	LocationID int
}

// ListAddOnsDeps holds dependencies for ListAddOns.
type ListAddOnsDeps struct {
	API BackendAPI
}

// ExecuteListAddOns fetches the add-ons offered alongside a purchase at
// the given studio.
// POST: Returns the available add-ons, possibly empty
func ExecuteListAddOns(ctx context.Context, input ListAddOnsInput, deps ListAddOnsDeps) ([]product.AddOn, error) {
	addOns, err := deps.API.GetStudioAddOns(ctx, input.ClientID, input.LocationID)
	if err != nil {
		return nil, fmt.Errorf("fetch add-ons: %w", err)
	}
	return addOns, nil
}

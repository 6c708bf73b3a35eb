package prices

import (
	"context"

	"github.com/jwpriem/ev-easee/pkg/types"
)

// Provider defines the interface for fetching electricity prices on behalf
// of a user.
type Provider interface {
	// FetchPrices returns today's (and, once published, tomorrow's) hourly
	// prices using the user's access token.
	FetchPrices(ctx context.Context, accessToken string) (types.PriceInfo, error)
}

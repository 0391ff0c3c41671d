package gateways

import (
	"context"
	"errors"
	"fmt"

	"github.com/storefrontlabs/billing-sync/pkg/config"
	"github.com/storefrontlabs/billing-sync/pkg/paypal"
)

// FromConfig builds the gateway list from the configured credentials, in
// resolution order: legacy first, then REST. At least one backend must be
// configured.
func FromConfig(ctx context.Context, cfg config.PayPalConfig) ([]ProfileGateway, error) {
	var list []ProfileGateway

	if cfg.HasNVP() {
		client, err := paypal.NewNVPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("building nvp client: %w", err)
		}
		list = append(list, NewLegacyGateway(client))
	}

	if cfg.HasREST() {
		client, err := paypal.NewRestClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("building rest client: %w", err)
		}
		list = append(list, NewRestGateway(client))
	}

	if len(list) == 0 {
		return nil, errors.New("no payment gateway credentials configured")
	}
	return list, nil
}

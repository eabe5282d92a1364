// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// placesAPIBase is the Google Places text search endpoint.
var placesAPIBase = "https://maps.googleapis.com/maps/api/place/textsearch/json"

const maxPlaces = 5

// LocalResources returns up to five services matching query. Without a
// Google Maps API key it returns nothing.
func (c *Client) LocalResources(ctx context.Context, query string) ([]types.LocalResource, error) {
	if c.cfg.GoogleMapsAPIKey == "" || query == "" {
		return nil, nil
	}
	params := url.Values{"query": {query}, "key": {c.cfg.GoogleMapsAPIKey}}
	raw, err := c.lookup(ctx, srcPlaces, query, placesAPIBase+"?"+params.Encode(), func(body []byte) (json.RawMessage, error) {
		var pr placesResponse
		if err := json.Unmarshal(body, &pr); err != nil {
			return nil, err
		}
		if pr.Status != "OK" && pr.Status != "ZERO_RESULTS" {
			return nil, fmt.Errorf("places status %s", pr.Status)
		}
		var out []types.LocalResource
		for _, r := range pr.Results {
			if len(out) == maxPlaces {
				break
			}
			out = append(out, types.LocalResource{Name: r.Name, Address: r.FormattedAddress, Rating: r.Rating})
		}
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}
	var out []types.LocalResource
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type placesResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Name             string  `json:"name"`
		FormattedAddress string  `json:"formatted_address"`
		Rating           float64 `json:"rating"`
	} `json:"results"`
}

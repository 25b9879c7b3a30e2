package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"food-delivery-client/models"

	"github.com/tidwall/gjson"
)

// ProductsPath is the catalog listing of one merchant.
func ProductsPath(merchantID string) string {
	return "merchants/" + url.PathEscape(merchantID) + "/products/"
}

// ListProducts fetches a merchant's catalog. The backend answers either a
// bare array or a paginated {results: [...]} object; both decode the same.
func (c *Client) ListProducts(ctx context.Context, merchantID string, query url.Values) ([]models.Product, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("list products: merchant id is required")
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: ProductsPath(merchantID), Query: query})
	if err != nil {
		return nil, err
	}
	return decodeList[models.Product](resp.Body)
}

// decodeList unwraps paginated bodies. Anything that is neither an array nor
// carries a results array yields an empty list.
func decodeList[T any](body []byte) ([]T, error) {
	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		list = list.Get("results")
	}
	if !list.IsArray() {
		return []T{}, nil
	}
	out := make([]T, 0, len(list.Array()))
	if err := (&Response{Body: []byte(list.Raw)}).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

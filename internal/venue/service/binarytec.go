package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/venuegate/server/internal/httpx"
	"github.com/venuegate/server/internal/venue/store"
)

const binarytecCheckPath = "/api/v1/raspi/access-controls/check-access"

// BinarytecValidator asks a Binarytec access-control resource whether a
// card number may pass.
type BinarytecValidator struct {
	base       string
	token      string
	resourceID string
	client     *httpx.Client
}

// NewBinarytecValidator reports false when the integration lacks a token,
// base URL or resource id.
func NewBinarytecValidator(in store.Integration, client *httpx.Client) (*BinarytecValidator, bool) {
	token := strings.TrimSpace(in.Token)
	base := strings.TrimRight(strings.TrimSpace(in.BaseURL), "/")
	resource := strings.TrimSpace(in.Extra["resourceId"])
	if resource == "" {
		resource = strings.TrimSpace(in.Extra["resource_id"])
	}
	if token == "" || base == "" || resource == "" {
		return nil, false
	}
	return &BinarytecValidator{base: base, token: token, resourceID: resource, client: client}, true
}

func (*BinarytecValidator) Name() string { return string(store.ProviderBinarytec) }

type binarytecRequest struct {
	ResourceID string `json:"resourceId"`
	ACNumber   string `json:"acNumber"`
}

type binarytecResponse struct {
	Success json.RawMessage `json:"success"`
}

func (b *BinarytecValidator) Validate(ctx context.Context, code string) (Verdict, error) {
	var resp binarytecResponse
	err := b.client.PostJSON(ctx, b.base+binarytecCheckPath,
		binarytecRequest{ResourceID: b.resourceID, ACNumber: strings.TrimSpace(code)},
		map[string]string{"Authorization": "Bearer " + b.token},
		&resp,
	)
	if err != nil {
		return Verdict{}, err
	}
	s := strings.TrimSpace(string(resp.Success))
	return Verdict{Valid: s == "1" || s == "true"}, nil
}

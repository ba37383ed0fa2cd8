package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// HTTPStore talks to the backing memo service. Failures map to ErrTransfer
// and are left for the caller to retry.
type HTTPStore struct {
	client *resty.Client
	base   string
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		client: resty.New().SetBaseURL(baseURL),
		base:   strings.TrimRight(baseURL, "/"),
	}
}

type uploadRequest struct {
	Meta  ClipMetadata `json:"meta"`
	Audio []byte       `json:"audio"` // base64 over the wire
}

func (h *HTTPStore) Upload(ctx context.Context, audio []byte, meta ClipMetadata) (ClipMetadata, error) {
	var out ClipMetadata
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(uploadRequest{Meta: meta, Audio: audio}).
		SetResult(&out).
		Post("/clips")
	if err := transferErr(resp, err, "upload"); err != nil {
		return ClipMetadata{}, err
	}
	return out, nil
}

func (h *HTTPStore) Get(ctx context.Context, id string) (ClipMetadata, error) {
	var out ClipMetadata
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/clips/" + id)
	if err := transferErr(resp, err, "get"); err != nil {
		return ClipMetadata{}, err
	}
	return out, nil
}

func (h *HTTPStore) FetchBytes(ctx context.Context, location string) ([]byte, error) {
	url := location
	if strings.HasPrefix(location, "/") {
		url = h.base + location
	}
	resp, err := h.client.R().SetContext(ctx).Get(url)
	if err := transferErr(resp, err, "fetch"); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (h *HTTPStore) ReplaceBytes(ctx context.Context, id string, audio []byte) (string, error) {
	var out struct {
		AudioLocation string `json:"audioLocation"`
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(audio).
		SetResult(&out).
		Put("/clips/" + id + "/audio")
	if err := transferErr(resp, err, "replace bytes"); err != nil {
		return "", err
	}
	return out.AudioLocation, nil
}

func (h *HTTPStore) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(patch).
		Patch("/clips/" + id)
	return transferErr(resp, err, "update metadata")
}

func (h *HTTPStore) Delete(ctx context.Context, id string) error {
	resp, err := h.client.R().SetContext(ctx).Delete("/clips/" + id)
	return transferErr(resp, err, "delete")
}

func transferErr(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransfer, op, err)
	}
	if resp.StatusCode() == 404 {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s: status %d", ErrTransfer, op, resp.StatusCode())
	}
	return nil
}

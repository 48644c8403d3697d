package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"photonix/internal/classify"
)

const (
	predictPath      = "/predict"
	predictBatchPath = "/predict/batch"
)

// Client calls a remote inference service for one classifier kind.
type Client struct {
	kind   classify.Kind
	client *resty.Client
}

// BatchClient is a Client whose service also accepts batches.
type BatchClient struct {
	*Client
}

// New returns a classify.Model for the endpoint. With batch set the returned
// model also implements classify.BatchModel.
func New(kind classify.Kind, endpoint string, timeout time.Duration, batch bool) classify.Model {
	c := &Client{
		kind: kind,
		client: resty.New().
			SetBaseURL(strings.TrimRight(endpoint, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "photonix/"+string(kind)),
	}
	if batch {
		return &BatchClient{Client: c}
	}
	return c
}

func (c *Client) request(ctx context.Context, pathname, method string, callback func(req *resty.Request), out any) error {
	req := c.client.R().SetContext(ctx)
	if callback != nil {
		callback(req)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, pathname)
	if err != nil {
		return fmt.Errorf("%s classifier %s: %w", c.kind, pathname, err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(resp.String())
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("%s classifier %s: status %d: %s", c.kind, pathname, resp.StatusCode(), body)
	}
	return nil
}

// Predict sends one photo.
func (c *Client) Predict(ctx context.Context, input classify.Input) (classify.Result, error) {
	var out wireResult
	err := c.request(ctx, predictPath, http.MethodPost, func(req *resty.Request) {
		req.SetBody(toWire(input))
	}, &out)
	if err != nil {
		return classify.Result{}, err
	}
	if out.Error != "" {
		return classify.Result{}, errors.New(out.Error)
	}
	return out.result(), nil
}

// PredictBatch sends every input in one request. A per-item error fails the
// whole call so the processor falls back to marking each task failed.
func (c *BatchClient) PredictBatch(ctx context.Context, inputs []classify.Input) ([]classify.Result, error) {
	body := batchRequest{Inputs: make([]wireInput, len(inputs))}
	for i, input := range inputs {
		body.Inputs[i] = toWire(input)
	}
	var out batchResponse
	err := c.request(ctx, predictBatchPath, http.MethodPost, func(req *resty.Request) {
		req.SetBody(body)
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Results) != len(inputs) {
		return nil, fmt.Errorf("%s classifier: expected %d results, got %d", c.kind, len(inputs), len(out.Results))
	}
	results := make([]classify.Result, len(out.Results))
	for i, item := range out.Results {
		if item.Error != "" {
			return nil, fmt.Errorf("%s classifier: input %s: %s", c.kind, inputs[i].PhotoID, item.Error)
		}
		results[i] = item.result()
	}
	return results, nil
}

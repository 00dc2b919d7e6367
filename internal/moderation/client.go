package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Verdict is the classifier's opinion of one text.
type Verdict struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Negative reports whether the verdict blocks the message.
func (v Verdict) Negative() bool {
	return v.Label == "negative" || v.Score < 0
}

// Classifier scores a piece of text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

type classifyRequest struct {
	Data struct {
		Text string `json:"text"`
	} `json:"data"`
}

type classifyResponse struct {
	Sentiment *Verdict `json:"sentiment"`
}

// Client calls the external sentiment HTTP service.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Classify posts {"data":{"text":...}} and decodes {"sentiment":{...}}.
// Any transport, status or decoding problem is ErrServiceUnavailable.
func (c *Client) Classify(ctx context.Context, text string) (Verdict, error) {
	var reqBody classifyRequest
	reqBody.Data.Text = text
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "encode sentiment request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, errors.Wrap(ErrServiceUnavailable, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, errors.Wrap(ErrServiceUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Verdict{}, errors.Wrapf(ErrServiceUnavailable, "status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Verdict{}, errors.Wrap(ErrServiceUnavailable, "decode response: "+err.Error())
	}
	if out.Sentiment == nil {
		return Verdict{}, errors.Wrap(ErrServiceUnavailable, "response has no sentiment")
	}
	return *out.Sentiment, nil
}

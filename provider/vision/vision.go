// Package vision extracts question text from images with the Google Cloud
// Vision images:annotate API.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/xraph/getanswer/query"
)

// DefaultEndpoint is the public Vision API host.
const DefaultEndpoint = "https://vision.googleapis.com"

// Feature types accepted by the annotate call.
const (
	FeatureDocumentText = "DOCUMENT_TEXT_DETECTION"
	FeatureText         = "TEXT_DETECTION"
)

var _ query.Extractor = (*Client)(nil)

// Client implements query.Extractor.
type Client struct {
	apiKey     string
	endpoint   string
	feature    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API host, mainly for tests.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithFeature selects the detection feature (default DOCUMENT_TEXT_DETECTION).
func WithFeature(feature string) Option {
	return func(c *Client) { c.feature = feature }
}

// New creates a Vision client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		feature:  FeatureDocumentText,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageContent `json:"image"`
	Features []feature    `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text string `json:"text"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// ExtractText returns the full text found in img, or "" when the image
// holds no legible text. When img.Data is empty the image is read from
// img.Ref as a local path.
func (c *Client) ExtractText(ctx context.Context, img query.Image) (string, error) {
	data, err := imageBytes(img)
	if err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(annotateRequest{
		Requests: []imageRequest{{
			Image:    imageContent{Content: base64.StdEncoding.EncodeToString(data)},
			Features: []feature{{Type: c.feature}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("vision: marshal request: %w", err)
	}

	url := c.endpoint + "/v1/images:annotate?key=" + c.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("vision: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("vision: status %d: %s", resp.StatusCode, string(body))
	}

	var result annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("vision: decode response: %w", err)
	}

	if len(result.Responses) == 0 {
		return "", nil
	}
	r := result.Responses[0]
	if r.Error != nil {
		return "", fmt.Errorf("vision: annotate error %d: %s", r.Error.Code, r.Error.Message)
	}
	if r.FullTextAnnotation == nil {
		return "", nil
	}
	return r.FullTextAnnotation.Text, nil
}

func imageBytes(img query.Image) ([]byte, error) {
	if len(img.Data) > 0 {
		return img.Data, nil
	}
	if img.Ref == "" {
		return nil, errors.New("vision: image has neither data nor a reference")
	}

	data, err := os.ReadFile(strings.TrimPrefix(img.Ref, "file://"))
	if err != nil {
		return nil, fmt.Errorf("vision: read image: %w", err)
	}
	return data, nil
}

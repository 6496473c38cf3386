// Package publisher translates a claimed post into one call against the
// external platform API. It never retries: retry accounting belongs to
// the lifecycle engine's guarded retry path.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"postline/internal/entity"
	"postline/pkg/config"
)

type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindGeneric     ErrorKind = "generic"
)

// PublishError is the single failure type the lifecycle sees. The kind is
// preserved for future differentiation but all kinds currently follow the
// same failed-publish path.
type PublishError struct {
	Kind    ErrorKind
	Message string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed (%s): %s", e.Kind, e.Message)
}

type Publisher interface {
	Publish(ctx context.Context, post *entity.Post) (string, error)
}

type publishRequest struct {
	Platform string `json:"platform"`
	Content  string `json:"content"`
}

type publishResponse struct {
	ID string `json:"id"`
}

type platformPublisher struct {
	apiURL   string
	apiToken string
	timeout  time.Duration
	client   *http.Client
}

func NewPlatformPublisher(cfg *config.Config) Publisher {
	return &platformPublisher{
		apiURL:   cfg.PlatformAPIURL,
		apiToken: cfg.PlatformAPIToken,
		timeout:  cfg.PublishTimeout,
		client:   &http.Client{},
	}
}

// Publish sends the rendered post to the platform and returns the external
// post id. The call is bounded by the configured timeout; a timeout is a
// PublishError like any other failure.
func (p *platformPublisher) Publish(ctx context.Context, post *entity.Post) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(publishRequest{
		Platform: post.Platform,
		Content:  post.Content,
	})
	if err != nil {
		return "", &PublishError{Kind: KindGeneric, Message: fmt.Sprintf("failed to encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", &PublishError{Kind: KindGeneric, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &PublishError{Kind: KindGeneric, Message: fmt.Sprintf("platform call failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &PublishError{Kind: KindAuth, Message: fmt.Sprintf("platform rejected credentials: %s", resp.Status)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &PublishError{Kind: KindRateLimited, Message: "platform rate limit exceeded"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &PublishError{Kind: KindGeneric, Message: fmt.Sprintf("platform returned %s: %s", resp.Status, string(respBody))}
	}

	var parsed publishResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &PublishError{Kind: KindGeneric, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	if parsed.ID == "" {
		return "", &PublishError{Kind: KindGeneric, Message: "platform returned no post id"}
	}

	return parsed.ID, nil
}

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultSignedURLExpiry is the lifetime of signed URLs, in seconds.
const DefaultSignedURLExpiry = 3600

// Upload stores data at path in the bucket without overwriting and returns
// its public URL.
func (c *Client) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/storage/v1/object/" + c.bucket + "/" + path,
		body:   bytes.NewReader(data),
		headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "max-age=31536000",
			"x-upsert":      "false",
		},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return c.PublicURL(path), nil
}

// PublicURL is the address of path in a public bucket.
func (c *Client) PublicURL(path string) string {
	return c.baseURL + "/storage/v1/object/public/" + c.bucket + "/" + path
}

// ObjectPath extracts the in-bucket path from a public URL. It returns ""
// for URLs that do not point into the bucket.
func (c *Client) ObjectPath(publicURL string) string {
	prefix := c.PublicURL("")
	if !strings.HasPrefix(publicURL, prefix) {
		return ""
	}
	return strings.TrimPrefix(publicURL, prefix)
}

// SignedURL returns a time-limited URL for path. expiresIn <= 0 uses
// DefaultSignedURLExpiry.
func (c *Client) SignedURL(ctx context.Context, path string, expiresIn int) (string, error) {
	if path == "" {
		return "", errors.New("signed url: empty path")
	}
	if expiresIn <= 0 {
		expiresIn = DefaultSignedURLExpiry
	}
	body, err := jsonBody(map[string]int{"expiresIn": expiresIn})
	if err != nil {
		return "", err
	}
	var out struct {
		SignedURL string `json:"signedURL"`
	}
	err = c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/storage/v1/object/sign/" + c.bucket + "/" + path,
		body:    body,
		headers: map[string]string{"Content-Type": "application/json"},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("signed url: %w", err)
	}
	if out.SignedURL == "" {
		return "", errors.New("signed url: empty response")
	}
	if strings.HasPrefix(out.SignedURL, "http") {
		return out.SignedURL, nil
	}
	return c.baseURL + "/storage/v1" + out.SignedURL, nil
}

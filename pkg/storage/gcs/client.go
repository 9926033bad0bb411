// Package gcs stores prescription images in a Google Cloud Storage bucket
// through the JSON API.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

const (
	apiBase        = "https://storage.googleapis.com"
	readWriteScope = "https://www.googleapis.com/auth/devstorage.read_write"
	requestTimeout = 30 * time.Second
	pingTimeout    = 5 * time.Second
	maxErrorBody   = 2048
)

var errNotInitialized = errors.New("gcs client not initialized")

// StatusError is a non-success answer from the storage API.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gcs %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("gcs %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client uploads and deletes objects in one bucket.
type Client struct {
	http       *resty.Client
	bucket     string
	publicBase string
}

// NewClient authenticates with inline credentials, a credentials file, or the
// ambient application default credentials, in that order, and checks that the
// bucket is reachable before returning.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	creds, err := credentials(ctx, gcp)
	if err != nil {
		return nil, err
	}
	client := newClient(oauth2.NewClient(ctx, creds.TokenSource), apiBase, cfg.BucketName, cfg.PublicBaseURL)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs.connected")
	}
	return client, nil
}

func credentials(ctx context.Context, gcp config.GCPConfig) (*google.Credentials, error) {
	var (
		creds *google.Credentials
		err   error
	)
	switch {
	case gcp.CredentialsJSON != "":
		creds, err = google.CredentialsFromJSON(ctx, []byte(gcp.CredentialsJSON), readWriteScope)
	case gcp.ApplicationCredentials != "":
		data, readErr := os.ReadFile(gcp.ApplicationCredentials)
		if readErr != nil {
			return nil, fmt.Errorf("read credentials file: %w", readErr)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, readWriteScope)
	default:
		creds, err = google.FindDefaultCredentials(ctx, readWriteScope)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs credentials: %w", err)
	}
	return creds, nil
}

func newClient(hc *http.Client, base, bucket, publicBase string) *Client {
	http := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(requestTimeout).
		SetPathParam("bucket", bucket)
	return &Client{
		http:       http,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// Ping lists at most one object, which needs storage.objects.list on the bucket.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.http == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("maxResults", "1").
		SetHeader("Accept", "application/json").
		Get("/storage/v1/b/{bucket}/o")
	return check("list", resp, err, http.StatusOK)
}

// Upload writes body to object with a single media upload.
func (c *Client) Upload(ctx context.Context, object, contentType string, body io.Reader) error {
	if c == nil || c.http == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(object) == "" {
		return errors.New("object name is required")
	}
	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"uploadType": "media", "name": object}).
		SetBody(body)
	if contentType != "" {
		req.SetHeader("Content-Type", contentType)
	}
	resp, err := req.Post("/upload/storage/v1/b/{bucket}/o")
	return check("upload", resp, err, http.StatusOK, http.StatusCreated)
}

// DeleteObject removes object. A missing object counts as deleted.
func (c *Client) DeleteObject(ctx context.Context, object string) error {
	if c == nil || c.http == nil {
		return errNotInitialized
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("object", object).
		Delete("/storage/v1/b/{bucket}/o/{object}")
	return check("delete", resp, err, http.StatusOK, http.StatusNoContent, http.StatusNotFound)
}

// PublicURL is the browser-facing address of object.
func (c *Client) PublicURL(object string) string {
	base := c.publicBase
	if base == "" {
		base = apiBase
	}
	return base + "/" + c.bucket + "/" + strings.TrimLeft(object, "/")
}

// Close is a no-op; the underlying transport is shared.
func (c *Client) Close() error { return nil }

func check(op string, resp *resty.Response, err error, ok ...int) error {
	if err != nil {
		return fmt.Errorf("gcs %s: %w", op, err)
	}
	for _, code := range ok {
		if resp.StatusCode() == code {
			return nil
		}
	}
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Op: op, Status: resp.StatusCode(), Body: body}
}

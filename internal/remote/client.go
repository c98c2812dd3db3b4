// Package remote provides the HTTP client for the hosted visitors table.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/models"
)

// defaultBatchSize caps records per call to respect backend payload limits.
const defaultBatchSize = 50

// Client talks to a hosted REST table endpoint (PostgREST-style CRUD over
// HTTPS with JSON payloads).
type Client struct {
	baseURL   string
	apiKey    string
	table     string
	batchSize int
	http      *http.Client
}

// NewClient creates a gateway client for the given table endpoint.
func NewClient(baseURL, apiKey, table string, timeout time.Duration, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		table:     table,
		batchSize: batchSize,
		http:      &http.Client{Timeout: timeout},
	}
}

// TestConnectivity probes the backend with a minimal select.
func (c *Client) TestConnectivity(ctx context.Context) bool {
	url := fmt.Sprintf("%s/%s?select=id&limit=1", c.baseURL, c.table)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// FetchAll returns every record in the remote table.
func (c *Client) FetchAll(ctx context.Context) ([]models.Visitor, error) {
	url := fmt.Sprintf("%s/%s?select=*", c.baseURL, c.table)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportErr("fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusErr(resp)
	}

	var visitors []models.Visitor
	if err := json.NewDecoder(resp.Body).Decode(&visitors); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteRejected, "failed to decode remote records", err)
	}
	return visitors, nil
}

// UpsertBatch inserts or updates records, chunked to the batch size.
func (c *Client) UpsertBatch(ctx context.Context, visitors []models.Visitor) error {
	for start := 0; start < len(visitors); start += c.batchSize {
		end := start + c.batchSize
		if end > len(visitors) {
			end = len(visitors)
		}
		if err := c.upsertChunk(ctx, visitors[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) upsertChunk(ctx context.Context, visitors []models.Visitor) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, c.table)

	body, err := json.Marshal(visitors)
	if err != nil {
		return fmt.Errorf("failed to marshal visitors: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	// Conflict target is id: collisions merge instead of erroring.
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportErr("upsert failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusErr(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// DeleteBatch deletes records by id list, chunked to the batch size.
// A not-found response is success: the record is already gone.
func (c *Client) DeleteBatch(ctx context.Context, ids []int64) error {
	for start := 0; start < len(ids); start += c.batchSize {
		end := start + c.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := c.deleteChunk(ctx, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) deleteChunk(ctx context.Context, ids []int64) error {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	url := fmt.Sprintf("%s/%s?id=in.(%s)", c.baseURL, c.table, strings.Join(parts, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return transportErr("delete failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		// Idempotent delete: already satisfied.
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusErr(resp)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// transportErr classifies a transport-level failure.
func transportErr(msg string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Wrap(apperrors.ErrRemoteTimeout, msg, err)
	}
	return apperrors.Wrap(apperrors.ErrRemoteUnavailable, msg, err)
}

// statusErr converts a non-2xx response into an error value.
func statusErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("backend returned status %d", resp.StatusCode)
	if len(body) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode == http.StatusNotFound {
		return apperrors.New(apperrors.ErrNotFound, msg)
	}
	return apperrors.New(apperrors.ErrRemoteRejected, msg)
}

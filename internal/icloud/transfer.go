package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Transport streams rendition bytes and realizes remote deletions. The
// downloader (internal/downloader) and deletion planner (internal/reconcile)
// depend on this interface rather than *Client.
type Transport interface {
	// Stream copies bytes from the rendition's signed URL to w, starting
	// at offset (0 for a fresh download, >0 to resume a partial file via
	// HTTP Range). Returns the number of bytes written in this call.
	Stream(ctx context.Context, signedURL string, offset int64, w io.Writer) (int64, error)

	// MoveToRecentlyDeleted moves one or more assets to the Recently-Deleted
	// album in a single batched call where the service supports it.
	MoveToRecentlyDeleted(ctx context.Context, libraryID string, assetIDs []string) error
}

// Stream downloads from a pre-authenticated signed URL directly,
// bypassing the authenticated API path — signed URLs carry their own
// embedded auth and must never be logged (they are treated the same
// way the teacher treats Graph's @microsoft.graph.downloadUrl).
func (c *Client) Stream(ctx context.Context, signedURL string, offset int64, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("icloud: creating download request: %w", err)
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, WrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		errBody, _ := io.ReadAll(resp.Body)

		return 0, &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Apple-Request-UUID"),
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		c.logger.Error("streaming download failed", slog.String("error", copyErr.Error()), slog.Int64("bytes_before_error", n))

		return n, WrapTransportError(copyErr)
	}

	return n, nil
}

// MoveToRecentlyDeleted moves the given assets to the Recently-Deleted
// album. Batched in a single request where the service supports it
// (spec.md §4.7).
func (c *Client) MoveToRecentlyDeleted(ctx context.Context, libraryID string, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	payload, err := json.Marshal(moveToDeletedRequest{LibraryID: libraryID, AssetIDs: assetIDs})
	if err != nil {
		return fmt.Errorf("icloud: encoding delete batch: %w", err)
	}

	resp, err := c.Do(ctx, "POST", "/database/1/com.apple.photos.cloud/production/private/records/modify", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Info("moved assets to recently deleted",
		slog.String("library_id", libraryID),
		slog.Int("count", len(assetIDs)),
	)

	return nil
}

type moveToDeletedRequest struct {
	LibraryID string   `json:"libraryId"`
	AssetIDs  []string `json:"assetIds"`
}

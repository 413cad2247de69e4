package icloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// AssetLister retrieves pages of assets ordered by added-date descending.
// Consumers (internal/iterator) depend on this interface, not *Client,
// per "accept interfaces, return structs".
type AssetLister interface {
	ListAssets(ctx context.Context, libraryID, albumID, cursor string, pageSize int) (*AssetPage, error)
}

// AlbumLister retrieves the set of albums and libraries available on
// the account.
type AlbumLister interface {
	ListAlbums(ctx context.Context, libraryID string) ([]Album, error)
	ListLibraries(ctx context.Context) ([]Library, error)
}

// defaultPageSize is used when a caller does not specify one.
const defaultPageSize = 200

// ListAssets fetches one page of assets for a library (optionally
// scoped to one album), ordered by added-date descending. An empty
// cursor requests the first page.
func (c *Client) ListAssets(ctx context.Context, libraryID, albumID, cursor string, pageSize int) (*AssetPage, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	path := fmt.Sprintf("/database/1/com.apple.photos.cloud/production/private/records/query")

	c.logger.Debug("listing assets",
		slog.String("library_id", libraryID),
		slog.String("album_id", albumID),
		slog.String("cursor", cursor),
		slog.Int("page_size", pageSize),
	)

	req := assetQueryRequest{
		LibraryID: libraryID,
		AlbumID:   albumID,
		Cursor:    cursor,
		PageSize:  pageSize,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("icloud: encoding asset query: %w", err)
	}

	resp, err := c.Do(ctx, "POST", path, bytesReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire assetQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("icloud: decoding asset query response: %w", err)
	}

	page := &AssetPage{
		Assets:     make([]Asset, 0, len(wire.Records)),
		NextCursor: wire.NextCursor,
	}

	for i := range wire.Records {
		page.Assets = append(page.Assets, wire.Records[i].toAsset())
	}

	return page, nil
}

// ListAlbums returns the albums visible for a library, including the
// Recently-Deleted album.
func (c *Client) ListAlbums(ctx context.Context, libraryID string) ([]Album, error) {
	path := fmt.Sprintf("/database/1/com.apple.photos.cloud/production/private/albums?library=%s", libraryID)

	resp, err := c.Do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire albumListResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("icloud: decoding album list: %w", err)
	}

	albums := make([]Album, 0, len(wire.Albums))
	for i := range wire.Albums {
		albums = append(albums, Album{ID: wire.Albums[i].ID, Name: wire.Albums[i].Name, LibraryID: libraryID})
	}

	return albums, nil
}

// ListLibraries returns the personal library plus any shared libraries
// the account participates in.
func (c *Client) ListLibraries(ctx context.Context) ([]Library, error) {
	resp, err := c.Do(ctx, "GET", "/database/1/com.apple.photos.cloud/production/private/libraries", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire libraryListResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("icloud: decoding library list: %w", err)
	}

	libs := make([]Library, 0, len(wire.Libraries))
	for i := range wire.Libraries {
		libs = append(libs, Library{ID: wire.Libraries[i].ID, Name: wire.Libraries[i].Name, Shared: wire.Libraries[i].Shared})
	}

	return libs, nil
}

// --- wire types: isolated here so Asset/Rendition stay free of JSON tags. ---

type assetQueryRequest struct {
	LibraryID string `json:"libraryId"`
	AlbumID   string `json:"albumId,omitempty"`
	Cursor    string `json:"cursor,omitempty"`
	PageSize  int    `json:"pageSize"`
}

type assetQueryResponse struct {
	Records    []wireRecord `json:"records"`
	NextCursor string       `json:"nextCursor"`
}

type wireRecord struct {
	ID         string                 `json:"recordId"`
	Kind       string                 `json:"kind"`
	AddedAt    int64                  `json:"addedAtMs"`
	CreatedAt  int64                  `json:"createdAtMs"`
	HasTZ      bool                   `json:"createdAtHasTZ"`
	Favorite   bool                   `json:"isFavorite"`
	Albums     []string               `json:"albumIds"`
	LibraryID  string                 `json:"libraryId"`
	Deleted    bool                   `json:"isDeleted"`
	Renditions map[string]wireVersion `json:"renditions"`
	LiveVideo  map[string]wireVersion `json:"liveVideoRenditions"`
	RawRep     *wireVersion           `json:"rawRepresentation"`
}

type wireVersion struct {
	Filename    string `json:"filename"`
	ByteLength  int64  `json:"size"`
	SignedURL   string `json:"url"`
	ContentType string `json:"contentType"`
	Hint        string `json:"typeHint"`
}

func (v wireVersion) toRendition(size SizeTag) Rendition {
	return Rendition{
		Size:        size,
		Filename:    v.Filename,
		ByteLength:  v.ByteLength,
		SignedURL:   v.SignedURL,
		ContentType: v.ContentType,
		Hint:        AssetTypeHint(v.Hint),
	}
}

func (r wireRecord) toAsset() Asset {
	a := Asset{
		ID:              r.ID,
		Kind:            Kind(r.Kind),
		AddedAt:         msToTime(r.AddedAt),
		CreatedAt:       msToTime(r.CreatedAt),
		HasTZ:           r.HasTZ,
		IsFavorite:      r.Favorite,
		LibraryID:       r.LibraryID,
		DeletedInICloud: r.Deleted,
		AlbumMembership: make(map[string]struct{}, len(r.Albums)),
		Renditions:      make(map[SizeTag]Rendition, len(r.Renditions)),
	}

	for _, id := range r.Albums {
		a.AlbumMembership[id] = struct{}{}
	}

	for size, v := range r.Renditions {
		a.Renditions[SizeTag(size)] = v.toRendition(SizeTag(size))
	}

	if len(r.LiveVideo) > 0 {
		a.LiveVideo = make(map[SizeTag]Rendition, len(r.LiveVideo))
		for size, v := range r.LiveVideo {
			a.LiveVideo[SizeTag(size)] = v.toRendition(SizeTag(size))
		}
	}

	if r.RawRep != nil {
		rr := r.RawRep.toRendition(SizeOriginal)
		a.RawRepresentation = &rr
	}

	return a
}

type albumListResponse struct {
	Albums []wireAlbum `json:"albums"`
}

type wireAlbum struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type libraryListResponse struct {
	Libraries []wireLibrary `json:"libraries"`
}

type wireLibrary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Shared bool   `json:"shared"`
}

package downloader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/localindex"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
)

type fakeTransport struct {
	payload     []byte
	failNTimes  int
	failWithErr error
	calls       int
}

func (f *fakeTransport) Stream(_ context.Context, _ string, offset int64, w io.Writer) (int64, error) {
	f.calls++

	if f.calls <= f.failNTimes {
		return 0, f.failWithErr
	}

	if offset >= int64(len(f.payload)) {
		return 0, nil
	}

	n, err := w.Write(f.payload[offset:])

	return int64(n), err
}

func (f *fakeTransport) MoveToRecentlyDeleted(context.Context, string, []string) error { return nil }

func TestDownload_FreshSuccess(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))

	payload := []byte("hello world")
	transport := &fakeTransport{payload: payload}
	d := New(transport, localindex.New(nil), nil, nil, nil)

	asset := &icloud.Asset{ID: "a", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	rendition := icloud.Rendition{SignedURL: "https://example/fake", ByteLength: int64(len(payload))}

	result, err := d.Download(context.Background(), asset, rendition, target, 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, target, result.Path)
	assert.False(t, result.Resumed)

	data, err := os.ReadFile(string(target))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownload_ResumesFromPartial(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))
	require.NoError(t, os.WriteFile(string(target)+".part", []byte("hello "), 0o644))

	payload := []byte("hello world")
	transport := &fakeTransport{payload: payload}
	d := New(transport, localindex.New(nil), nil, nil, nil)

	asset := &icloud.Asset{ID: "a", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	rendition := icloud.Rendition{SignedURL: "https://example/fake", ByteLength: int64(len(payload))}

	result, err := d.Download(context.Background(), asset, rendition, target, 6, Options{})
	require.NoError(t, err)
	assert.True(t, result.Resumed)

	data, err := os.ReadFile(string(target))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownload_LengthMismatchIsIntegrityError(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))

	transport := &fakeTransport{payload: []byte("short")}
	d := New(transport, localindex.New(nil), nil, nil, nil)

	asset := &icloud.Asset{ID: "a", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	rendition := icloud.Rendition{SignedURL: "https://example/fake", ByteLength: 999}

	_, err := d.Download(context.Background(), asset, rendition, target, 0, Options{})
	require.Error(t, err)

	var integrityErr *icloud.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.EqualValues(t, 999, integrityErr.Expected)

	_, statErr := os.Stat(string(target))
	assert.True(t, os.IsNotExist(statErr), "mismatched download must not be published")
}

func TestDownload_RetriesOnTransientError(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))

	payload := []byte("hello world")
	transport := &fakeTransport{payload: payload, failNTimes: 2, failWithErr: icloud.WrapTransportError(errors.New("reset"))}
	d := New(transport, localindex.New(nil), nil, nil, nil)

	asset := &icloud.Asset{ID: "a", CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	rendition := icloud.Rendition{SignedURL: "https://example/fake", ByteLength: int64(len(payload))}

	d.streamRetryDelay = time.Millisecond

	result, err := d.Download(context.Background(), asset, rendition, target, 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, target, result.Path)
	assert.Equal(t, 3, transport.calls)
}

func TestDownload_NonRetryablePropagatesImmediately(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))

	transport := &fakeTransport{failNTimes: 1, failWithErr: icloud.ErrNotFound}
	d := New(transport, localindex.New(nil), nil, nil, nil)

	asset := &icloud.Asset{ID: "a"}
	rendition := icloud.Rendition{SignedURL: "https://example/fake", ByteLength: 11}

	_, err := d.Download(context.Background(), asset, rendition, target, 0, Options{})
	require.ErrorIs(t, err, icloud.ErrNotFound)
	assert.Equal(t, 1, transport.calls)
}

func TestDownload_SetsMtimeFromCreatedAt(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))

	payload := []byte("x")
	transport := &fakeTransport{payload: payload}
	d := New(transport, localindex.New(nil), nil, nil, nil)

	want := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)
	asset := &icloud.Asset{ID: "a", CreatedAt: want, HasTZ: true}
	rendition := icloud.Rendition{SignedURL: "https://example/fake", ByteLength: 1}

	_, err := d.Download(context.Background(), asset, rendition, target, 0, Options{})
	require.NoError(t, err)

	info, err := os.Stat(string(target))
	require.NoError(t, err)
	assert.WithinDuration(t, want, info.ModTime(), time.Second)
}

package reconcile

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/localindex"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
	"github.com/tonimelisma/icloudpd-go/internal/plugin"
)

type stubTransport struct {
	batches       [][]string
	failFirstWith error
}

func (t *stubTransport) Stream(context.Context, string, int64, io.Writer) (int64, error) {
	return 0, nil
}

func (t *stubTransport) MoveToRecentlyDeleted(_ context.Context, _ string, assetIDs []string) error {
	if t.failFirstWith != nil {
		err := t.failFirstWith
		t.failFirstWith = nil

		return err
	}

	t.batches = append(t.batches, assetIDs)

	return nil
}

type fakeReauthenticator struct {
	called bool
	err    error
}

func (f *fakeReauthenticator) Reauthenticate(context.Context) error {
	f.called = true

	return f.err
}

func TestPlanner_LocalDeleteRemovesMatchingFile(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "a1.jpg"))
	require.NoError(t, os.WriteFile(string(target), []byte("hello"), 0o644))

	idx := localindex.New(nil)
	transport := &stubTransport{}
	hook := &recordingHook{}

	p := NewPlanner(idx, transport, nil, hook, dir, 10, nil)

	report, err := p.Realize(context.Background(), []LocalDeleteIntent{
		{AssetID: "a1", Path: target, ExpectedSize: 5},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LocalDeleted)

	_, statErr := os.Stat(string(target))
	assert.True(t, os.IsNotExist(statErr))

	var sawEvent bool

	for _, ev := range hook.events {
		if ev.Kind == plugin.EventLocalDeleted {
			sawEvent = true
		}
	}

	assert.True(t, sawEvent)
}

func TestPlanner_LocalDeleteSkipsOnSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "a1.jpg"))
	require.NoError(t, os.WriteFile(string(target), []byte("hello world"), 0o644))

	idx := localindex.New(nil)
	p := NewPlanner(idx, &stubTransport{}, nil, nil, dir, 10, nil)

	report, err := p.Realize(context.Background(), []LocalDeleteIntent{
		{AssetID: "a1", Path: target, ExpectedSize: 5},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.LocalDeleted)
	assert.Equal(t, 1, report.LocalSkipped)

	_, statErr := os.Stat(string(target))
	assert.NoError(t, statErr, "mismatched file must survive")
}

func TestPlanner_RemoteDeleteBatches(t *testing.T) {
	idx := localindex.New(nil)
	transport := &stubTransport{}

	p := NewPlanner(idx, transport, nil, nil, t.TempDir(), 2, nil)

	intents := []RemoteDeleteIntent{
		{AssetID: "a1", LibraryID: "lib1"},
		{AssetID: "a2", LibraryID: "lib1"},
		{AssetID: "a3", LibraryID: "lib1"},
	}

	report, err := p.Realize(context.Background(), nil, intents)
	require.NoError(t, err)
	assert.Equal(t, 3, report.RemoteDeleted)
	assert.Equal(t, 2, report.RemoteBatches)
	assert.Len(t, transport.batches, 2)
}

func TestPlanner_RemoteDeleteRetriesOnceAfterReauth(t *testing.T) {
	idx := localindex.New(nil)
	transport := &stubTransport{failFirstWith: icloud.ErrAuthExpired}
	reauth := &fakeReauthenticator{}

	p := NewPlanner(idx, transport, reauth, nil, t.TempDir(), 10, nil)

	intents := []RemoteDeleteIntent{{AssetID: "a1", LibraryID: "lib1"}}

	report, err := p.Realize(context.Background(), nil, intents)
	require.NoError(t, err)
	assert.True(t, reauth.called)
	assert.True(t, report.ReauthAttempted)
	assert.Equal(t, 1, report.RemoteDeleted)
}

func TestPlanner_RemoteDeletePropagatesNonAuthError(t *testing.T) {
	idx := localindex.New(nil)
	transport := &stubTransport{failFirstWith: errors.New("boom")}

	p := NewPlanner(idx, transport, nil, nil, t.TempDir(), 10, nil)

	intents := []RemoteDeleteIntent{{AssetID: "a1", LibraryID: "lib1"}}

	_, err := p.Realize(context.Background(), nil, intents)
	require.Error(t, err)
}

func TestPlanner_RemovesEmptyDirsAfterLocalDelete(t *testing.T) {
	root := t.TempDir()
	leaf := filepath.Join(root, "2025", "01")
	require.NoError(t, os.MkdirAll(leaf, 0o755))

	target := naming.Path(filepath.Join(leaf, "a1.jpg"))
	require.NoError(t, os.WriteFile(string(target), []byte("hello"), 0o644))

	idx := localindex.New(nil)
	p := NewPlanner(idx, &stubTransport{}, nil, nil, root, 10, nil)

	_, err := p.Realize(context.Background(), []LocalDeleteIntent{
		{AssetID: "a1", Path: target, ExpectedSize: 5},
	}, nil)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, "2025"))
	assert.True(t, os.IsNotExist(statErr))
}

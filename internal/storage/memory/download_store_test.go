package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sipeto/internal/media"
)

func TestDownloadStoreListsNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewDownloadStore()
	ctx := context.Background()
	base := time.Unix(1000, 0)
	for i, platform := range []media.Platform{media.PlatformTikTok, media.PlatformTwitter, media.PlatformTikTok} {
		require.NoError(t, store.RecordDownload(ctx, media.DownloadRecord{
			ID:           fmt.Sprintf("row-%d", i),
			Platform:     platform,
			DownloadedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := store.ListDownloads(ctx, media.DownloadQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "row-2", all[0].ID)

	tiktok, err := store.ListDownloads(ctx, media.DownloadQuery{Platform: media.PlatformTikTok, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, tiktok, 1)
	assert.Equal(t, "row-0", tiktok[0].ID)

	none, err := store.ListDownloads(ctx, media.DownloadQuery{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDownloadStoreGetAndDuplicates(t *testing.T) {
	t.Parallel()

	store := NewDownloadStore()
	ctx := context.Background()
	rec := media.DownloadRecord{ID: "row-1", Platform: media.PlatformInstagram}
	require.NoError(t, store.RecordDownload(ctx, rec))
	require.Error(t, store.RecordDownload(ctx, rec))
	require.Error(t, store.RecordDownload(ctx, media.DownloadRecord{}))

	got, err := store.GetDownload(ctx, "row-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = store.GetDownload(ctx, "nope")
	require.ErrorIs(t, err, media.ErrNotFound)
}

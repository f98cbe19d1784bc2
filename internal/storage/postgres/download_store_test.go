package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sipeto/internal/media"
)

func TestRecordDownloadInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDownloadStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := media.DownloadRecord{
		ID:           "row-1",
		JobID:        "job-1",
		Platform:     media.PlatformTikTok,
		MediaID:      "7123456789012345678",
		MediaType:    "video",
		SourceURL:    "https://vm.tiktok.com/ZM1/",
		Location:     "file:///srv/media/tiktok_7123456789012345678.mp4",
		ContentType:  "video/mp4",
		Bytes:        2048,
		SHA256:       "abc123",
		ChatID:       99,
		DownloadedAt: now,
	}

	mock.ExpectExec("INSERT INTO media_downloads").
		WithArgs(
			rec.ID,
			rec.JobID,
			"tiktok",
			rec.MediaID,
			rec.MediaType,
			rec.SourceURL,
			rec.Location,
			rec.ContentType,
			rec.Bytes,
			rec.SHA256,
			rec.ChatID,
			rec.DownloadedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordDownload(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDownloadPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDownloadStoreWithPool(mock, "ledger")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO ledger").WillReturnError(errors.New("unique violation"))
	err = store.RecordDownload(context.Background(), media.DownloadRecord{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert download")

	require.Error(t, store.RecordDownload(context.Background(), media.DownloadRecord{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDownloadStoreWithPool(mock, "ledger")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ledger").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewDownloadStoreWithPool(mock, "bad;name")
	require.Error(t, err)
	_, err = NewDownloadStoreWithPool(nil, "ok")
	require.Error(t, err)
	_, err = NewDownloadStore(context.Background(), Config{})
	require.Error(t, err)
}

var ledgerColumns = []string{
	"id", "job_id", "platform", "media_id", "media_type", "source_url", "location",
	"content_type", "bytes", "sha256", "chat_id", "downloaded_at",
}

func TestListDownloadsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDownloadStoreWithPool(mock, "ledger")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM ledger").
		WithArgs("twitter", 10, 5).
		WillReturnRows(pgxmock.NewRows(ledgerColumns).
			AddRow("row-2", "job-2", "twitter", "42", "photo", "https://x.com/a/status/42",
				"gs://b/twitter_42.jpg", "image/jpeg", int64(100), "ff", int64(7), at).
			AddRow("row-1", "job-1", "twitter", "41", "video", "https://x.com/a/status/41",
				"gs://b/twitter_41.mp4", "video/mp4", int64(900), "ee", int64(7), at.Add(-time.Minute)))

	recs, err := store.ListDownloads(context.Background(), media.DownloadQuery{Platform: media.PlatformTwitter, Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "row-2", recs[0].ID)
	assert.Equal(t, media.PlatformTwitter, recs[0].Platform)
	assert.Equal(t, int64(900), recs[1].Bytes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDownload(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDownloadStoreWithPool(mock, "")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM media_downloads WHERE id").
		WithArgs("row-1").
		WillReturnRows(pgxmock.NewRows(ledgerColumns).
			AddRow("row-1", "job-1", "instagram", "abc", "photo", "https://instagram.com/p/abc",
				"file:///m/instagram_abc.jpg", "image/jpeg", int64(10), "aa", int64(1), at))
	rec, err := store.GetDownload(context.Background(), "row-1")
	require.NoError(t, err)
	assert.Equal(t, media.PlatformInstagram, rec.Platform)
	assert.Equal(t, at, rec.DownloadedAt)

	mock.ExpectQuery("FROM media_downloads WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.GetDownload(context.Background(), "missing")
	require.ErrorIs(t, err, media.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

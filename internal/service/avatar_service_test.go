package service

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/pkg/jobs"
	"github.com/noah-isme/account-api/pkg/storage"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)

func formFile(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("avatar", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["avatar"][0]
}

type avatarFixture struct {
	svc   *AvatarService
	store *memStore
	dir   string
	queue *jobs.Queue
}

func newAvatarFixture(t *testing.T, cfg AvatarConfig) *avatarFixture {
	t.Helper()
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir, "/uploads")
	require.NoError(t, err)

	store := newMemStore()
	svc := NewAvatarService(store, local, nil, nil, cfg, zap.NewNop())
	queue := jobs.NewQueue("avatars", svc.CleanupHandler(), jobs.QueueConfig{RetryDelay: time.Millisecond})
	queue.Start(context.Background())
	svc.SetQueue(queue)
	t.Cleanup(queue.Stop)
	return &avatarFixture{svc: svc, store: store, dir: dir, queue: queue}
}

func storedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "avatars"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAvatarServiceUploadReplacesPrevious(t *testing.T) {
	f := newAvatarFixture(t, AvatarConfig{})
	user := f.store.add(models.User{Email: "jane@example.com"})

	first, err := f.svc.Upload(context.Background(), user.ID, formFile(t, "me.PNG", pngBytes))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.AvatarURL, "/uploads/avatars/"+user.ID+"-"))
	assert.True(t, strings.HasSuffix(first.AvatarURL, ".png"))
	assert.Equal(t, first.AvatarURL, *f.store.get(user.ID).Avatar)

	second, err := f.svc.Upload(context.Background(), user.ID, formFile(t, "me.png", pngBytes))
	require.NoError(t, err)
	assert.NotEqual(t, first.AvatarURL, second.AvatarURL)

	require.Eventually(t, func() bool { return len(storedFiles(t, f.dir)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, filepath.Base(second.AvatarURL), storedFiles(t, f.dir)[0])
}

func TestAvatarServiceUploadRejects(t *testing.T) {
	f := newAvatarFixture(t, AvatarConfig{MaxFileSize: 1024 * 1024})
	user := f.store.add(models.User{Email: "jane@example.com"})

	_, err := f.svc.Upload(context.Background(), user.ID, nil)
	requireAppError(t, err, "NO_FILE_UPLOADED", http.StatusBadRequest)

	_, err = f.svc.Upload(context.Background(), user.ID, formFile(t, "me.exe", pngBytes))
	requireAppError(t, err, "INVALID_FILE_TYPE", http.StatusBadRequest)

	_, err = f.svc.Upload(context.Background(), user.ID, formFile(t, "me.png", []byte("plain text pretending to be an image")))
	requireAppError(t, err, "INVALID_MIMETYPE", http.StatusBadRequest)

	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{1}, 1024*1024)...)
	_, err = f.svc.Upload(context.Background(), user.ID, formFile(t, "me.png", big))
	requireAppError(t, err, "FILE_TOO_LARGE", http.StatusBadRequest)

	_, err = f.svc.Upload(context.Background(), "missing", formFile(t, "me.png", pngBytes))
	requireAppError(t, err, "NOT_FOUND", http.StatusNotFound)

	assert.Empty(t, storedFiles(t, f.dir))
}

func TestAvatarServiceRemove(t *testing.T) {
	f := newAvatarFixture(t, AvatarConfig{})
	user := f.store.add(models.User{Email: "jane@example.com"})
	_, err := f.svc.Upload(context.Background(), user.ID, formFile(t, "me.gif", append([]byte("GIF89a"), pngBytes[8:]...)))
	require.NoError(t, err)

	resp, err := f.svc.Remove(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Avatar deleted successfully", resp.Message)
	assert.Nil(t, f.store.get(user.ID).Avatar)
	require.Eventually(t, func() bool { return len(storedFiles(t, f.dir)) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestAvatarServiceReleaseIgnoresForeignURLs(t *testing.T) {
	f := newAvatarFixture(t, AvatarConfig{})
	f.svc.Release("https://cdn.example.com/avatars/x.png")

	err := f.svc.CleanupHandler()(context.Background(), jobs.Job{ID: "j1", Payload: 42})
	assert.True(t, jobs.IsPermanent(err))
}

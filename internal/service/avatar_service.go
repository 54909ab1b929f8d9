package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/jobs"
	"github.com/noah-isme/account-api/pkg/storage"
)

// JobDeleteAvatar is the job type handled by AvatarService.CleanupHandler.
const JobDeleteAvatar = "avatar.delete"

var (
	defaultAvatarExtensions = []string{"jpg", "jpeg", "png", "gif", "webp"}
	defaultAvatarMimeTypes  = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
)

type avatarStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, changes repository.ProfileChanges) (*models.User, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// AvatarConfig limits what may be uploaded.
type AvatarConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	AllowedMimeTypes  []string
}

// AvatarService validates avatar uploads, stores them and schedules removal
// of files that are no longer referenced.
type AvatarService struct {
	repo    avatarStore
	storage storage.Storage
	cache   *CacheService
	queue   jobEnqueuer
	cfg     AvatarConfig
	logger  *zap.Logger
}

// NewAvatarService constructs an AvatarService. queue may be nil, in which
// case replaced files are kept.
func NewAvatarService(repo avatarStore, store storage.Storage, cache *CacheService, queue jobEnqueuer, cfg AvatarConfig, logger *zap.Logger) *AvatarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 * 1024 * 1024
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = defaultAvatarExtensions
	}
	if len(cfg.AllowedMimeTypes) == 0 {
		cfg.AllowedMimeTypes = defaultAvatarMimeTypes
	}
	return &AvatarService{repo: repo, storage: store, cache: cache, queue: queue, cfg: cfg, logger: logger}
}

// SetQueue attaches the cleanup queue once it has been built.
func (s *AvatarService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Upload checks and stores file as the avatar of userID.
func (s *AvatarService) Upload(ctx context.Context, userID string, file *multipart.FileHeader) (*models.AvatarResponse, error) {
	if file == nil {
		return nil, appErrors.ErrNoFileUploaded
	}
	if file.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrFileTooLarge, "").
			WithDetails("avatar", fmt.Sprintf("File must be at most %d MB", s.cfg.MaxFileSize/(1024*1024)))
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file.Filename), "."))
	if !contains(s.cfg.AllowedExtensions, ext) {
		return nil, appErrors.Clone(appErrors.ErrInvalidFileType, "").
			WithDetails("avatar", "Allowed types: "+strings.Join(s.cfg.AllowedExtensions, ", "))
	}

	src, err := file.Open()
	if err != nil {
		return nil, internal(err, "failed to read upload")
	}
	defer src.Close()

	mime, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, internal(err, "failed to inspect upload")
	}
	if !s.mimeAllowed(mime) {
		return nil, appErrors.Clone(appErrors.ErrInvalidMimetype, "").WithDetails("avatar", "Detected type "+mime.String()+" is not an image")
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, internal(err, "failed to rewind upload")
	}

	previous, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound()
		}
		return nil, internal(err, "failed to load user")
	}

	url, err := s.storage.Put(ctx, storage.Object{
		Key:         fmt.Sprintf("avatars/%s-%s.%s", userID, uuid.NewString(), ext),
		Body:        src,
		Size:        file.Size,
		ContentType: mime.String(),
	})
	if err != nil {
		return nil, internal(err, "failed to store avatar")
	}

	if _, err := s.repo.UpdateProfile(ctx, userID, repository.ProfileChanges{Avatar: &url}); err != nil {
		s.Release(url)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound()
		}
		return nil, internal(err, "failed to save avatar")
	}
	_ = s.cache.Invalidate(ctx, userCachePattern)

	if previous.Avatar != nil {
		s.Release(*previous.Avatar)
	}
	s.logger.Info("avatar uploaded", zap.String("user_id", userID), zap.String("url", url))
	return &models.AvatarResponse{AvatarURL: url}, nil
}

// Remove clears the avatar of userID.
func (s *AvatarService) Remove(ctx context.Context, userID string) (*models.MessageResponse, error) {
	previous, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound()
		}
		return nil, internal(err, "failed to load user")
	}
	if _, err := s.repo.UpdateProfile(ctx, userID, repository.ProfileChanges{ClearAvatar: true}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userNotFound()
		}
		return nil, internal(err, "failed to delete avatar")
	}
	_ = s.cache.Invalidate(ctx, userCachePattern)

	if previous.Avatar != nil {
		s.Release(*previous.Avatar)
	}
	return &models.MessageResponse{Message: "Avatar deleted successfully"}, nil
}

// Release schedules deletion of the file behind url when it lives in our
// storage. URLs pointing elsewhere are ignored.
func (s *AvatarService) Release(url string) {
	key, ok := s.storage.KeyFromURL(url)
	if !ok {
		return
	}
	if s.queue == nil {
		s.logger.Debug("no cleanup queue, keeping avatar", zap.String("key", key))
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: JobDeleteAvatar, Payload: key}); err != nil {
		s.logger.Warn("failed to schedule avatar cleanup", zap.String("key", key), zap.Error(err))
	}
}

// CleanupHandler deletes stored files named by JobDeleteAvatar jobs.
func (s *AvatarService) CleanupHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		key, ok := job.Payload.(string)
		if !ok || key == "" {
			return jobs.Permanent(fmt.Errorf("job %s: payload is not a storage key", job.ID))
		}
		return s.storage.Delete(ctx, key)
	}
}

func (s *AvatarService) mimeAllowed(mime *mimetype.MIME) bool {
	for _, allowed := range s.cfg.AllowedMimeTypes {
		if mime.Is(allowed) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

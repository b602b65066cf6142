package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

// allowedImageTypes is the MIME allow-list for medication images.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
}

// allowedImageExtensions is the filename fallback used when a platform omits
// the MIME type.
var allowedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".heic": true,
}

// StagedFile is caller input for Enqueue: one selected file with an optional
// preview resource that the coordinator takes ownership of.
type StagedFile struct {
	Filename    string
	ContentType string
	Data        io.Reader
	Preview     io.ReadCloser
}

// StagedAttachment is one queued, not-yet-uploaded file. The preview resource
// is owned by the coordinator and released on remove or flush; leaking it is
// a contract violation.
type StagedAttachment struct {
	LocalID     string
	Filename    string
	ContentType string
	data        io.Reader
	preview     io.ReadCloser
}

// AttachmentService stages medication images against the pending interview
// turn and uploads them as one batch when the answer is submitted. It owns
// the queue exclusively; the interview engine receives uploaded references as
// explicit values, never ambient state.
type AttachmentService struct {
	api    repositories.IntakeAPI
	logger *zap.Logger

	mu    sync.Mutex
	queue []StagedAttachment
}

// NewAttachmentService creates the staging coordinator.
func NewAttachmentService(api repositories.IntakeAPI, logger *zap.Logger) *AttachmentService {
	return &AttachmentService{
		api:    api,
		logger: logger,
		queue:  make([]StagedAttachment, 0),
	}
}

// Enqueue validates and stages the given files. Files failing both the MIME
// check and the extension fallback are rejected and reported by name without
// blocking the files that passed.
func (s *AttachmentService) Enqueue(files []StagedFile) (accepted []string, rejected []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, file := range files {
		if !isAllowedImage(file.Filename, file.ContentType) {
			rejected = append(rejected, file.Filename)
			if file.Preview != nil {
				file.Preview.Close()
			}
			s.logger.Warn("Rejected attachment with unsupported type",
				zap.String("filename", file.Filename),
				zap.String("contentType", file.ContentType))
			continue
		}

		staged := StagedAttachment{
			LocalID:     uuid.NewString(),
			Filename:    file.Filename,
			ContentType: file.ContentType,
			data:        file.Data,
			preview:     file.Preview,
		}
		s.queue = append(s.queue, staged)
		accepted = append(accepted, staged.LocalID)
	}

	s.logger.Info("Staged attachments",
		zap.Int("accepted", len(accepted)),
		zap.Int("rejected", len(rejected)))
	return accepted, rejected
}

// Remove releases the preview resource and drops the item from the queue.
// Nothing was uploaded yet, so there is no server-side effect.
func (s *AttachmentService) Remove(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, staged := range s.queue {
		if staged.LocalID == localID {
			releasePreview(staged, s.logger)
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no staged attachment with id %s", localID)
}

// Queue returns a snapshot of the staged items.
func (s *AttachmentService) Queue() []StagedAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StagedAttachment, len(s.queue))
	copy(out, s.queue)
	return out
}

// FlushOnSubmit uploads every queued file as one multipart batch. On success
// the queue is cleared with previews released and the server references are
// returned. On failure the queue is preserved so the user can retry; the
// caller treats this as best-effort relative to the answer submission.
func (s *AttachmentService) FlushOnSubmit(ctx context.Context, patientID, visitID string) ([]entities.AttachmentRef, error) {
	s.mu.Lock()
	pending := make([]StagedAttachment, len(s.queue))
	copy(pending, s.queue)
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil, nil
	}

	files := make([]repositories.UploadFile, 0, len(pending))
	for _, staged := range pending {
		files = append(files, repositories.UploadFile{
			Filename:    staged.Filename,
			ContentType: staged.ContentType,
			Data:        staged.data,
		})
	}

	refs, err := s.api.UploadAttachments(ctx, patientID, visitID, files)
	if err != nil {
		s.logger.Error("Attachment upload failed, queue preserved for retry",
			zap.String("visitID", visitID),
			zap.Int("count", len(pending)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to upload staged attachments: %w", err)
	}

	s.mu.Lock()
	for _, staged := range s.queue {
		releasePreview(staged, s.logger)
	}
	s.queue = s.queue[:0]
	s.mu.Unlock()

	return refs, nil
}

// Clear drops the whole queue, releasing previews. Used when the OCR gate
// resolves with re-upload.
func (s *AttachmentService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, staged := range s.queue {
		releasePreview(staged, s.logger)
	}
	s.queue = s.queue[:0]
}

func releasePreview(staged StagedAttachment, logger *zap.Logger) {
	if staged.preview == nil {
		return
	}
	if err := staged.preview.Close(); err != nil {
		logger.Warn("Failed to release attachment preview",
			zap.String("localID", staged.LocalID),
			zap.Error(err))
	}
}

// isAllowedImage checks the MIME allow-list, falling back to the filename
// extension when the MIME type is empty. Some platforms omit MIME types for
// camera captures.
func isAllowedImage(filename, contentType string) bool {
	if contentType != "" {
		return allowedImageTypes[strings.ToLower(contentType)]
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return allowedImageExtensions[ext]
}

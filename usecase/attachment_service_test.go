package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"go.uber.org/zap/zaptest"
)

// closablePreview counts Close calls so tests can assert preview resources
// are released exactly once.
type closablePreview struct {
	closed int
}

func (c *closablePreview) Read(p []byte) (int, error) { return 0, io.EOF }
func (c *closablePreview) Close() error {
	c.closed++
	return nil
}

func stagedJPEG(name string, preview io.ReadCloser) StagedFile {
	return StagedFile{
		Filename:    name,
		ContentType: "image/jpeg",
		Data:        bytes.NewReader([]byte("jpeg")),
		Preview:     preview,
	}
}

func TestEnqueueAcceptsAllowedTypesAndRejectsOthers(t *testing.T) {
	service := NewAttachmentService(&fakeIntakeAPI{}, zaptest.NewLogger(t))
	badPreview := &closablePreview{}

	accepted, rejected := service.Enqueue([]StagedFile{
		stagedJPEG("one.jpg", nil),
		{Filename: "two.png", ContentType: "image/png", Data: bytes.NewReader(nil)},
		{Filename: "three.webp", ContentType: "image/webp", Data: bytes.NewReader(nil)},
		{Filename: "notes.pdf", ContentType: "application/pdf", Data: bytes.NewReader(nil), Preview: badPreview},
	})

	if len(accepted) != 3 {
		t.Errorf("Expected 3 accepted files, got %d", len(accepted))
	}
	if len(rejected) != 1 || rejected[0] != "notes.pdf" {
		t.Errorf("Expected notes.pdf rejected by name, got %v", rejected)
	}
	if badPreview.closed != 1 {
		t.Errorf("Expected rejected file's preview released, closed %d times", badPreview.closed)
	}
	if len(service.Queue()) != 3 {
		t.Errorf("Expected 3 staged items, got %d", len(service.Queue()))
	}
}

func TestEnqueueExtensionFallbackOnlyWhenMIMEEmpty(t *testing.T) {
	service := NewAttachmentService(&fakeIntakeAPI{}, zaptest.NewLogger(t))

	// Missing MIME with an allowed extension passes; a wrong MIME with an
	// allowed extension does not.
	accepted, rejected := service.Enqueue([]StagedFile{
		{Filename: "camera-capture.heic", Data: bytes.NewReader(nil)},
		{Filename: "fake.jpg", ContentType: "application/octet-stream", Data: bytes.NewReader(nil)},
		{Filename: "mystery.xyz", Data: bytes.NewReader(nil)},
	})

	if len(accepted) != 1 {
		t.Errorf("Expected only the extension-fallback file accepted, got %d", len(accepted))
	}
	if len(rejected) != 2 {
		t.Errorf("Expected 2 rejections, got %d", len(rejected))
	}
}

func TestRemoveReleasesPreview(t *testing.T) {
	service := NewAttachmentService(&fakeIntakeAPI{}, zaptest.NewLogger(t))
	preview := &closablePreview{}

	accepted, _ := service.Enqueue([]StagedFile{stagedJPEG("one.jpg", preview)})
	if err := service.Remove(accepted[0]); err != nil {
		t.Fatalf("Expected remove to succeed, got %v", err)
	}
	if preview.closed != 1 {
		t.Errorf("Expected preview released once, closed %d times", preview.closed)
	}
	if len(service.Queue()) != 0 {
		t.Error("Expected queue emptied")
	}

	if err := service.Remove("missing-id"); err == nil {
		t.Error("Expected error removing an unknown id")
	}
}

func TestFlushOnSubmitClearsQueueOnSuccess(t *testing.T) {
	api := &fakeIntakeAPI{}
	service := NewAttachmentService(api, zaptest.NewLogger(t))
	preview := &closablePreview{}

	service.Enqueue([]StagedFile{
		stagedJPEG("front.jpg", preview),
		stagedJPEG("back.jpg", nil),
	})

	refs, err := service.FlushOnSubmit(context.Background(), "p1", "v1")
	if err != nil {
		t.Fatalf("Expected flush to succeed, got %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("Expected 2 server references, got %d", len(refs))
	}
	if len(service.Queue()) != 0 {
		t.Error("Expected queue cleared after flush")
	}
	if preview.closed != 1 {
		t.Errorf("Expected preview released on flush, closed %d times", preview.closed)
	}
	if api.uploads != 1 {
		t.Errorf("Expected one batch upload, got %d", api.uploads)
	}
}

func TestFlushOnSubmitEmptyQueueIsNoop(t *testing.T) {
	api := &fakeIntakeAPI{}
	service := NewAttachmentService(api, zaptest.NewLogger(t))

	refs, err := service.FlushOnSubmit(context.Background(), "p1", "v1")
	if err != nil {
		t.Fatalf("Expected empty flush to succeed, got %v", err)
	}
	if refs != nil {
		t.Errorf("Expected no references, got %v", refs)
	}
	if api.uploads != 0 {
		t.Error("Expected no upload call for an empty queue")
	}
}

func TestFlushFailurePreservesQueue(t *testing.T) {
	api := &fakeIntakeAPI{uploadErr: errors.New("413 payload too large")}
	service := NewAttachmentService(api, zaptest.NewLogger(t))
	preview := &closablePreview{}

	service.Enqueue([]StagedFile{stagedJPEG("front.jpg", preview)})

	if _, err := service.FlushOnSubmit(context.Background(), "p1", "v1"); err == nil {
		t.Fatal("Expected flush failure to surface")
	}
	if len(service.Queue()) != 1 {
		t.Error("Expected queue preserved for retry")
	}
	if preview.closed != 0 {
		t.Error("Expected preview retained while the file is still staged")
	}
}

func TestClearReleasesAllPreviews(t *testing.T) {
	service := NewAttachmentService(&fakeIntakeAPI{}, zaptest.NewLogger(t))
	first := &closablePreview{}
	second := &closablePreview{}

	service.Enqueue([]StagedFile{
		stagedJPEG("one.jpg", first),
		stagedJPEG("two.jpg", second),
	})
	service.Clear()

	if len(service.Queue()) != 0 {
		t.Error("Expected queue emptied")
	}
	if first.closed != 1 || second.closed != 1 {
		t.Errorf("Expected both previews released, got %d and %d", first.closed, second.closed)
	}
}

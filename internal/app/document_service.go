package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"docscribe/internal/model"
	"docscribe/internal/pkg/filestore"
	"docscribe/internal/pkg/textextract"
	"docscribe/internal/repository"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrNotOwner           = errors.New("resource belongs to another user")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	ErrFileTooLarge       = errors.New("file too large")
	ErrExtractFailed      = errors.New("text extraction failed")
	ErrDocumentEmpty      = errors.New("document content not available")
)

// IngestEnqueuer hands a freshly stored document to the background worker.
type IngestEnqueuer interface {
	Publish(ctx context.Context, documentID uint) error
}

type DocumentService struct {
	docRepo  *repository.DocumentRepository
	files    *filestore.Store
	enqueuer IngestEnqueuer
	facade   LLMFacade
	logger   *zap.Logger

	maxBytes        int64
	allowedExts     []string
	contextMaxChars int
}

type UploadInput struct {
	UserID   uint
	FileName string
	Data     []byte
}

func NewDocumentService(
	docRepo *repository.DocumentRepository,
	files *filestore.Store,
	enqueuer IngestEnqueuer,
	facade LLMFacade,
	logger *zap.Logger,
	maxBytes int64,
	allowedExts []string,
	contextMaxChars int,
) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	if contextMaxChars <= 0 {
		contextMaxChars = 2000
	}
	return &DocumentService{
		docRepo:         docRepo,
		files:           files,
		enqueuer:        enqueuer,
		facade:          facade,
		logger:          logger,
		maxBytes:        maxBytes,
		allowedExts:     allowedExts,
		contextMaxChars: contextMaxChars,
	}
}

// Upload validates, extracts text, stores the raw file, and records the
// document. Validation and extraction failures leave no trace; a failed
// insert also removes the stored file again. Chunking and embedding happen
// later in the background, so a dead queue never fails the upload.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*model.Document, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	name := strings.TrimSpace(input.FileName)
	if name == "" || len(input.Data) == 0 {
		return nil, ErrInvalidInput
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !s.extensionAllowed(ext) {
		return nil, ErrFileTypeNotAllowed
	}
	if int64(len(input.Data)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	text, err := textextract.Extract(input.Data, ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrExtractFailed
	}

	storedName, err := s.files.Save(input.Data, ext)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		UserID:       input.UserID,
		OriginalName: name,
		StoredName:   storedName,
		FileType:     strings.TrimPrefix(ext, "."),
		SizeBytes:    int64(len(input.Data)),
		Content:      text,
	}
	if err := s.docRepo.Create(doc); err != nil {
		_ = s.files.Remove(storedName)
		return nil, err
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.Publish(ctx, doc.ID); err != nil {
			s.logger.Warn("enqueue document ingest failed",
				zap.Uint("document_id", doc.ID), zap.Error(err))
		}
	}
	return doc, nil
}

func (s *DocumentService) List(userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListByUserID(userID)
}

// Get returns the document only to its owner. Missing documents and foreign
// documents fail with different errors.
func (s *DocumentService) Get(userID, documentID uint) (*model.Document, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docRepo.GetByID(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if doc.UserID != userID {
		return nil, ErrNotOwner
	}
	return doc, nil
}

// Summarize returns the cached summary when present; otherwise it computes
// one, stores it on the document, and returns it. A provider failure leaves
// the document untouched so the next call tries again.
func (s *DocumentService) Summarize(ctx context.Context, userID, documentID uint) (string, error) {
	doc, err := s.Get(userID, documentID)
	if err != nil {
		return "", err
	}
	if doc.Summary != "" {
		return doc.Summary, nil
	}
	if strings.TrimSpace(doc.Content) == "" {
		return "", ErrDocumentEmpty
	}

	summary, err := s.facade.Summarize(ctx, truncateRunes(doc.Content, s.contextMaxChars))
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", ErrUpstream)
	}

	if err := s.docRepo.UpdateSummary(doc.ID, summary); err != nil {
		return "", err
	}
	return summary, nil
}

func (s *DocumentService) extensionAllowed(ext string) bool {
	for _, allowed := range s.allowedExts {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// truncateRunes caps text at max runes, marking the cut with an ellipsis.
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

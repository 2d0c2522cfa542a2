package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"medcoder/internal/codes"
	"medcoder/internal/config"
	"medcoder/internal/domain"
	"medcoder/internal/imaging"
	"medcoder/internal/port"
	"medcoder/internal/vlm"
)

// persistTimeout bounds the terminal-state write when the workflow context
// has already expired; losing that write would leave a document stuck in
// processing forever.
const persistTimeout = 10 * time.Second

// UploadInput is the DTO for document upload requests.
type UploadInput struct {
	File   multipart.File
	Header *multipart.FileHeader
}

// DocumentService defines the document ingest and processing contract.
type DocumentService interface {
	Upload(ctx context.Context, input UploadInput) (*domain.Document, error)
	GetByID(ctx context.Context, docID uuid.UUID) (*domain.Document, error)
	// FileURL returns a short-lived presigned download link for the stored
	// image of an existing document.
	FileURL(ctx context.Context, docID uuid.UUID) (string, error)
	List(ctx context.Context, offset, limit int) ([]domain.Document, int, error)
	LookupCode(ctx context.Context, code string) (*domain.ICD10Code, error)
	// Process runs one workflow execution for a document: load, transition
	// to processing, fetch the image, call the model, parse, and persist a
	// terminal state. All processing-time errors end in a failed record;
	// only a missing or unloadable record aborts without a write.
	Process(ctx context.Context, docID uuid.UUID)
}

type documentService struct {
	docRepo   port.DocumentRepository
	icdRepo   port.ICDCodeRepository
	storage   port.ObjectStorage
	vlmClient port.VLMClient
	s3Cfg     *config.S3Config
	uploadCfg *config.UploadConfig
}

// NewDocumentService creates a new DocumentService implementation. icdRepo
// may be nil; catalog enrichment is then skipped.
func NewDocumentService(
	docRepo port.DocumentRepository,
	icdRepo port.ICDCodeRepository,
	storage port.ObjectStorage,
	vlmClient port.VLMClient,
	s3Cfg *config.S3Config,
	uploadCfg *config.UploadConfig,
) DocumentService {
	return &documentService{
		docRepo:   docRepo,
		icdRepo:   icdRepo,
		storage:   storage,
		vlmClient: vlmClient,
		s3Cfg:     s3Cfg,
		uploadCfg: uploadCfg,
	}
}

func (s *documentService) Upload(ctx context.Context, input UploadInput) (*domain.Document, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(input.Header.Filename), "."))
	fileType, ok := domain.AllowedExtensions[ext]
	if !ok {
		return nil, domain.ErrUnsupportedFileType
	}

	maxBytes := s.uploadCfg.MaxFileSizeMB * 1024 * 1024
	if input.Header.Size > maxBytes {
		return nil, domain.ErrFileTooLarge
	}

	// Magic-byte sniff: the extension alone is client-controlled.
	buf := make([]byte, 512)
	n, err := input.File.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading file header: %w", err)
	}
	detectedType := http.DetectContentType(buf[:n])
	if _, valid := domain.AllowedContentTypes[detectedType]; !valid {
		return nil, domain.ErrUnsupportedFileType
	}

	if _, err := input.File.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking file: %w", err)
	}

	docID := uuid.New()
	s3Key := fmt.Sprintf("documents/%s/%s", docID, input.Header.Filename)
	contentType := domain.AllowedFileTypes[fileType]

	// The blob goes in first so an accepted record always has a readable
	// image behind it.
	_, err = s.storage.Upload(ctx, port.UploadInput{
		Bucket:      s.s3Cfg.Bucket,
		Key:         s3Key,
		Body:        input.File,
		ContentType: contentType,
		Size:        input.Header.Size,
	})
	if err != nil {
		log.Printf("documentService.Upload: storage upload failed for %s: %v", docID, err)
		return nil, domain.ErrUploadFailed
	}

	doc := &domain.Document{
		ID:           docID,
		FileName:     docID.String() + "." + ext,
		OriginalName: input.Header.Filename,
		S3Bucket:     s.s3Cfg.Bucket,
		S3Key:        s3Key,
		ContentType:  contentType,
		FileSize:     input.Header.Size,
		Status:       domain.StatusPending,
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		log.Printf("documentService.Upload: failed to create record for %s: %v", docID, err)
		// Best effort: don't leave an orphan blob behind.
		if delErr := s.storage.Delete(ctx, doc.S3Bucket, doc.S3Key); delErr != nil {
			log.Printf("documentService.Upload: orphan blob cleanup failed for %s: %v", docID, delErr)
		}
		return nil, fmt.Errorf("creating document record: %w", err)
	}

	log.Printf("documentService.Upload: accepted document %s (%s, %d bytes)",
		docID, contentType, input.Header.Size)
	return doc, nil
}

func (s *documentService) GetByID(ctx context.Context, docID uuid.UUID) (*domain.Document, error) {
	return s.docRepo.GetByID(ctx, docID)
}

func (s *documentService) FileURL(ctx context.Context, docID uuid.UUID) (string, error) {
	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		return "", err
	}

	url, err := s.storage.GetPresignedURL(ctx, doc.S3Bucket, doc.S3Key, s.s3Cfg.PresignExpiry)
	if err != nil {
		log.Printf("documentService.FileURL: presign failed for %s: %v", docID, err)
		return "", fmt.Errorf("generating download link: %w", err)
	}
	return url, nil
}

func (s *documentService) List(ctx context.Context, offset, limit int) ([]domain.Document, int, error) {
	return s.docRepo.List(ctx, offset, limit)
}

func (s *documentService) LookupCode(ctx context.Context, code string) (*domain.ICD10Code, error) {
	if s.icdRepo == nil {
		return nil, domain.ErrCodeNotFound
	}
	return s.icdRepo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *documentService) Process(ctx context.Context, docID uuid.UUID) {
	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		// A record we enqueued but cannot load points at an enqueue or
		// storage bug, not a recoverable document state.
		log.Printf("documentService.Process: cannot load document %s: %v", docID, err)
		return
	}
	if doc.Status.Terminal() {
		log.Printf("documentService.Process: document %s already %s, skipping", docID, doc.Status)
		return
	}

	if err := s.docRepo.MarkProcessing(ctx, docID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Another execution claimed it between the load and the update.
			log.Printf("documentService.Process: document %s no longer pending, skipping", docID)
			return
		}
		log.Printf("documentService.Process: failed to mark %s processing: %v", docID, err)
		return
	}

	imageBytes, err := s.storage.Download(ctx, doc.S3Bucket, doc.S3Key)
	if err != nil {
		s.fail(docID, fmt.Sprintf("loading stored image: %v", err))
		return
	}

	payload, mime, err := imaging.Normalize(imageBytes)
	if err != nil {
		s.fail(docID, fmt.Sprintf("preparing image for model: %v", err))
		return
	}

	raw, err := s.vlmClient.Submit(ctx, port.SubmitInput{
		ImageBytes:  payload,
		ContentType: mime,
	})
	if err != nil {
		s.fail(docID, describeModelError(err))
		return
	}

	result, err := codes.Parse(raw)
	if err != nil {
		s.fail(docID, err.Error())
		return
	}
	if result.Dropped > 0 {
		log.Printf("documentService.Process: document %s: dropped %d entries without a code",
			docID, result.Dropped)
	}

	extracted := s.enrichDescriptions(ctx, result.Codes)

	if err := s.docRepo.MarkCompleted(ctx, docID, extracted); err != nil {
		log.Printf("documentService.Process: failed to save results for %s: %v", docID, err)
		return
	}
	log.Printf("documentService.Process: document %s completed with %d codes", docID, len(extracted))
}

// fail records a terminal failed state. It uses a fresh context so the write
// survives an expired workflow context.
func (s *documentService) fail(docID uuid.UUID, errMsg string) {
	log.Printf("documentService.Process: document %s failed: %s", docID, errMsg)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.docRepo.MarkFailed(ctx, docID, errMsg); err != nil {
		log.Printf("documentService.fail: failed to update status for %s: %v", docID, err)
	}
}

// enrichDescriptions fills empty descriptions from the ICD-10 catalog. The
// parsed sequence itself is never reordered or filtered here.
func (s *documentService) enrichDescriptions(ctx context.Context, extracted []domain.DiagnosisCode) []domain.DiagnosisCode {
	if s.icdRepo == nil {
		return extracted
	}

	var missing []string
	for _, c := range extracted {
		if c.Description == "" {
			missing = append(missing, c.Code)
		}
	}
	if len(missing) == 0 {
		return extracted
	}

	described, err := s.icdRepo.DescribeAll(ctx, missing)
	if err != nil {
		log.Printf("documentService.enrichDescriptions: catalog lookup failed: %v", err)
		return extracted
	}
	for i := range extracted {
		if extracted[i].Description == "" {
			extracted[i].Description = described[extracted[i].Code]
		}
	}
	return extracted
}

// describeModelError turns a model-call failure into a client-safe message.
func describeModelError(err error) string {
	var rlErr *vlm.RateLimitError
	if errors.As(err, &rlErr) {
		return fmt.Sprintf("model provider rate limited (retry after %s)", rlErr.RetryAfter)
	}
	var tErr *vlm.TransportError
	if errors.As(err, &tErr) && tErr.Timeout {
		return "model request timed out"
	}
	return fmt.Sprintf("calling model: %v", err)
}

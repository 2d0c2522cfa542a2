package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medcoder/internal/config"
	"medcoder/internal/domain"
	"medcoder/internal/port"
	"medcoder/internal/service"
	"medcoder/internal/vlm"
	"medcoder/mocks"
)

func testS3Config() config.S3Config {
	return config.S3Config{
		Region:        "us-east-1",
		Bucket:        "test-bucket",
		PresignExpiry: 3600,
	}
}

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{MaxFileSizeMB: 10}
}

func newTestService(docRepo *mocks.MockDocumentRepo, icdRepo *mocks.MockICDCodeRepo,
	storage *mocks.MockObjectStorage, vlmClient *mocks.MockVLMClient) service.DocumentService {
	s3Cfg := testS3Config()
	upCfg := testUploadConfig()
	var icd port.ICDCodeRepository
	if icdRepo != nil {
		icd = icdRepo
	}
	return service.NewDocumentService(docRepo, icd, storage, vlmClient, &s3Cfg, &upCfg)
}

// createMultipartFile builds a real multipart file header and content.
func createMultipartFile(t *testing.T, filename string, content []byte, contentType string) (multipart.File, *multipart.FileHeader) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)

	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	file, err := form.File["file"][0].Open()
	require.NoError(t, err)
	return file, form.File["file"][0]
}

// encodedPNG returns a real decodable PNG image.
func encodedPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegMagicContent() []byte {
	header := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	return append(header, bytes.Repeat([]byte{0x11}, 100)...)
}

func TestDocumentService_Upload_Success(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	svc := newTestService(docRepo, nil, storage, new(mocks.MockVLMClient))

	file, header := createMultipartFile(t, "scan.jpg", jpegMagicContent(), "image/jpeg")
	defer file.Close()

	storage.On("Upload", mock.Anything, mock.AnythingOfType("port.UploadInput")).
		Return(&port.UploadOutput{Location: "https://test-bucket.s3.amazonaws.com/x", ETag: "abc"}, nil)
	docRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Document")).Return(nil)

	doc, err := svc.Upload(context.Background(), service.UploadInput{File: file, Header: header})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, doc.Status)
	assert.Equal(t, "scan.jpg", doc.OriginalName)
	assert.Equal(t, "image/jpeg", doc.ContentType)
	assert.Equal(t, "test-bucket", doc.S3Bucket)
	assert.Contains(t, doc.S3Key, "documents/"+doc.ID.String()+"/")
	docRepo.AssertExpectations(t)
	storage.AssertExpectations(t)
}

func TestDocumentService_Upload_UnsupportedExtension(t *testing.T) {
	svc := newTestService(new(mocks.MockDocumentRepo), nil, new(mocks.MockObjectStorage), new(mocks.MockVLMClient))

	file, header := createMultipartFile(t, "report.pdf", []byte("%PDF-1.4 not an image"), "application/pdf")
	defer file.Close()

	_, err := svc.Upload(context.Background(), service.UploadInput{File: file, Header: header})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFileType)
}

func TestDocumentService_Upload_SpoofedExtension(t *testing.T) {
	svc := newTestService(new(mocks.MockDocumentRepo), nil, new(mocks.MockObjectStorage), new(mocks.MockVLMClient))

	// .png filename but plain text bytes; the sniff must catch it.
	file, header := createMultipartFile(t, "scan.png", []byte("just some text pretending to be an image"), "image/png")
	defer file.Close()

	_, err := svc.Upload(context.Background(), service.UploadInput{File: file, Header: header})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFileType)
}

func TestDocumentService_Upload_FileTooLarge(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	s3Cfg := testS3Config()
	upCfg := config.UploadConfig{MaxFileSizeMB: 0}
	svc := service.NewDocumentService(docRepo, nil, storage, new(mocks.MockVLMClient), &s3Cfg, &upCfg)

	file, header := createMultipartFile(t, "scan.jpg", jpegMagicContent(), "image/jpeg")
	defer file.Close()

	_, err := svc.Upload(context.Background(), service.UploadInput{File: file, Header: header})
	assert.ErrorIs(t, err, domain.ErrFileTooLarge)
}

func TestDocumentService_Upload_StorageFailure(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	svc := newTestService(docRepo, nil, storage, new(mocks.MockVLMClient))

	file, header := createMultipartFile(t, "scan.jpg", jpegMagicContent(), "image/jpeg")
	defer file.Close()

	storage.On("Upload", mock.Anything, mock.AnythingOfType("port.UploadInput")).
		Return(nil, errors.New("s3 unavailable"))

	_, err := svc.Upload(context.Background(), service.UploadInput{File: file, Header: header})
	assert.ErrorIs(t, err, domain.ErrUploadFailed)
	docRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDocumentService_Upload_CreateFailureCleansUpBlob(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	svc := newTestService(docRepo, nil, storage, new(mocks.MockVLMClient))

	file, header := createMultipartFile(t, "scan.jpg", jpegMagicContent(), "image/jpeg")
	defer file.Close()

	storage.On("Upload", mock.Anything, mock.AnythingOfType("port.UploadInput")).
		Return(&port.UploadOutput{}, nil)
	docRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Document")).
		Return(errors.New("db down"))
	storage.On("Delete", mock.Anything, "test-bucket", mock.AnythingOfType("string")).Return(nil)

	_, err := svc.Upload(context.Background(), service.UploadInput{File: file, Header: header})
	assert.Error(t, err)
	storage.AssertCalled(t, "Delete", mock.Anything, "test-bucket", mock.AnythingOfType("string"))
}

func pendingDoc(id uuid.UUID) *domain.Document {
	return &domain.Document{
		ID:          id,
		FileName:    id.String() + ".png",
		S3Bucket:    "test-bucket",
		S3Key:       "documents/" + id.String() + "/scan.png",
		ContentType: "image/png",
		Status:      domain.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestDocumentService_Process_Completes(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, nil, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, "test-bucket", mock.AnythingOfType("string")).
		Return(encodedPNG(t), nil)
	vlmClient.On("Submit", mock.Anything, mock.AnythingOfType("port.SubmitInput")).
		Return(`[{"code":"E11.9","description":"Type 2 diabetes mellitus without complications"}]`, nil)
	docRepo.On("MarkCompleted", mock.Anything, docID,
		[]domain.DiagnosisCode{{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"}}).
		Return(nil)

	svc.Process(context.Background(), docID)

	docRepo.AssertExpectations(t)
	vlmClient.AssertExpectations(t)
}

func TestDocumentService_Process_NormalizesImageBeforeSubmit(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, nil, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(encodedPNG(t), nil)
	vlmClient.On("Submit", mock.Anything, mock.MatchedBy(func(in port.SubmitInput) bool {
		// Normalization re-encodes everything as JPEG.
		return in.ContentType == "image/jpeg" && len(in.ImageBytes) > 0
	})).Return(`[{"code":"J45.40"}]`, nil)
	docRepo.On("MarkCompleted", mock.Anything, docID, mock.Anything).Return(nil)

	svc.Process(context.Background(), docID)

	vlmClient.AssertExpectations(t)
}

func TestDocumentService_Process_EnrichesEmptyDescriptions(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	icdRepo := new(mocks.MockICDCodeRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, icdRepo, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(encodedPNG(t), nil)
	vlmClient.On("Submit", mock.Anything, mock.Anything).
		Return(`[{"code":"I10","description":""},{"code":"E78.5","description":"Hyperlipidemia, unspecified"}]`, nil)
	icdRepo.On("DescribeAll", mock.Anything, []string{"I10"}).
		Return(map[string]string{"I10": "Essential (primary) hypertension"}, nil)
	docRepo.On("MarkCompleted", mock.Anything, docID, []domain.DiagnosisCode{
		{Code: "I10", Description: "Essential (primary) hypertension"},
		{Code: "E78.5", Description: "Hyperlipidemia, unspecified"},
	}).Return(nil)

	svc.Process(context.Background(), docID)

	icdRepo.AssertExpectations(t)
	docRepo.AssertExpectations(t)
}

func TestDocumentService_Process_EnrichmentFailureIsNonFatal(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	icdRepo := new(mocks.MockICDCodeRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, icdRepo, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(encodedPNG(t), nil)
	vlmClient.On("Submit", mock.Anything, mock.Anything).Return(`[{"code":"I10"}]`, nil)
	icdRepo.On("DescribeAll", mock.Anything, []string{"I10"}).
		Return(nil, errors.New("catalog offline"))
	docRepo.On("MarkCompleted", mock.Anything, docID,
		[]domain.DiagnosisCode{{Code: "I10"}}).Return(nil)

	svc.Process(context.Background(), docID)

	docRepo.AssertExpectations(t)
}

func TestDocumentService_Process_SkipsWhenAlreadyClaimed(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, nil, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(domain.ErrInvalidTransition)

	svc.Process(context.Background(), docID)

	storage.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
	docRepo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestDocumentService_Process_SkipsTerminalDocument(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	svc := newTestService(docRepo, nil, new(mocks.MockObjectStorage), new(mocks.MockVLMClient))

	docID := uuid.New()
	doc := pendingDoc(docID)
	doc.Status = domain.StatusCompleted
	doc.VLMResults = json.RawMessage(`[]`)
	docRepo.On("GetByID", mock.Anything, docID).Return(doc, nil)

	svc.Process(context.Background(), docID)

	docRepo.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything)
}

func TestDocumentService_Process_DownloadFailureMarksFailed(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	svc := newTestService(docRepo, nil, storage, new(mocks.MockVLMClient))

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("object missing"))
	docRepo.On("MarkFailed", mock.Anything, docID, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "loading stored image")
	})).Return(nil)

	svc.Process(context.Background(), docID)

	docRepo.AssertExpectations(t)
}

func TestDocumentService_Process_UndecodableImageMarksFailed(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, nil, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, mock.Anything, mock.Anything).
		Return([]byte("corrupt bytes"), nil)
	docRepo.On("MarkFailed", mock.Anything, docID, mock.AnythingOfType("string")).Return(nil)

	svc.Process(context.Background(), docID)

	vlmClient.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	docRepo.AssertExpectations(t)
}

func TestDocumentService_Process_RateLimitMarksFailed(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, nil, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(encodedPNG(t), nil)
	vlmClient.On("Submit", mock.Anything, mock.Anything).
		Return("", &vlm.RateLimitError{Provider: "openrouter", RetryAfter: 30 * time.Second, Err: errors.New("429")})
	docRepo.On("MarkFailed", mock.Anything, docID, "model provider rate limited (retry after 30s)").Return(nil)

	svc.Process(context.Background(), docID)

	docRepo.AssertExpectations(t)
}

func TestDocumentService_Process_TimeoutMarksFailed(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, nil, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(encodedPNG(t), nil)
	vlmClient.On("Submit", mock.Anything, mock.Anything).
		Return("", &vlm.TransportError{Err: context.DeadlineExceeded, Timeout: true})
	docRepo.On("MarkFailed", mock.Anything, docID, "model request timed out").Return(nil)

	svc.Process(context.Background(), docID)

	docRepo.AssertExpectations(t)
}

func TestDocumentService_Process_UnparseableReplyMarksFailed(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	vlmClient := new(mocks.MockVLMClient)
	svc := newTestService(docRepo, nil, storage, vlmClient)

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(pendingDoc(docID), nil)
	docRepo.On("MarkProcessing", mock.Anything, docID).Return(nil)
	storage.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(encodedPNG(t), nil)
	vlmClient.On("Submit", mock.Anything, mock.Anything).
		Return("I am sorry, I cannot read this image.", nil)
	docRepo.On("MarkFailed", mock.Anything, docID, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "no_structured_data")
	})).Return(nil)

	svc.Process(context.Background(), docID)

	docRepo.AssertExpectations(t)
}

func TestDocumentService_Process_MissingDocumentDoesNothing(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	svc := newTestService(docRepo, nil, new(mocks.MockObjectStorage), new(mocks.MockVLMClient))

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(nil, domain.ErrDocumentNotFound)

	svc.Process(context.Background(), docID)

	docRepo.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything)
	docRepo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestDocumentService_FileURL_PresignsStoredObject(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	svc := newTestService(docRepo, nil, storage, new(mocks.MockVLMClient))

	docID := uuid.New()
	doc := &domain.Document{
		ID:       docID,
		S3Bucket: "test-bucket",
		S3Key:    "documents/" + docID.String() + "/scan.jpg",
		Status:   domain.StatusCompleted,
	}
	docRepo.On("GetByID", mock.Anything, docID).Return(doc, nil)
	storage.On("GetPresignedURL", mock.Anything, "test-bucket", doc.S3Key, int64(3600)).
		Return("https://signed.example/"+doc.S3Key, nil)

	url, err := svc.FileURL(context.Background(), docID)

	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/"+doc.S3Key, url)
	storage.AssertExpectations(t)
}

func TestDocumentService_FileURL_MissingDocument(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	svc := newTestService(docRepo, nil, storage, new(mocks.MockVLMClient))

	docID := uuid.New()
	docRepo.On("GetByID", mock.Anything, docID).Return(nil, domain.ErrDocumentNotFound)

	_, err := svc.FileURL(context.Background(), docID)

	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	storage.AssertNotCalled(t, "GetPresignedURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDocumentService_FileURL_PresignFailure(t *testing.T) {
	docRepo := new(mocks.MockDocumentRepo)
	storage := new(mocks.MockObjectStorage)
	svc := newTestService(docRepo, nil, storage, new(mocks.MockVLMClient))

	docID := uuid.New()
	doc := &domain.Document{ID: docID, S3Bucket: "test-bucket", S3Key: "documents/x/scan.jpg"}
	docRepo.On("GetByID", mock.Anything, docID).Return(doc, nil)
	storage.On("GetPresignedURL", mock.Anything, "test-bucket", doc.S3Key, int64(3600)).
		Return("", errors.New("signing key unavailable"))

	_, err := svc.FileURL(context.Background(), docID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "generating download link")
}

func TestDocumentService_LookupCode(t *testing.T) {
	icdRepo := new(mocks.MockICDCodeRepo)
	svc := newTestService(new(mocks.MockDocumentRepo), icdRepo, new(mocks.MockObjectStorage), new(mocks.MockVLMClient))

	icdRepo.On("GetByCode", mock.Anything, "E11.9").
		Return(&domain.ICD10Code{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"}, nil)

	// Lookup normalizes case and whitespace.
	code, err := svc.LookupCode(context.Background(), "  e11.9 ")
	require.NoError(t, err)
	assert.Equal(t, "E11.9", code.Code)
}

func TestDocumentService_LookupCode_NoCatalog(t *testing.T) {
	svc := newTestService(new(mocks.MockDocumentRepo), nil, new(mocks.MockObjectStorage), new(mocks.MockVLMClient))

	_, err := svc.LookupCode(context.Background(), "I10")
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}

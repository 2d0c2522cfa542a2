package domain

import "errors"

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrCodeNotFound        = errors.New("diagnosis code not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrUploadFailed        = errors.New("file upload to storage failed")
	ErrInvalidTransition   = errors.New("illegal document status transition")
	ErrNotCompleted        = errors.New("document has not completed processing")
)

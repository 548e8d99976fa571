package kyc

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/uptrace/bun"
)

const (
	FileCategoryIDFront            = "id_front"
	FileCategoryIDBack             = "id_back"
	FileCategorySelfie             = "selfie"
	FileCategoryProofOfAddress     = "proof_of_address"
	FileCategorySupportingDocument = "supporting_document"
)

// FileCategories lists the accepted evidence categories.
func FileCategories() []string {
	return []string{
		FileCategoryIDFront,
		FileCategoryIDBack,
		FileCategorySelfie,
		FileCategoryProofOfAddress,
		FileCategorySupportingDocument,
	}
}

// DefaultAllowedExtensions is the evidence extension allow-list.
var DefaultAllowedExtensions = []string{"pdf", "jpg", "jpeg", "png", "webp"}

// FileUpload is an evidence file received with a submission.
type FileUpload struct {
	Filename    string `json:"filename"`
	Category    string `json:"category"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// BlobStore is where evidence bytes live. storage.Store implements it.
type BlobStore interface {
	Write(key string, data []byte) error
	Remove(key string) error
}

// FileAttacherOption customizes a FileAttacher.
type FileAttacherOption func(*FileAttacher)

// WithMaxFileBytes overrides the per-file size limit.
func WithMaxFileBytes(n int64) FileAttacherOption {
	return func(f *FileAttacher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithAllowedExtensions overrides the extension allow-list. Entries may be
// given with or without a leading dot.
func WithAllowedExtensions(exts ...string) FileAttacherOption {
	return func(f *FileAttacher) {
		if len(exts) == 0 {
			return
		}
		f.extensions = normalizeExtensions(exts)
	}
}

// WithFileAttacherLogger overrides the logger.
func WithFileAttacherLogger(logger Logger) FileAttacherOption {
	return func(f *FileAttacher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFileAttacherClock injects a custom clock.
func WithFileAttacherClock(clock Clock) FileAttacherOption {
	return func(f *FileAttacher) {
		if clock != nil {
			f.clock = normalizeClock(clock)
		}
	}
}

// FileAttacher validates evidence files, stores their bytes and records
// them against a request.
type FileAttacher struct {
	store      BlobStore
	files      MediaFiles
	maxBytes   int64
	extensions map[string]struct{}
	logger     Logger
	clock      Clock
}

func NewFileAttacher(store BlobStore, files MediaFiles, opts ...FileAttacherOption) *FileAttacher {
	f := &FileAttacher{
		store:      store,
		files:      files,
		maxBytes:   DefaultMaxFileBytes,
		extensions: normalizeExtensions(DefaultAllowedExtensions),
		logger:     defLogger{},
		clock:      systemClock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			out[ext] = struct{}{}
		}
	}
	return out
}

// Validate checks every file before anything is stored. Files without a
// category are filed as supporting documents.
func (f *FileAttacher) Validate(files []FileUpload) error {
	for i := range files {
		file := &files[i]
		name := path.Base(strings.ReplaceAll(strings.TrimSpace(file.Filename), `\`, "/"))
		if name == "." || name == "/" || name == "" {
			return errInvalidInput("file name is required", map[string]any{"index": i})
		}
		file.Filename = name

		ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
		if _, ok := f.extensions[ext]; !ok {
			return errInvalidInput("file type is not allowed", map[string]any{
				"filename":  name,
				"extension": ext,
				"allowed":   lo.Keys(f.extensions),
			})
		}

		size := int64(len(file.Content))
		if size == 0 {
			return errInvalidInput("file is empty", map[string]any{"filename": name})
		}
		if size > f.maxBytes {
			return errInvalidInput("file is too large", map[string]any{
				"filename":  name,
				"size":      size,
				"max_bytes": f.maxBytes,
			})
		}

		file.Category = strings.ToLower(strings.TrimSpace(file.Category))
		if file.Category == "" {
			file.Category = FileCategorySupportingDocument
		}
		if !lo.Contains(FileCategories(), file.Category) {
			return errInvalidInput("file category is not allowed", map[string]any{
				"filename": name,
				"category": file.Category,
			})
		}
	}
	return nil
}

// AttachTx stores the blobs and inserts their rows in tx. It returns the
// keys written so the caller can remove them if the transaction rolls back.
// Files must have passed Validate.
func (f *FileAttacher) AttachTx(ctx context.Context, tx bun.IDB, requestID, uploadedBy string, files []FileUpload) ([]*MediaFile, []string, error) {
	records := make([]*MediaFile, 0, len(files))
	written := make([]string, 0, len(files))

	for _, file := range files {
		id := uuid.New()
		key := path.Join(requestID, file.Category, id.String()+strings.ToLower(path.Ext(file.Filename)))

		if err := f.store.Write(key, file.Content); err != nil {
			return nil, written, errPersistence(err, "failed to store file")
		}
		written = append(written, key)

		record := &MediaFile{
			ID:          id,
			RequestID:   requestID,
			Filename:    file.Filename,
			Path:        key,
			ContentType: file.ContentType,
			SizeBytes:   int64(len(file.Content)),
			Category:    file.Category,
			UploadedBy:  uploadedBy,
			CreatedAt:   f.clock(),
		}
		if _, err := f.files.CreateTx(ctx, tx, record); err != nil {
			return nil, written, errPersistence(err, "failed to record file")
		}
		records = append(records, record)
	}

	return records, written, nil
}

// Discard removes blobs left behind by a rolled back submission.
func (f *FileAttacher) Discard(keys []string) {
	for _, key := range keys {
		if err := f.store.Remove(key); err != nil {
			f.logger.Error("failed to discard file", "path", key, "error", err)
		}
	}
}

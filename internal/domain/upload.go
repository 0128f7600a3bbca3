package domain

import "time"

// UploadStatus is the lifecycle state of an uploaded file.
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
)

// Upload is one uploaded export file and its processing record.
type Upload struct {
	ID       string
	UserID   string
	Filename string

	// Checksum is the SHA-256 of the raw file bytes, used to reject a
	// re-upload of the same file for the same user.
	Checksum string

	// ArchiveURI points at the archived original, e.g. gs://bucket/uploads/...
	ArchiveURI string

	// StructureHash links the upload to the FileStructure that was used.
	StructureHash string

	Status UploadStatus
	Error  string

	// Owner is the resume marker: the worker instance currently holding
	// the upload. Empty when nobody is processing it.
	Owner     string
	ClaimedAt time.Time

	TokensInput  int
	TokensOutput int

	CreatedAt   time.Time
	CompletedAt time.Time
}

// UploadResult summarizes one ProcessUpload run.
type UploadResult struct {
	UploadID           string
	TotalRows          int
	CategorizedCount   int
	UncategorizedCount int
	FailedBatchIndices []int
}

// Progress is a point-in-time status count for a polling surface.
type Progress struct {
	Total         int
	Pending       int
	Processing    int
	Categorized   int
	Uncategorized int
}

// Done reports whether no row is still awaiting resolution.
func (p Progress) Done() bool {
	return p.Pending == 0 && p.Processing == 0
}

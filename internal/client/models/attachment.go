package models

// Attachment upload states tracked locally.
const (
	UploadStatePending  = "pending"
	UploadStateUploaded = "uploaded"
)

// Attachment mirrors attachment metadata plus the local path the content is
// read from while the upload is pending. Content never enters SQLite; it
// moves over presigned object-storage URLs.
type Attachment struct {
	ID       string
	NoteID   string
	Filename string

	// LocalPath points at the file to upload. Empty once uploaded.
	LocalPath string

	Size        int64
	Version     int64
	UploadState string

	// Dirty flags rows the server has not acknowledged yet.
	Dirty bool
}

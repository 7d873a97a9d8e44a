package database

import "time"

// Attachment is the stored metadata of an uploaded file. The bytes
// live on disk under the upload directory; messages and rooms are
// persisted by the external resource API, not here.
type Attachment struct {
	Id          string
	OwnerId     int
	FileName    string
	ContentType string
	Size        int64
	FileUrl     string
	CreatedAt   time.Time
}

type CreateAttachmentParams struct {
	Id          string
	OwnerId     int
	FileName    string
	ContentType string
	Size        int64
	FileUrl     string
}

package database

type AttachmentRepository interface {
	Ping() error
	CreateAttachment(params CreateAttachmentParams) (Attachment, error)
	GetAttachment(id string) (Attachment, error)
	ListAttachmentsByOwner(ownerId int) ([]Attachment, error)
	DeleteAttachment(id string) error
}

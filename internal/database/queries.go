package database

import (
	"time"
)

func (db *PgAttachmentRepository) CreateAttachment(params CreateAttachmentParams) (Attachment, error) {
	res := db.conn.QueryRow(
		"INSERT INTO attachments (id, owner_id, file_name, content_type, size, file_url, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"RETURNING id, owner_id, file_name, content_type, size, file_url, created_at",
		params.Id,
		params.OwnerId,
		params.FileName,
		params.ContentType,
		params.Size,
		params.FileUrl,
		time.Now().UTC(),
	)

	var a Attachment
	err := res.Scan(
		&a.Id,
		&a.OwnerId,
		&a.FileName,
		&a.ContentType,
		&a.Size,
		&a.FileUrl,
		&a.CreatedAt,
	)

	return a, err
}

func (db *PgAttachmentRepository) GetAttachment(id string) (Attachment, error) {
	row := db.conn.QueryRow(
		"SELECT id, owner_id, file_name, content_type, size, file_url, created_at "+
			"FROM attachments WHERE id = $1 LIMIT 1",
		id,
	)

	var a Attachment
	err := row.Scan(
		&a.Id,
		&a.OwnerId,
		&a.FileName,
		&a.ContentType,
		&a.Size,
		&a.FileUrl,
		&a.CreatedAt,
	)

	return a, err
}

func (db *PgAttachmentRepository) ListAttachmentsByOwner(ownerId int) ([]Attachment, error) {
	rows, err := db.conn.Query(
		"SELECT id, owner_id, file_name, content_type, size, file_url, created_at "+
			"FROM attachments WHERE owner_id = $1 ORDER BY created_at DESC",
		ownerId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(
			&a.Id,
			&a.OwnerId,
			&a.FileName,
			&a.ContentType,
			&a.Size,
			&a.FileUrl,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}

		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

func (db *PgAttachmentRepository) DeleteAttachment(id string) error {
	_, err := db.conn.Exec("DELETE FROM attachments WHERE id = $1", id)
	return err
}

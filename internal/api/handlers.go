package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/staffroom/staffroom/internal/database"
	"github.com/staffroom/staffroom/internal/stats"
	"github.com/staffroom/staffroom/internal/types"
	"github.com/staffroom/staffroom/internal/upload"
)

func (s *StaffroomApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *StaffroomApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.relay.ServeConn(conn)
}

func (s *StaffroomApp) uploadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxFileSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.log.Printf("read multipart file: %v", err)
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := upload.Validate(upload.File{
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	}); err != nil {
		s.stats.Incr(stats.UploadsRejected)

		var vErr *upload.ValidationError
		if errors.As(err, &vErr) {
			errResp := NewValidationError(vErr.Message)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	fileId := uuid.NewString()
	storedName := fileId + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(s.uploadDir, storedName))
	if err != nil {
		s.log.Printf("create upload file: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		s.log.Printf("store upload: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	fileUrl := s.baseFileURL + "/" + storedName
	att, err := s.db.CreateAttachment(database.CreateAttachmentParams{
		Id:          fileId,
		OwnerId:     id.Id,
		FileName:    header.Filename,
		ContentType: contentType,
		Size:        written,
		FileUrl:     fileUrl,
	})
	if err != nil {
		s.log.Printf("persist attachment: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.stats.Incr(stats.UploadsAccepted)
	s.writeJson(w, http.StatusCreated, types.Attachment{
		Id:          att.Id,
		FileName:    att.FileName,
		ContentType: att.ContentType,
		Size:        att.Size,
		FileUrl:     att.FileUrl,
	})
}

func (s *StaffroomApp) serveFile(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.PathValue("name"))
	if name == "." || name == "/" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	fpath := filepath.Join(s.uploadDir, name)
	if _, err := os.Stat(fpath); err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.ServeFile(w, r, fpath)
}

// listUploads returns the attachment metadata for the caller's own
// uploads, newest first.
func (s *StaffroomApp) listUploads(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	atts, err := s.db.ListAttachmentsByOwner(id.Id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	out := make([]types.Attachment, 0, len(atts))
	for _, a := range atts {
		out = append(out, types.Attachment{
			Id:          a.Id,
			FileName:    a.FileName,
			ContentType: a.ContentType,
			Size:        a.Size,
			FileUrl:     a.FileUrl,
		})
	}

	s.writeJson(w, http.StatusOK, out)
}

// deleteUpload removes an attachment's metadata and its stored bytes.
// Only the uploader may delete it.
func (s *StaffroomApp) deleteUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	att, err := s.db.GetAttachment(r.PathValue("id"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if att.OwnerId != id.Id {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteAttachment(att.Id); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	storedName := path.Base(att.FileUrl)
	if err := os.Remove(filepath.Join(s.uploadDir, storedName)); err != nil && !os.IsNotExist(err) {
		s.log.Printf("remove stored file %s: %v", storedName, err)
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *StaffroomApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

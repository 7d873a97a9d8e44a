package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"mime/multipart"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/staffroom/staffroom/internal/types"
)

// MaxFileSize is the largest attachment accepted by the pipeline.
const MaxFileSize = 10 << 20 // 10 MiB

const httpClientTimeout = 5 * time.Minute

// AllowedContentTypes is the explicit allow-list of attachment types.
var AllowedContentTypes = map[string]struct{}{
	"image/jpeg":         {},
	"image/png":          {},
	"image/gif":          {},
	"image/webp":         {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"text/plain":      {},
	"audio/mpeg":      {},
	"audio/wav":       {},
	"audio/ogg":       {},
	"video/mp4":       {},
	"video/quicktime": {},
	"video/webm":      {},
}

// ValidationError rejects an attachment before any network activity.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UploadFailed indicates the transfer ran but did not complete with a
// 2xx response.
type UploadFailed struct {
	StatusCode int
	Err        error
}

func (e *UploadFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload failed: %s", e.Err.Error())
	}

	return fmt.Sprintf("upload failed: status %d", e.StatusCode)
}

func (e *UploadFailed) Unwrap() error {
	return e.Err
}

// ErrAborted is returned by Wait when the caller cancelled the
// transfer before it completed.
var ErrAborted = errors.New("upload aborted")

// File describes the attachment being uploaded. Size must be the total
// byte length of Content for progress reporting to be emitted.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// ProgressFunc receives monotonically increasing transfer percentages.
type ProgressFunc func(percent int)

type Uploader struct {
	httpClient *http.Client
	endpoint   string
	log        *log.Logger
}

// NewUploader creates an uploader posting to endpoint, the full URL of
// the attachment service (e.g. "http://host/files").
func NewUploader(endpoint string, httpClient *http.Client, logger *log.Logger) *Uploader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	return &Uploader{
		httpClient: httpClient,
		endpoint:   endpoint,
		log:        logger,
	}
}

// Upload validates file and, when valid, streams it as multipart form
// data with the caller's bearer token. Validation failures return a
// *ValidationError synchronously with no network call made. The
// returned handle exposes completion and cancellation.
func (u *Uploader) Upload(ctx context.Context, token string, file File, onProgress ProgressFunc) (*Upload, error) {
	if err := Validate(file); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	up := &Upload{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go up.run(u, ctx, token, file, onProgress)

	return up, nil
}

// Validate enforces the size cap and content-type allow-list. It is
// also used server-side by the upload endpoint.
func Validate(file File) error {
	if file.Size > MaxFileSize {
		return &ValidationError{Rule: "max-size", Message: "File too large"}
	}
	if _, ok := AllowedContentTypes[file.ContentType]; !ok {
		return &ValidationError{Rule: "content-type", Message: "Unsupported file type"}
	}

	return nil
}

// Upload is an in-flight attachment transfer.
type Upload struct {
	cancel context.CancelFunc
	done   chan struct{}

	// stopped gates progress callbacks after cancellation/completion.
	stopped atomic.Bool

	cancelOnce sync.Once
	cancelled  atomic.Bool

	attachment types.Attachment
	err        error
}

// Cancel aborts the in-flight transfer. Cancelling a completed upload
// is a no-op.
func (up *Upload) Cancel() {
	up.cancelOnce.Do(func() {
		select {
		case <-up.done:
			return
		default:
		}

		up.cancelled.Store(true)
		up.stopped.Store(true)
		up.cancel()
	})
}

// Done is closed when the transfer finishes, fails, or is cancelled.
func (up *Upload) Done() <-chan struct{} {
	return up.done
}

// Wait blocks until the transfer completes and returns the persisted
// attachment descriptor, ErrAborted on cancellation, or the transfer
// error.
func (up *Upload) Wait() (types.Attachment, error) {
	<-up.done
	return up.attachment, up.err
}

func (up *Upload) run(u *Uploader, ctx context.Context, token string, file File, onProgress ProgressFunc) {
	defer func() {
		up.stopped.Store(true)
		up.cancel()
		close(up.done)
	}()

	att, err := u.send(ctx, token, file, func(percent int) {
		if onProgress != nil && !up.stopped.Load() {
			onProgress(percent)
		}
	})
	if err != nil {
		if up.cancelled.Load() || errors.Is(err, context.Canceled) {
			up.err = ErrAborted
			return
		}

		up.err = err
		return
	}

	up.attachment = att
}

func (u *Uploader) send(ctx context.Context, token string, file File, onProgress ProgressFunc) (types.Attachment, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", file.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		content := file.Content
		if file.Size > 0 {
			content = &progressReader{
				r:          file.Content,
				total:      file.Size,
				onProgress: onProgress,
			}
		}

		if _, err := io.Copy(part, content); err != nil {
			pw.CloseWithError(err)
			return
		}

		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, pr)
	if err != nil {
		return types.Attachment{}, &UploadFailed{Err: fmt.Errorf("build request: %w", err)}
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return types.Attachment{}, context.Canceled
		}

		return types.Attachment{}, &UploadFailed{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Attachment{}, &UploadFailed{StatusCode: resp.StatusCode}
	}

	var att types.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return types.Attachment{}, &UploadFailed{Err: fmt.Errorf("decode attachment: %w", err)}
	}

	return att, nil
}

// progressReader reports transfer percentages as the HTTP transport
// drains the multipart body. Percents are only emitted when the total
// length is known and only when they increase.
type progressReader struct {
	r           io.Reader
	total       int64
	transmitted int64
	lastPercent int
	onProgress  ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.transmitted += int64(n)
		percent := int(math.Round(float64(p.transmitted) / float64(p.total) * 100))
		if percent > 100 {
			percent = 100
		}

		if percent > p.lastPercent {
			p.lastPercent = percent
			if p.onProgress != nil {
				p.onProgress(percent)
			}
		}
	}

	return n, err
}

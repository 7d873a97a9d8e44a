package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/staffroom/staffroom/internal/relay"
	"github.com/staffroom/staffroom/internal/resource"
	"github.com/staffroom/staffroom/internal/syncache"
	"github.com/staffroom/staffroom/internal/types"
	"github.com/staffroom/staffroom/internal/upload"
	"github.com/teris-io/shortid"
)

const messagePageSize = 50

// FrameSender emits frames over the persistent connection.
// *relay.Client satisfies it.
type FrameSender interface {
	SendMessage(token string, data relay.SendMessageData) error
}

// AttachmentUploader runs the upload pipeline to completion. The
// PipelineUploader adapter below wraps *upload.Uploader.
type AttachmentUploader interface {
	Upload(ctx context.Context, token string, file upload.File, onProgress upload.ProgressFunc) (types.Attachment, error)
}

// PipelineUploader adapts *upload.Uploader to the blocking
// AttachmentUploader contract.
type PipelineUploader struct {
	*upload.Uploader
}

func (p PipelineUploader) Upload(ctx context.Context, token string, file upload.File, onProgress upload.ProgressFunc) (types.Attachment, error) {
	up, err := p.Uploader.Upload(ctx, token, file, onProgress)
	if err != nil {
		return types.Attachment{}, err
	}

	return up.Wait()
}

// FileSpec is an attachment queued for sending. Content is held in
// memory so a failed send can be retried from the same bytes; the
// upload pipeline caps attachments at 10 MiB.
type FileSpec struct {
	Name        string
	ContentType string
	Data        []byte
}

func (f *FileSpec) file() upload.File {
	return upload.File{
		Name:        f.Name,
		ContentType: f.ContentType,
		Size:        int64(len(f.Data)),
		Content:     bytes.NewReader(f.Data),
	}
}

// MessagesKey is the cache key of a room's message list.
func MessagesKey(roomId int) string {
	return "messages:" + strconv.Itoa(roomId)
}

// RoomsKey is the cache key of the room list.
const RoomsKey = "rooms"

type pendingSend struct {
	roomId int
	text   string
	file   *FileSpec
}

// Engine drives a send intent through the optimistic message
// lifecycle: local insert, attachment upload, persistence, and
// reconciliation against server responses and push frames. The
// synchronization cache owns the canonical in-memory message list.
type Engine struct {
	log      *log.Logger
	self     types.Identity
	tokens   resource.TokenSource
	store    resource.MessageStore
	uploader AttachmentUploader
	relay    FrameSender
	cache    *syncache.Cache

	staleFor time.Duration
	gcAfter  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingSend
}

func NewEngine(logger *log.Logger, self types.Identity, tokens resource.TokenSource,
	store resource.MessageStore, uploader AttachmentUploader, sender FrameSender,
	cache *syncache.Cache, staleFor, gcAfter time.Duration) *Engine {
	return &Engine{
		log:      logger,
		self:     self,
		tokens:   tokens,
		store:    store,
		uploader: uploader,
		relay:    sender,
		cache:    cache,
		staleFor: staleFor,
		gcAfter:  gcAfter,
		pending:  make(map[string]*pendingSend),
	}
}

// Messages returns the room's message list from the cache, fetching a
// page from the resource API when the cache cannot serve it.
func (e *Engine) Messages(ctx context.Context, roomId int) ([]types.Message, error) {
	payload, err := e.cache.Get(ctx, MessagesKey(roomId), func(ctx context.Context) (any, error) {
		page, err := e.store.ListMessages(ctx, roomId, messagePageSize, 0)
		if err != nil {
			return nil, err
		}

		return page.Results, nil
	})
	if err != nil {
		return nil, err
	}

	return payload.([]types.Message), nil
}

// Rooms returns the room list through the cache.
func (e *Engine) Rooms(ctx context.Context) ([]types.Room, error) {
	payload, err := e.cache.Get(ctx, RoomsKey, func(ctx context.Context) (any, error) {
		page, err := e.store.ListRooms(ctx)
		if err != nil {
			return nil, err
		}

		return page.Results, nil
	})
	if err != nil {
		return nil, err
	}

	return payload.([]types.Room), nil
}

// Send converts a send intent into an optimistic message and attempts
// delivery. The optimistic entry is visible in the cache before any
// network round trip. Attachment validation failures are returned
// synchronously and insert nothing. The returned message reflects the
// final state of this attempt: delivered, or failed with retry
// available via Retry.
func (e *Engine) Send(ctx context.Context, roomId int, text string, file *FileSpec) (types.Message, error) {
	if file != nil {
		if err := upload.Validate(file.file()); err != nil {
			return types.Message{}, err
		}
	}

	tempId, err := shortid.Generate()
	if err != nil {
		return types.Message{}, fmt.Errorf("generate temp id: %w", err)
	}

	optimistic := types.Message{
		TempId:    tempId,
		RoomId:    roomId,
		Sender:    e.self,
		Text:      text,
		CreatedAt: time.Now().Unix(),
		Status:    types.StatusSending,
	}
	if file != nil {
		optimistic.Attachments = []types.Attachment{{
			FileName:    file.Name,
			ContentType: file.ContentType,
			Size:        int64(len(file.Data)),
		}}
	}

	e.mu.Lock()
	e.pending[tempId] = &pendingSend{roomId: roomId, text: text, file: file}
	e.mu.Unlock()

	e.appendMessage(roomId, optimistic)

	return e.attempt(ctx, tempId), nil
}

// Retry re-enters the send procedure for a failed message, reusing its
// temporary id and currently held content. It never duplicates the
// entry.
func (e *Engine) Retry(ctx context.Context, tempId string) (types.Message, error) {
	e.mu.Lock()
	p, ok := e.pending[tempId]
	e.mu.Unlock()
	if !ok {
		return types.Message{}, fmt.Errorf("no pending send with id %q", tempId)
	}

	e.updateMessage(p.roomId, tempId, func(m *types.Message) {
		m.Status = types.StatusSending
		m.Error = ""
	})

	return e.attempt(ctx, tempId), nil
}

// attempt runs upload and persistence for the pending send tempId and
// resolves the optimistic entry.
func (e *Engine) attempt(ctx context.Context, tempId string) types.Message {
	e.mu.Lock()
	p := e.pending[tempId]
	e.mu.Unlock()

	token, err := e.tokens.Token(ctx)
	if err != nil {
		return e.fail(p.roomId, tempId, fmt.Errorf("get token: %w", err))
	}

	var attachments []types.Attachment
	if p.file != nil {
		att, err := e.uploader.Upload(ctx, token, p.file.file(), func(percent int) {
			e.updateMessage(p.roomId, tempId, func(m *types.Message) {
				if len(m.Attachments) > 0 {
					m.Attachments[0].Progress = percent
				}
			})
		})
		if err != nil {
			return e.fail(p.roomId, tempId, err)
		}

		att.Progress = 0
		attachments = []types.Attachment{att}
		e.updateMessage(p.roomId, tempId, func(m *types.Message) {
			m.Attachments = attachments
		})
	}

	// the relay frame goes out independently of the persist request;
	// its message_received echo is reconciled, not duplicated
	if e.relay != nil {
		if err := e.relay.SendMessage(token, relay.SendMessageData{Room: p.roomId, Text: p.text}); err != nil {
			e.log.Printf("emit send_message frame: %v", err)
		}
	}

	persisted, err := e.store.CreateMessage(ctx, resource.CreateMessageParams{
		RoomId:      p.roomId,
		SenderId:    e.self.Id,
		Text:        p.text,
		Attachments: attachments,
	})
	if err != nil {
		return e.fail(p.roomId, tempId, err)
	}

	return e.resolve(p.roomId, tempId, persisted)
}

// HandleFrame applies an inbound relay frame to the local state.
// message_received frames are idempotent upserts: an echo of an own
// just-persisted send reconciles the matching optimistic entry instead
// of duplicating it, and messages for unrelated rooms are filtered by
// their room field.
func (e *Engine) HandleFrame(frame *relay.ServerFrame) {
	switch frame.Type {
	case relay.TypeMessageReceived:
		if frame.Data == nil {
			return
		}
		e.upsertIncoming(*frame.Data)
	case relay.TypeError:
		e.failOldestPending(frame.Message)
	}
}

// MarkRead transitions delivered messages up to messageId to read.
// Nothing in the captured protocol drives this transition yet; it is
// the seam an external read-receipt mechanism plugs into.
func (e *Engine) MarkRead(roomId, messageId int) {
	e.cache.Update(MessagesKey(roomId), func(payload any) any {
		msgs := payload.([]types.Message)
		for i := range msgs {
			if msgs[i].Id != 0 && msgs[i].Id <= messageId && msgs[i].Status == types.StatusDelivered {
				msgs[i].Status = types.StatusRead
			}
		}
		return msgs
	})
}

func (e *Engine) upsertIncoming(msg types.Message) {
	key := MessagesKey(msg.RoomId)
	if _, ok := e.cache.Peek(key); !ok {
		// room not loaded locally: just flag the room list
		e.cache.Invalidate(RoomsKey)
		return
	}

	e.cache.Update(key, func(payload any) any {
		msgs := payload.([]types.Message)

		// already known by server id: idempotent update
		for i := range msgs {
			if msg.Id != 0 && msgs[i].Id == msg.Id {
				updated := Reconcile(msgs[i], msg)
				if msgs[i].Status == types.StatusRead {
					updated.Status = types.StatusRead
				}
				msgs[i] = updated
				return msgs
			}
		}

		// own echo: reconcile the closest unresolved optimistic entry
		if msg.Sender.Id == e.self.Id {
			for i := range msgs {
				if msgs[i].TempId != "" && msgs[i].Id == 0 && msgs[i].RoomId == msg.RoomId {
					msgs[i] = Reconcile(msgs[i], msg)
					return msgs
				}
			}
		}

		if msg.Status == "" {
			msg.Status = types.StatusDelivered
		}
		return append(msgs, msg)
	})

	e.cache.Invalidate(RoomsKey)
}

func (e *Engine) appendMessage(roomId int, msg types.Message) {
	key := MessagesKey(roomId)
	if _, ok := e.cache.Peek(key); ok {
		e.cache.Update(key, func(payload any) any {
			return append(payload.([]types.Message), msg)
		})
		return
	}

	e.cache.Set(key, []types.Message{msg}, e.staleFor, e.gcAfter)
}

func (e *Engine) updateMessage(roomId int, tempId string, fn func(*types.Message)) {
	e.cache.Update(MessagesKey(roomId), func(payload any) any {
		msgs := payload.([]types.Message)
		for i := range msgs {
			if msgs[i].TempId == tempId {
				fn(&msgs[i])
				break
			}
		}
		return msgs
	})
}

func (e *Engine) fail(roomId int, tempId string, err error) types.Message {
	e.log.Printf("send %s failed: %v", tempId, err)
	e.updateMessage(roomId, tempId, func(m *types.Message) {
		m.Status = types.StatusFailed
		m.Error = err.Error()
	})

	return e.messageByTempId(roomId, tempId)
}

func (e *Engine) resolve(roomId int, tempId string, persisted types.Message) types.Message {
	e.updateMessage(roomId, tempId, func(m *types.Message) {
		*m = Reconcile(*m, persisted)
	})

	// the send succeeded, so the pending content is no longer needed
	e.mu.Lock()
	delete(e.pending, tempId)
	e.mu.Unlock()

	// room previews and unread counts are stale now
	e.cache.Invalidate(RoomsKey)

	return e.messageByTempId(roomId, tempId)
}

func (e *Engine) failOldestPending(errText string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for tempId, p := range e.pending {
		roomId := p.roomId
		found := false
		e.cache.Update(MessagesKey(roomId), func(payload any) any {
			msgs := payload.([]types.Message)
			for i := range msgs {
				if msgs[i].TempId == tempId && msgs[i].Status == types.StatusSending {
					msgs[i].Status = types.StatusFailed
					msgs[i].Error = errText
					found = true
					break
				}
			}
			return msgs
		})

		if found {
			e.log.Printf("relay error frame failed send %s: %s", tempId, errText)
			return
		}
	}
}

func (e *Engine) messageByTempId(roomId int, tempId string) types.Message {
	payload, ok := e.cache.Peek(MessagesKey(roomId))
	if !ok {
		return types.Message{}
	}

	for _, m := range payload.([]types.Message) {
		if m.TempId == tempId {
			return m
		}
	}

	return types.Message{}
}

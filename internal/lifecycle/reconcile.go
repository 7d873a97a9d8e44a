package lifecycle

import "github.com/staffroom/staffroom/internal/types"

// Reconcile resolves an optimistic message against its server-persisted
// counterpart. The server copy wins on every field it carries; the
// temporary id is preserved so later frames for the same send still
// match, and the status moves to delivered with any pending error
// cleared. It is a pure function: neither argument is mutated.
func Reconcile(optimistic, server types.Message) types.Message {
	resolved := server
	resolved.TempId = optimistic.TempId
	resolved.Status = types.StatusDelivered
	resolved.Error = ""

	if resolved.CreatedAt == 0 {
		resolved.CreatedAt = optimistic.CreatedAt
	}
	if resolved.Sender.Id == 0 {
		resolved.Sender = optimistic.Sender
	}
	if len(resolved.Attachments) == 0 && len(optimistic.Attachments) > 0 {
		resolved.Attachments = optimistic.Attachments
	}

	return resolved
}

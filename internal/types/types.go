package types

// MessageStatus tracks a message through the optimistic send lifecycle.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Identity is the authenticated principal behind a connection. It is
// resolved once per connection at authentication time and never
// mutated afterwards.
type Identity struct {
	Id     int    `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Room struct {
	Id          int      `json:"id"`
	Name        string   `json:"name"`
	Members     []int    `json:"members,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

// Message is a chat message. Optimistic entries carry a locally
// generated TempId and no server Id until the persist call resolves;
// promoted entries keep their TempId for reconciliation but are
// addressed by the server-issued Id from then on.
type Message struct {
	Id          int           `json:"id,omitempty"`
	TempId      string        `json:"temp_id,omitempty"`
	RoomId      int           `json:"room"`
	Sender      Identity      `json:"sender"`
	Text        string        `json:"text,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	Status      MessageStatus `json:"status,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type Attachment struct {
	Id          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	// FileUrl is set only once the upload has completed.
	FileUrl string `json:"file_url,omitempty"`
	// Progress is the client-local transfer percentage. It is omitted
	// once the attachment is persisted.
	Progress int `json:"progress,omitempty"`
}

// Page is the paginated list envelope returned by the resource API.
type Page[T any] struct {
	Count    int    `json:"count"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
	Results  []T    `json:"results"`
}

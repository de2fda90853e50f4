package models

// WebhookPayload mirrors the structure sent by Meta's WhatsApp Cloud API webhook callbacks.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry represents one entry payload within the webhook body.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange captures the actual notification contents.
type WebhookChange struct {
	Value WebhookValue `json:"value"`
	Field string       `json:"field"`
}

// WebhookValue carries the inbound messages. Delivery statuses are ignored.
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
}

// Contact represents the WhatsApp user initiating the conversation.
type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// InboundMessage holds the message shapes that can carry a command.
type InboundMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *TextContent        `json:"text,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
}

// TextContent contains text messages body.
type TextContent struct {
	Body string `json:"body"`
}

// InteractiveContent represents button/list replies.
type InteractiveContent struct {
	Type        string      `json:"type"`
	ButtonReply *ReplyEntry `json:"button_reply,omitempty"`
	ListReply   *ReplyEntry `json:"list_reply,omitempty"`
}

// ReplyEntry is a pressed button or a selected list item.
type ReplyEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

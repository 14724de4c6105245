package events

var clientPayloads = map[string]decoder{}

func init() {
	register[JoinRoom](clientPayloads)
	register[LeaveRoom](clientPayloads)
	register[Typing](clientPayloads)
	register[SendMessage](clientPayloads)
	register[MarkMessageAsRead](clientPayloads)
	register[GetOnlineUsers](clientPayloads)
}

type JoinRoom struct {
	ConversationId string `json:"conversationId"`
}

type LeaveRoom struct {
	ConversationId string `json:"conversationId"`
}

type Typing struct {
	ConversationId string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type SendMessage struct {
	ConversationId string  `json:"conversationId"`
	Content        string  `json:"content"`
	MessageType    string  `json:"messageType,omitempty"`
	FileUrl        string  `json:"fileUrl,omitempty"`
	FileName       string  `json:"fileName,omitempty"`
	FileSize       int64   `json:"fileSize,omitempty"`
	ReplyTo        *string `json:"replyTo,omitempty"`
	// ClientId is an opaque token chosen by the sender and echoed back on
	// the resulting receiveMessage and messageDelivered events.
	ClientId string `json:"clientId,omitempty"`
}

type MarkMessageAsRead struct {
	MessageId string `json:"messageId"`
}

type GetOnlineUsers struct {
	ConversationId string `json:"conversationId"`
}

func (JoinRoom) EventName() string          { return "joinRoom" }
func (LeaveRoom) EventName() string         { return "leaveRoom" }
func (Typing) EventName() string            { return "typing" }
func (SendMessage) EventName() string       { return "sendMessage" }
func (MarkMessageAsRead) EventName() string { return "markMessageAsRead" }
func (GetOnlineUsers) EventName() string    { return "getOnlineUsers" }

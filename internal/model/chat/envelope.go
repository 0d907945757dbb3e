package chat

// Envelope types sent from the relay to the visitor.
const (
	TypeSessionID = "session_id"
	TypeChat      = "chat"
	TypeError     = "error"
	TypeScreen    = "screen"
	TypeErase     = "erase"
)

// Envelope types sent from the visitor to the relay.
const (
	TypeActivity  = "activity"
	TypeCancelKey = "cancel_key"
	TypeClear     = "clear"
	TypeRestart   = "restart"
	TypeQuickExit = "quick_exit"
)

// Sender labels used on chat envelopes.
const (
	SenderYou     = "You"
	SenderSupport = "Support"
	SenderSystem  = "System"
)

// Screens the presentation layer can be told to show.
const (
	ScreenWelcome   = "welcome"
	ScreenMessaging = "messaging"
	ScreenExit      = "exit"
)

// Envelope is the small JSON frame exchanged with the browser.
type Envelope struct {
	Type     string `json:"type"`
	Sender   string `json:"sender,omitempty"`
	Text     string `json:"text,omitempty"`
	ID       string `json:"id,omitempty"`
	Screen   string `json:"screen,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	Variant  string `json:"variant,omitempty"`
}

// ChatEnvelope builds the chat frame for a transcript message.
func ChatEnvelope(m Message) Envelope {
	return Envelope{Type: TypeChat, Sender: m.DisplaySender(), Text: m.Text, ID: m.ID}
}

// ErrorEnvelope builds an error notice. id optionally references a message.
func ErrorEnvelope(text, id string) Envelope {
	return Envelope{Type: TypeError, Text: text, ID: id}
}

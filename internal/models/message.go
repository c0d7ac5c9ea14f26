package models

type ButtonKind int

const (
	// ButtonReply renders as a reply keyboard key that sends its text.
	ButtonReply ButtonKind = iota
	// ButtonCallback renders as an inline key carrying Data.
	ButtonCallback
	// ButtonURL renders as an inline key opening URL.
	ButtonURL
)

type Button struct {
	Kind ButtonKind
	Text string
	Data string
	URL  string
}

// OutgoingMessage is a transport-neutral prompt. Rows holds keyboard rows;
// RemoveKeyboard clears a previously shown reply keyboard.
type OutgoingMessage struct {
	Text           string
	PhotoPath      string
	Rows           [][]Button
	RemoveKeyboard bool
	HTML           bool
}

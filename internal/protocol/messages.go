package protocol

// Message type tags for JSON text messages sent to clients on the data socket
const (
	MessageTypeError          = "error"
	MessageTypeFullSentence   = "fullSentence"
	MessageTypeRecordingStart = "recording_start"
	MessageTypeRecordingStop  = "recording_stop"

	// ErrorDataCorruption identifies a rejection notice
	ErrorDataCorruption = "data_corruption"

	// ActionDisconnect tells the client the server is about to close the connection
	ActionDisconnect = "disconnect"
)

// RejectionNotice is the final message sent to a client whose connection is
// terminated after its failure count exceeded the corruption threshold.
type RejectionNotice struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// NewRejectionNotice builds the standard data corruption rejection notice
func NewRejectionNotice(detail string) RejectionNotice {
	return RejectionNotice{
		Type:    MessageTypeError,
		Error:   ErrorDataCorruption,
		Message: detail,
		Action:  ActionDisconnect,
	}
}

// Transcript carries the final recognition result for one utterance
type Transcript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTranscript builds a fullSentence message
func NewTranscript(text string) Transcript {
	return Transcript{Type: MessageTypeFullSentence, Text: text}
}

// Event is a bare type-only notification such as recording_start
type Event struct {
	Type string `json:"type"`
}

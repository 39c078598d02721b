package response

import (
	"encoding/json"
	"net/http"
)

// ChatMessage is the reply shape the chat platform renders.
type ChatMessage struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

const (
	TypeEphemeral = "ephemeral"
	TypeInChannel = "in_channel"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteChat writes a chat-formatted reply. Status is usually 200: the
// platform treats any other status as a broken integration, so user-facing
// errors still go out as chat messages.
func WriteChat(w http.ResponseWriter, status int, responseType, text string) {
	if responseType == "" {
		responseType = TypeEphemeral
	}
	WriteJSON(w, status, ChatMessage{ResponseType: responseType, Text: text})
}

// WriteChatError writes a user-facing error as an ephemeral chat message
// with a warning marker, HTTP 200.
func WriteChatError(w http.ResponseWriter, text string) {
	WriteChat(w, http.StatusOK, TypeEphemeral, ":warning: "+text)
}

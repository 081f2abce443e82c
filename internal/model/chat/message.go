package chat

// Fixed user-facing messages. They are the only error text that ever reaches
// the user; diagnostic detail stays in the logs.
const (
	// RelayFailureMessage is returned by the relay on any upstream failure.
	RelayFailureMessage = "Что-то пошло не так на сервере."
	// ClientFailureMessage is shown by the front-end when no reply arrived.
	ClientFailureMessage = "Не удалось получить ответ от сервера."
)

// Request is the body of POST /api/chat.
type Request struct {
	Message string `json:"message"`
}

// Response is the body returned by POST /api/chat. Failures are written as
// {"error": ...} through utils.RespondError, so Error is only read by clients.
type Response struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

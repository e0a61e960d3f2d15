package bootstrap

import "fmt"

// Error is returned for every failed bootstrap attempt: invalid input, transport failure,
// non-2xx status, or a response missing Meeting, Attendee or MediaPlacement.
type Error struct {
	StatusCode int    // 0 when no response was received
	Message    string // server message when present
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("bootstrap meeting: status %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("bootstrap meeting: status %d", e.StatusCode)
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("bootstrap meeting: %s: %v", e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("bootstrap meeting: %v", e.Err)
	default:
		return "bootstrap meeting: " + e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

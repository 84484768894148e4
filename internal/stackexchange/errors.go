package stackexchange

import (
	"fmt"
)

// QueryError is a non-2xx search response. ErrorID, Name and Message are
// filled from the API error wrapper when the body carried one.
type QueryError struct {
	Site    string
	Status  int
	ErrorID int
	Name    string
	Message string
}

func (e *QueryError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("search %s: status %d: %s (%d): %s", e.Site, e.Status, e.Name, e.ErrorID, e.Message)
	}
	return fmt.Sprintf("search %s: status %d", e.Site, e.Status)
}

// TransportError is a request that never produced a response.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a 2xx body that did not match the expected shape.
type DecodeError struct {
	Site string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("search %s: decode: %v", e.Site, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

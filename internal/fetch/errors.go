package fetch

import "fmt"

// FetchError describes a failed stream download.
// Kind is one of the domain error sentinels.
type FetchError struct {
	URL        string
	Path       string
	StatusCode int
	Kind       error
	Message    string
	Err        error
}

// Error formats fetch failures for logs and chat replies.
func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("fetch %s: %s", e.Path, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the error kind and the cause to errors.Is / errors.As.
func (e *FetchError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

package source

// FetchError is returned when a workbook cannot be fetched.
type FetchError struct {
	// Op is the operation that failed (e.g., "connect", "download", "stat")
	Op string

	// Location is the workbook location, without credentials
	Location string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *FetchError) Error() string {
	return e.Op + " " + e.Location + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed.
func (e *FetchError) Temporary() bool {
	return e.IsTemporary
}

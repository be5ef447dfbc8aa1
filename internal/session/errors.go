package session

// AuthError is the one frame the server ever sends back during the AUTH
// phase when authentication fails; the connection is always closed
// immediately afterward. Reason is exactly the text spec.md §4.C dictates
// for each case.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

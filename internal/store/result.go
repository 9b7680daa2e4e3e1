package store

// Result carries the outcome of a store operation. Success is reserved for
// transport-level health: a query that ran cleanly but matched nothing is
// still a success, with an absent payload. Callers must branch on Success
// first and on payload presence second; conflating the two is the defect
// class this type exists to eliminate.
type Result[T any] struct {
	Success    bool
	Payload    T
	Diagnostic error
}

// OK returns a successful result carrying payload.
func OK[T any](payload T) Result[T] {
	return Result[T]{Success: true, Payload: payload}
}

// Fail returns a failed result. Diagnostic describes the transport, auth, or
// malformed-query failure; the payload is the zero value.
func Fail[T any](diagnostic error) Result[T] {
	return Result[T]{Success: false, Diagnostic: diagnostic}
}

// Err returns the diagnostic when the operation failed, nil otherwise.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}

	return r.Diagnostic
}

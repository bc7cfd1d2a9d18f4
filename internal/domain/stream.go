package domain

// DeltaStream is a pull-based sequence of generated text fragments.
//
// Recv blocks until the next non-empty delta arrives. It returns io.EOF once
// the reply is complete, or a single terminal error; after either, Recv keeps
// returning the same result. Close abandons the underlying transport and may
// be called at any time.
type DeltaStream interface {
	Recv() (string, error)
	Close() error
}

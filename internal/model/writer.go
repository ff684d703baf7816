package model

// Writer defines a generic interface for persisting labeled flow records.
type Writer interface {
	// Write persists one record. Records arrive in completion order.
	Write(rec *Essence) error

	// Close flushes anything buffered and releases the underlying resources.
	Close() error

	// Name returns the writer type, e.g. "csv".
	Name() string
}

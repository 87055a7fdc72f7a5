package core

// ScalarSource exposes the most recent conversion of a free-running
// converter. Latest is called from the sample-edge interrupt and must be a
// plain load.
type ScalarSource interface {
	Latest() uint16
}

// ScalarFunc adapts a function to ScalarSource.
type ScalarFunc func() uint16

func (f ScalarFunc) Latest() uint16 { return f() }

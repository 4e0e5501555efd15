package accounts

import "io"

// DefaultLoggerTo returns the fallback logger writing to w, restore puts
// stdout back
func DefaultLoggerTo(w io.Writer) (logger Logger, restore func()) {
	prev := stdout
	stdout = w
	return defLogger{}, func() { stdout = prev }
}

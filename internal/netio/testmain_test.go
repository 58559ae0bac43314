package netio

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutine outlives the package's tests: every
// listener and monitor Run loop must exit on context cancellation.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

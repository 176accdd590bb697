package modbus

import (
	"bytes"
	"testing"
)

// assertBytesEqual checks if two byte slices are equal.
func assertBytesEqual(t *testing.T, expected, actual []byte) {
	t.Helper()
	if !bytes.Equal(expected, actual) {
		t.Errorf("Expected % X, but got % X", expected, actual)
	}
}

// assertBoolsEqual checks if two bool slices are equal.
func assertBoolsEqual(t *testing.T, expected, actual []bool) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Errorf("Expected length %d, but got %d", len(expected), len(actual))
		return
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Errorf("Expected %v, but got %v", expected, actual)
			return
		}
	}
}

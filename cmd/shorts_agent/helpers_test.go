package main

import (
	"os"
	"path/filepath"
	"testing"
)

// getBinaryPath returns the path to the shorts_agent binary for testing
func getBinaryPath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping CLI tests in short mode")
	}

	binaryPath := filepath.Join("..", "..", "bin", "shorts_agent")
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skipf("Binary not found at %s, build it first with 'go build -o bin/shorts_agent ./cmd/shorts_agent'", binaryPath)
	}

	return binaryPath
}

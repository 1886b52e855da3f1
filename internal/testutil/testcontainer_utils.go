// Package testutil starts shared backend containers for integration tests.
//
// Each container is started at most once per test binary and reaped by
// testcontainers when the process exits. Tests that need a container are
// skipped under -short or when no Docker daemon is reachable.
package testutil

import "testing"

func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
}

func skipOnError(t *testing.T, backend string, err error) {
	t.Helper()
	if err != nil {
		t.Skipf("%s container unavailable: %v", backend, err)
	}
}

// Package testutil provides deterministic identifier generators for tests
// and scenario runs.
package testutil

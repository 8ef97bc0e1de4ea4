// Package testing provides testing utilities for go-modelproxy.
//
// # Mocks
//
// The mocks subpackage provides a testify-based httpclient.Doer so executor
// and client tests can script upstream responses without a network.
//
// # Fixtures
//
// The fixtures subpackage builds pre-configured doers for common upstream
// behaviors (overloaded, failing, rate limited) and canned proxy bodies.
//
// Import the specific subpackages you need:
//
//	import (
//		"github.com/gaborage/go-modelproxy/testing/mocks"
//		"github.com/gaborage/go-modelproxy/testing/fixtures"
//	)
package testing

package testing

// TestLoggerLevelDebug is the log level for tests that assert on debug output
const TestLoggerLevelDebug = "debug"

// Proxy configuration shared by client tests.
const (
	TestBaseURL = "http://proxy.test"
	TestAPIKey  = "test-api-key"
	TestModel   = "gpt-4"
)

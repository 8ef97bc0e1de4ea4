package observability

import "errors"

var (
	// ErrMissingServiceName reports an enabled configuration without observability.service
	ErrMissingServiceName = errors.New("observability: service name required")
	// ErrInvalidProtocol reports an exporter protocol other than http or grpc
	ErrInvalidProtocol = errors.New("observability: unsupported exporter protocol")
)

package services

import "errors"

var (
	// ErrTenantUnresolved means no source named a tenant on a write path.
	ErrTenantUnresolved = errors.New("tenant could not be resolved")
	// ErrMalformedPayload means the webhook body is not a usable JSON object.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrMissingIdentity means the payload lacks the ids needed to key the member.
	ErrMissingIdentity = errors.New("payload is missing member identity")
	// ErrInvalidStatus rejects unknown directory status filters.
	ErrInvalidStatus = errors.New("invalid status filter")
)

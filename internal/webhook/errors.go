package webhook

import "errors"

var (
	// ErrMissingSignature indicates the delivery carried no X-Hub-Signature-256 header.
	ErrMissingSignature = errors.New("missing X-Hub-Signature-256 header")
	// ErrInvalidSignature indicates the header is malformed or does not match the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

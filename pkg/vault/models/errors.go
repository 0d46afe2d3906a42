package models

import "errors"

// Common errors for vault control plane operations.
var (
	// Box errors
	ErrBoxNotFound  = errors.New("safe deposit box not found")
	ErrDuplicateBox = errors.New("safe deposit box already exists")

	// Key/role record errors
	ErrRecordNotFound = errors.New("key/role record not found")

	// Authentication and authorization errors
	ErrAuthentication = errors.New("identity proof could not be verified")
	ErrAuthorization  = errors.New("principal lacks a grant for this box")

	// External collaborator errors
	ErrExternalResource = errors.New("external resource call failed")
)

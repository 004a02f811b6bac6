// calltips/errors.go
// Contains exported error definitions for the calltips package.
package calltips

import "errors"

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrResolveFailed indicates the call resolver could not complete because the host
	// (package loader, syntax tree) was unavailable. Filtering outcomes are not errors.
	ErrResolveFailed = errors.New("call resolution failed")

	// ErrDocumentNotOpen indicates the requested document is not tracked by the document store.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrSyntaxUnavailable indicates the syntax tree for a document could not be produced at all.
	ErrSyntaxUnavailable = errors.New("syntax tree unavailable")

	// ErrDeclarationNotFound indicates a resolved function object has no locatable declaration node.
	ErrDeclarationNotFound = errors.New("declaration not found")

	// ErrPresenter indicates the UI boundary failed to show or hide a tip.
	ErrPresenter = errors.New("presenter failed")

	// ErrPipelinePanic wraps a panic recovered at the outermost pipeline boundary.
	ErrPipelinePanic = errors.New("pipeline panic")

	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPositionConversion indicates failure converting between position formats (e.g., LSP <-> byte offset).
	ErrPositionConversion = errors.New("position conversion failed")

	// ErrInvalidPositionInput indicates input position values (line/col) are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds of the file or line.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidUTF8 indicates an invalid UTF-8 sequence was encountered during processing.
	ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

	// ErrInvalidURI indicates a document URI is invalid or uses an unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")
)

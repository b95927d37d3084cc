package epub

import "errors"

var (
	// ErrInvalidEPUB is returned when the input is not a readable EPUB
	// (not a zip, wrong mimetype, no package document).
	ErrInvalidEPUB = errors.New("epub: invalid EPUB file")

	// ErrDRMProtected is returned for encrypted content (Adobe ADEPT,
	// Readium LCP, Apple FairPlay). Font obfuscation alone is accepted.
	ErrDRMProtected = errors.New("epub: file is DRM protected")

	// ErrFileNotFound is returned when a referenced file is missing
	// from the archive.
	ErrFileNotFound = errors.New("epub: file not found in archive")
)

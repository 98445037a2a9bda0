package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessed signals that patches already exist for an image.
	ErrAlreadyProcessed = errors.New("image already processed")
	// ErrAlreadyAnalyzed signals that the requested analysis stage already ran.
	ErrAlreadyAnalyzed = errors.New("image already analyzed")
	// ErrNoPatches signals that a screening precondition failed: the image has
	// not been processed into patches yet.
	ErrNoPatches = errors.New("image has no patches")
	// ErrNoValidPatches signals that extraction produced zero usable patches.
	ErrNoValidPatches = errors.New("no valid patches extracted")
	// ErrImageTooSmall signals an input image below the viable segmentation size.
	ErrImageTooSmall = errors.New("image too small to segment")
	// ErrClassifierUnavailable signals that no classifier model could be
	// loaded for the requested smear kind. Fatal for a screening run.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrExternalService signals a detector service call that failed or
	// returned a malformed response.
	ErrExternalService = errors.New("external analysis service failed")
	// ErrStageInProgress signals a duplicate trigger while a job for the same
	// image and stage is still queued or running.
	ErrStageInProgress = errors.New("analysis stage already in progress")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Package services defines the business logic for roadmaps, progress tracking,
// and the resource catalog. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Roadmap and progress errors.
var (
	// ErrRoadmapNotFound indicates that the requested roadmap does not exist
	// or is not accessible to the current user.
	ErrRoadmapNotFound = errors.New("roadmap not found")

	// ErrLevelNotFound indicates that the addressed level id does not exist
	// inside the roadmap.
	ErrLevelNotFound = errors.New("level not found")

	// ErrModuleNotFound indicates that the addressed module id does not exist
	// inside the level.
	ErrModuleNotFound = errors.New("module not found")

	// ErrConflict is returned when a progress update loses the version race
	// repeatedly and the retry budget is exhausted. The operation may be
	// retried by the caller against the newer aggregate state.
	ErrConflict = errors.New("conflicting update, please retry")

	// ErrNegativeTime is returned when a progress update carries a negative
	// time_spent value.
	ErrNegativeTime = errors.New("time spent must be non-negative")

	// ErrEmptyTitle is returned when a roadmap is created or renamed with a
	// blank title.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrNoLevels is returned when a roadmap is created without any levels
	// or with a level that has no modules.
	ErrNoLevels = errors.New("roadmap needs at least one level with modules")

	// ErrInvalidTier is returned when a roadmap difficulty is not one of the
	// supported tiers.
	ErrInvalidTier = errors.New("difficulty must be beginner, intermediate or advanced")
)

// Resource catalog errors.
var (
	// ErrResourceNotFound indicates that the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidResourceType is returned when a resource carries an unknown
	// modality type.
	ErrInvalidResourceType = errors.New("invalid resource type")

	// ErrInvalidRating is returned when a feedback rating is outside the
	// allowed range (1 to 5).
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrInvalidDifficulty is returned when a resource difficulty is outside
	// the allowed range (1 to 5).
	ErrInvalidDifficulty = errors.New("difficulty must be between 1 and 5")

	// ErrForbiddenResource is returned when a user attempts to modify a
	// resource they did not contribute.
	ErrForbiddenResource = errors.New("cannot modify this resource")

	// ErrDuplicateFeedback is returned when a user attempts to rate a
	// resource they have already rated.
	ErrDuplicateFeedback = errors.New("feedback already exists")
)

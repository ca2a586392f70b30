package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate indicates that an insert collided with the per-owner
	// signature uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")

	// ErrQuotaExceeded indicates that the owner has reached their record quota.
	ErrQuotaExceeded = errors.New("record quota exceeded")
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (0-indexed).
	Page int

	// Limit is the number of items per page.
	Limit int

	// TotalPages is the number of pages needed to hold Total items.
	TotalPages int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination options for list and search operations.
type ListOptions struct {
	// Page is the page number to retrieve (0-indexed, default: 0).
	Page int

	// Limit is the number of items per page (default: 10, max: 100).
	Limit int
}

const (
	// DefaultLimit is the page size applied when none is requested.
	DefaultLimit = 10

	// MaxLimit caps the page size a caller may request.
	MaxLimit = 100
)

// Normalize applies the package default and maximum page sizes.
func (o *ListOptions) Normalize() {
	o.NormalizeWith(DefaultLimit, MaxLimit)
}

// NormalizeWith applies the given default and maximum page sizes.
// Non-positive bounds fall back to the package constants.
func (o *ListOptions) NormalizeWith(defaultLimit, maxLimit int) {
	if defaultLimit < 1 {
		defaultLimit = DefaultLimit
	}
	if maxLimit < 1 {
		maxLimit = MaxLimit
	}

	if o.Page < 0 {
		o.Page = 0
	}

	if o.Limit < 1 {
		o.Limit = defaultLimit
	}

	if o.Limit > maxLimit {
		o.Limit = maxLimit
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return o.Page * o.Limit
}

// NewPaginatedResult assembles a page of items with its derived pagination
// summary. TotalPages is the ceiling of total/limit; HasMore is true exactly
// when a later page would be non-empty.
func NewPaginatedResult[T any](items []T, total int, opts ListOptions) *PaginatedResult[T] {
	totalPages := 0
	if opts.Limit > 0 {
		totalPages = (total + opts.Limit - 1) / opts.Limit
	}
	return &PaginatedResult[T]{
		Items:      items,
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: totalPages,
		HasMore:    (opts.Page+1)*opts.Limit < total,
	}
}

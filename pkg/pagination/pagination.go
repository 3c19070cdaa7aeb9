package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
	MinLimit     = 1
)

// CursorParams is a keyset page request. Cursor is the opaque page state returned
// with the previous page; nil means start from the beginning.
type CursorParams struct {
	Limit  int
	Cursor []byte
}

// CursorPage is the paginated response shape for history pulls
type CursorPage struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

// ParseCursorParams parses limit and cursor query values. Limit is clamped into
// [MinLimit, MaxLimit].
func ParseCursorParams(limitStr, cursorStr string) (*CursorParams, error) {
	limit, err := ParseLimit(limitStr)
	if err != nil {
		return nil, err
	}

	params := &CursorParams{Limit: limit}
	if cursorStr != "" {
		cursor, err := base64.URLEncoding.DecodeString(cursorStr)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor parameter: %w", err)
		}
		params.Cursor = cursor
	}

	return params, nil
}

// ParseLimit parses a limit query value, falling back to DefaultLimit when empty
func ParseLimit(limitStr string) (int, error) {
	if limitStr == "" {
		return DefaultLimit, nil
	}
	l, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	return ClampLimit(l), nil
}

func ClampLimit(limit int) int {
	switch {
	case limit < MinLimit:
		return MinLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// BuildCursorPage wraps items and the next page state
func BuildCursorPage(items interface{}, next []byte) *CursorPage {
	page := &CursorPage{Items: items}
	if len(next) > 0 {
		page.NextCursor = base64.URLEncoding.EncodeToString(next)
		page.HasMore = true
	}
	return page
}

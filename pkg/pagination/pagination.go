package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 25
	// MaxLimit caps how many rows any cursor query can request.
	MaxLimit = 100
)

// ErrInvalidCursor marks a page token this service did not issue.
var ErrInvalidCursor = errors.New("cursor is not a valid page token")

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the last row of a page: its sort timestamp (borrowed_at,
// due_at, returned_at, state_changed_at or created_at depending on the
// listing) and its id as tiebreaker.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// Direction is the keyset sort order.
type Direction int

const (
	// Newest pages from the latest timestamp backwards.
	Newest Direction = iota
	// Oldest pages forward from the earliest timestamp.
	Oldest
)

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer returns the normalization result plus one to detect the next page.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Keyset orders by (column, id) and, given a cursor, resumes strictly after
// it. column must be a trusted identifier.
func Keyset(column string, dir Direction, cursor *Cursor) func(*gorm.DB) *gorm.DB {
	cmp, order := "<", "DESC"
	if dir == Oldest {
		cmp, order = ">", "ASC"
	}
	return func(query *gorm.DB) *gorm.DB {
		if cursor != nil {
			query = query.Where(
				fmt.Sprintf("(%[1]s %[2]s ?) OR (%[1]s = ? AND id %[2]s ?)", column, cmp),
				cursor.At, cursor.At, cursor.ID,
			)
		}
		return query.Order(fmt.Sprintf("%s %s, id %s", column, order, order))
	}
}

// EncodeCursor renders the cursor as a URL-safe token.
func EncodeCursor(cursor Cursor) string {
	payload := cursor.At.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// ParseCursor decodes a token from EncodeCursor. An empty token is the first
// page; anything malformed wraps ErrInvalidCursor.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64url", ErrInvalidCursor)
	}
	at, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("%w: expected timestamp|id", ErrInvalidCursor)
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrInvalidCursor, at)
	}
	rowID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: bad row id %q", ErrInvalidCursor, id)
	}
	return &Cursor{At: t, ID: rowID}, nil
}

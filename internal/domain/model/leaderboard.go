package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Order is the direction of a leaderboard page.
type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

// OrderByRating is the only sortable field. "elo" is accepted as an alias.
const OrderByRating = "rating"

// ParseOrder maps a query value to an Order; empty means descending.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "desc":
		return OrderDesc, nil
	case "asc":
		return OrderAsc, nil
	default:
		return "", fmt.Errorf("%w: order must be asc or desc", ErrInvalidQuery)
	}
}

// ParseOrderBy normalizes the sort field.
func ParseOrderBy(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rating", "elo":
		return OrderByRating, nil
	default:
		return "", fmt.Errorf("%w: unsupported orderBy %q", ErrInvalidQuery, s)
	}
}

// LeaderboardQuery selects one page of a collection's standings.
type LeaderboardQuery struct {
	CollectionID string
	Limit        int
	Pointer      string
	Order        Order
	OrderBy      string
}

// LeaderboardPage is one page of standings and the pointer to the next one.
// NextPointer is empty on the last page.
type LeaderboardPage struct {
	Standings   []Standing
	NextPointer string
}

// Cursor is the keyset position after which a page starts.
type Cursor struct {
	Rating float64 `json:"r"`
	ItemID string  `json:"i"`
}

// CursorAfter returns the cursor positioned on s.
func CursorAfter(s Standing) Cursor {
	return Cursor{Rating: s.Rating, ItemID: s.ItemID}
}

// Encode returns the opaque pointer form of c.
func (c Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses an opaque pointer. Empty input yields nil.
func DecodeCursor(p string) (*Cursor, error) {
	if p == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed pointer", ErrInvalidQuery)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ItemID == "" || math.IsNaN(c.Rating) || math.IsInf(c.Rating, 0) {
		return nil, fmt.Errorf("%w: malformed pointer", ErrInvalidQuery)
	}
	return &c, nil
}

// Before reports whether a ranks strictly ahead of b in descending order:
// higher rating first, ties broken by ascending item id.
func Before(a, b Standing) bool {
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	return a.ItemID < b.ItemID
}

// AfterCursor reports whether s lies strictly past c in the given order.
func AfterCursor(s Standing, c Cursor, order Order) bool {
	pivot := Standing{ItemID: c.ItemID, Rating: c.Rating}
	if order == OrderAsc {
		return Before(s, pivot)
	}
	return Before(pivot, s)
}

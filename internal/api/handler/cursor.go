package handler

import (
	"fmt"
	"strconv"
)

// DecodeAssetCursor parses the id cursor of the list endpoint. An empty
// string means the first page. Any integer is accepted; a cursor at or below
// the smallest id simply yields an empty page.
func DecodeAssetCursor(cursorStr string) (*int64, error) {
	if cursorStr == "" {
		return nil, nil
	}

	id, err := strconv.ParseInt(cursorStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return &id, nil
}

// EncodeAssetCursor returns the cursor for the page after the given id.
func EncodeAssetCursor(lastID int64) string {
	return strconv.FormatInt(lastID, 10)
}

package cache

import (
	"crypto/sha1" //nolint:gosec // used for key derivation, not security
	"encoding/hex"
	"fmt"
	"strconv"
)

// Fingerprint reduces a query description (filters, pager fields, any CBOR-encodable
// values) to a short stable id. Maps are encoded with sorted keys, so two descriptions
// that differ only in insertion order share a fingerprint.
func Fingerprint(parts ...any) (string, error) {
	if parts == nil {
		parts = []any{}
	}
	data, err := encMode.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha1.Sum(data) //nolint:gosec // see import
	return hex.EncodeToString(sum[:]), nil
}

// ListKey is the data-bucket key of an id list.
func ListKey(fp string) string { return "list:" + fp }

// CountKey is the data-bucket key of a list count.
func CountKey(fp string) string { return "list-count:" + fp }

// SortListKey is the data-bucket key of a cursor-paginated id list.
func SortListKey(rows int, last int64, fp string) string {
	return "sort-list:" + strconv.Itoa(rows) + separator + strconv.FormatInt(last, 10) + separator + fp
}

// ViewListKey is the data-bucket key of a page-numbered id list.
func ViewListKey(rows, page int, fp string) string {
	return "view-list:" + strconv.Itoa(rows) + separator + strconv.Itoa(page) + separator + fp
}

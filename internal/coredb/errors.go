// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"errors"

	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrRunNotFound indicates no ledger row exists for a run id.
	ErrRunNotFound = errors.New("coredb: run not found")

	// ErrJournalQuotaExceeded is returned when a single event is larger than
	// the whole journal budget, so no amount of eviction can make room.
	ErrJournalQuotaExceeded = errors.New("coredb: journal quota exceeded")
)

// IsStorageFull reports whether err means the journal cannot take more data:
// either the event is over budget or SQLite hit max_page_count.
func IsStorageFull(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrJournalQuotaExceeded) {
		return true
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		// Extended result codes carry the primary code in the low byte.
		return coder.Code()&0xff == sqlite3.SQLITE_FULL
	}
	return false
}

package xid

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a prefixed, lexicographically sortable unique ID, e.g.
// "ord-01hqv8n7r2k5j9m3p6w0x4y8za".
func New(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}

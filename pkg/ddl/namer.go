package ddl

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// MaxIdentifierLength is the longest identifier PostgreSQL keeps
// (NAMEDATALEN - 1); longer names are silently truncated by the server.
const MaxIdentifierLength = 63

// hashSuffixLength is the length of "_" plus 8 hex digits.
const hashSuffixLength = 9

// Namer issues identifiers that fit MaxIdentifierLength and are unique
// within one compilation pass. Asking twice for the same parts returns the
// same identifier, so a pass that requests names in a fixed order always
// produces the same identifiers. Different parts that join to the same text
// ("validate_insert" and "validate", "insert") get distinct identifiers.
//
// A Namer is not safe for concurrent use; create one per pass.
type Namer struct {
	max    int
	byName map[string]string // parts key -> identifier
	issued map[string]string // identifier -> parts key
}

// NewNamer returns a Namer using MaxIdentifierLength.
func NewNamer() *Namer {
	return newNamer(MaxIdentifierLength)
}

func newNamer(max int) *Namer {
	return &Namer{
		max:    max,
		byName: make(map[string]string),
		issued: make(map[string]string),
	}
}

// partsSeparator cannot occur in a sanitized identifier.
const partsSeparator = "\x00"

// Name joins parts with underscores, folds the result to a lowercase
// identifier and returns a unique identifier for it.
func (n *Namer) Name(parts ...string) string {
	sanitized := make([]string, len(parts))
	for i, p := range parts {
		sanitized[i] = sanitizeIdentifier(p)
	}
	key := strings.Join(sanitized, partsSeparator)
	if id, ok := n.byName[key]; ok {
		return id
	}
	full := strings.Join(sanitized, "_")

	id := full
	if len(id) > n.max {
		id = id[:n.max]
	}
	for attempt := 0; ; attempt++ {
		owner, taken := n.issued[id]
		if !taken || owner == key {
			break
		}
		id = hashedIdentifier(full, key, attempt, n.max)
	}

	n.byName[key] = id
	n.issued[id] = key
	return id
}

// hashedIdentifier replaces the tail of full with a hash of key so that
// names sharing a long prefix stay distinct.
func hashedIdentifier(full, key string, attempt, max int) string {
	if attempt > 0 {
		key = fmt.Sprintf("%s#%d", key, attempt)
	}
	suffix := fmt.Sprintf("_%08x", uint32(xxh3.HashString(key)))

	head := full
	if len(head) > max-hashSuffixLength {
		head = head[:max-hashSuffixLength]
	}
	return head + suffix
}

// sanitizeIdentifier lowercases s and replaces every character that is not
// valid in an unquoted identifier with an underscore.
func sanitizeIdentifier(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			sb.WriteByte(c + ('a' - 'A'))
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			sb.WriteByte(c)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

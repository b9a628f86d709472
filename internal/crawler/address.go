package crawler

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrBadResume means a resume address could not be parsed.
var ErrBadResume = eris.New("crawler: invalid resume address")

// Address identifies a node in the subdivision tree: element k is the
// row-major child index chosen at depth k. The empty address is the root.
//
// All resume logic reduces to the three operations below: append (Child),
// prefix truncation (Truncate), and lexicographic comparison (Compare).
type Address []int

// Child returns the address of the i-th child. The result has its own
// backing array, so sibling addresses never alias.
func (a Address) Child(i int) Address {
	child := make(Address, len(a)+1)
	copy(child, a)
	child[len(a)] = i
	return child
}

// Truncate returns the address cut to at most n elements.
func (a Address) Truncate(n int) Address {
	if n >= len(a) {
		return a
	}
	return a[:n]
}

// Compare orders addresses lexicographically, element-wise. A strict prefix
// sorts before any of its extensions.
func (a Address) Compare(b Address) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Equal reports element-wise equality.
func (a Address) Equal(b Address) bool {
	return a.Compare(b) == 0
}

// String renders the address as comma-separated indices, e.g. "1,4,0".
// The root renders as the empty string.
func (a Address) String() string {
	if len(a) == 0 {
		return ""
	}
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// ParseAddress parses the String form. The empty string is the root.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, nil
	}
	parts := strings.Split(s, ",")
	addr := make(Address, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 {
			return nil, eris.Wrapf(ErrBadResume, "element %q in %q", p, s)
		}
		addr[i] = v
	}
	return addr, nil
}

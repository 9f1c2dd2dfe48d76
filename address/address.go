// Package address defines the routing keys used to identify hubs and controls.
package address

import (
	"strings"

	"github.com/grovetools/layoutsync/errors"
)

// Address identifies a hub or a control. It has the form "{type}/{id}" and is
// compared by value.
type Address string

// New builds an address from its type and id.
func New(kind, id string) Address {
	return Address(kind + "/" + id)
}

// Parse validates s and returns it as an Address.
func Parse(s string) (Address, error) {
	i := strings.IndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return "", errors.InvalidAddress(s)
	}
	return Address(s), nil
}

// MustParse is like Parse but panics on malformed input. Intended for constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Kind returns the part before the first slash.
func (a Address) Kind() string {
	kind, _, _ := strings.Cut(string(a), "/")
	return kind
}

// ID returns everything after the first slash.
func (a Address) ID() string {
	_, id, _ := strings.Cut(string(a), "/")
	return id
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return a == "" }

func (a Address) String() string { return string(a) }

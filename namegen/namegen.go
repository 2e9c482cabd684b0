// Package namegen generates short human-friendly ids, used for provisions
// created without an explicit id.
package namegen

import (
	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

type ID string

// Get returns a fresh two-word id like "spicy-meadow".
func Get() ID {
	return ID(gen.Get())
}

// WithPrefix returns a fresh id under a fixed prefix, e.g. "provision-spicy-meadow".
func WithPrefix(prefix string) ID {
	return ID(prefix + "-" + gen.Get())
}

func (id ID) String() string {
	return string(id)
}

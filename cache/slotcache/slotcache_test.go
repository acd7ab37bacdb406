package slotcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// These cases exercise the key-index bookkeeping directly, since the
// memcached wire protocol itself requires a live server to integration
// test against and none is part of this module's test tooling.

func TestKeysUnderFiltersByPrefix(t *testing.T) {
	b := New("127.0.0.1:11211")
	b.remember("ns:user:1")
	b.remember("ns:user:2")
	b.remember("other:1")

	got := b.keysUnder("ns")
	assert.ElementsMatch(t, []string{"ns:user:1", "ns:user:2"}, got)
}

func TestForgetRemovesFromIndex(t *testing.T) {
	b := New("127.0.0.1:11211")
	b.remember("ns:1")
	b.forget("ns:1")

	assert.Empty(t, b.keysUnder("ns"))
}

func TestKeysUnderEmptyPrefixReturnsAll(t *testing.T) {
	b := New("127.0.0.1:11211")
	b.remember("a:1")
	b.remember("b:1")

	assert.ElementsMatch(t, []string{"a:1", "b:1"}, b.keysUnder(""))
}

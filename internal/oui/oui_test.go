package oui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	db := New()

	t.Run("colon format", func(t *testing.T) {
		assert.Equal(t, "Raspberry Pi Foundation", db.Lookup("b8:27:eb:12:34:56"))
	})

	t.Run("dash format", func(t *testing.T) {
		assert.Equal(t, "Raspberry Pi Foundation", db.Lookup("B8-27-EB-12-34-56"))
	})

	t.Run("dot format", func(t *testing.T) {
		assert.Equal(t, "Raspberry Pi Foundation", db.Lookup("b827.eb12.3456"))
	})

	t.Run("vendor names with commas survive parsing", func(t *testing.T) {
		assert.Equal(t, "Apple, Inc.", db.Lookup("dc:a9:04:00:00:01"))
		assert.Equal(t, "Samsung Electronics Co.,Ltd", db.Lookup("8c:77:12:aa:bb:cc"))
	})

	t.Run("unknown prefix", func(t *testing.T) {
		assert.Empty(t, db.Lookup("02:00:00:00:00:01"))
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.Empty(t, db.Lookup(""))
		assert.Empty(t, db.Lookup("zz:zz:zz:00:00:00"))
		assert.Empty(t, db.Lookup("ab"))
	})
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "aa:bb:cc", normalizePrefix("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "aa:bb:cc", normalizePrefix("aabb.ccdd.eeff"))
	assert.Equal(t, "aa:bb:cc", normalizePrefix("aa-bb-cc-dd-ee-ff"))
	assert.Empty(t, normalizePrefix("short"))
	assert.Empty(t, normalizePrefix(""))
}

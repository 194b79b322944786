package sortedcoll_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysim/intersection-core/pkg/sortedcoll"
)

type intKey int

func (k intKey) Less(other intKey) bool { return k < other }

func TestSetInsertKeepsSortedOrder(t *testing.T) {
	t.Run("should keep items sorted regardless of insertion order", func(t *testing.T) {
		s := sortedcoll.NewSet[intKey]()

		assert.True(t, s.Insert(5))
		assert.True(t, s.Insert(1))
		assert.True(t, s.Insert(3))
		assert.False(t, s.Insert(3), "duplicate insert should be a no-op")

		assert.Equal(t, []intKey{1, 3, 5}, s.Items())
		assert.Equal(t, 3, s.Len())
	})
}

func TestSetRemove(t *testing.T) {
	t.Run("should remove present items and report absent ones", func(t *testing.T) {
		s := sortedcoll.NewSet[intKey]()
		s.Insert(1)
		s.Insert(2)

		assert.True(t, s.Remove(1))
		assert.False(t, s.Remove(1))
		assert.Equal(t, []intKey{2}, s.Items())
	})
}

func TestMapSetGetDelete(t *testing.T) {
	t.Run("should get/set/delete by key", func(t *testing.T) {
		m := sortedcoll.NewMap[intKey, string]()
		m.Set(2, "b")
		m.Set(1, "a")
		m.Set(2, "b-overwritten")

		v, ok := m.Get(2)
		require.True(t, ok)
		assert.Equal(t, "b-overwritten", v)

		assert.Equal(t, []intKey{1, 2}, m.Keys())

		assert.True(t, m.Delete(1))
		assert.False(t, m.Delete(1))
		assert.Equal(t, 1, m.Len())
	})
}

func TestMapMarshalJSONIsSortedPairArray(t *testing.T) {
	t.Run("should serialize as [key, value] pairs in sorted key order", func(t *testing.T) {
		m := sortedcoll.NewMap[intKey, string]()
		m.Set(5, "five")
		m.Set(1, "one")

		data, err := json.Marshal(m)
		require.NoError(t, err)
		assert.JSONEq(t, `[[1,"one"],[5,"five"]]`, string(data))
	})
}

func TestSetMarshalJSONEmpty(t *testing.T) {
	t.Run("should serialize an empty set as an empty array, not null", func(t *testing.T) {
		s := sortedcoll.NewSet[intKey]()
		data, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(data))
	})
}

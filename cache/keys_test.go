package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespace(t *testing.T) {
	assert.Equal(t, "shop:user:id", Namespace("shop", "user", DimensionID))
	assert.Equal(t, "shop:user:index:email", Namespace("shop", "user", DimensionIndex, "email"))
	assert.Equal(t, "shop:user:data", Namespace("shop", "user", DimensionData, ""))
	assert.Equal(t, Namespace("a", "b", "c", "d"), Namespace("a", "b", "c", "d"))
}

func TestGroup(t *testing.T) {
	g, ok := Group("ns", []string{"1", "2", "1", "", "3"})
	assert.True(t, ok)
	assert.Equal(t, KeyGroup{Namespace: "ns", Members: []string{"1", "2", "3"}}, g)

	_, ok = Group("ns", nil)
	assert.False(t, ok)

	_, ok = Group("ns", []string{""})
	assert.False(t, ok)
}

func TestBucket(t *testing.T) {
	b := Bucket("ns")
	assert.True(t, b.All)
	assert.False(t, b.Empty())
	assert.True(t, KeyGroup{Namespace: "ns"}.Empty())
}

func TestMergeGroups(t *testing.T) {
	merged := MergeGroups([]KeyGroup{
		{Namespace: "a", Members: []string{"1"}},
		{Namespace: "b"},
		{Namespace: "c", Members: []string{"x"}},
		{Namespace: "a", Members: []string{"2", "1"}},
		Bucket("c"),
		{Namespace: "c", Members: []string{"y"}},
	})

	assert.Equal(t, []KeyGroup{
		{Namespace: "a", Members: []string{"1", "2"}},
		{Namespace: "c", All: true},
	}, merged)

	assert.Empty(t, MergeGroups(nil))
}

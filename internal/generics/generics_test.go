package generics

import (
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceMap(t *testing.T) {
	got := SliceMap([]int{1, 2, 3}, func(e int) string { return strconv.Itoa(e * 2) })
	assert.Equal(t, []string{"2", "4", "6"}, got)
	assert.Empty(t, SliceMap([]int(nil), func(e int) int { return e }))
}

func TestSortedKeys(t *testing.T) {
	m := map[int]string{1: "1", 5: "5", 3: "3"}
	// Since the builtin map iterator in Go is deliberately non-deterministic, we
	// run it a bunch of times to show it is stably sorted.
	want := []int{1, 3, 5}
	for range 100 {
		assert.Equal(t, want, slices.Collect(SortedKeys(m)))
	}
}

func TestSortedKeysAndValues(t *testing.T) {
	m := map[string]int{"b": 2, "c": 3, "a": 1}
	for range 100 {
		var keys []string
		var values []int
		for k, v := range SortedKeysAndValues(m) {
			keys = append(keys, k)
			values = append(values, v)
		}
		assert.Equal(t, []string{"a", "b", "c"}, keys)
		assert.Equal(t, []int{1, 2, 3}, values)
	}

	// Early break.
	count := 0
	for range SortedKeysAndValues(m) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

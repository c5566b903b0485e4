package completion

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_AddIsMonotonic(t *testing.T) {
	s := NewSet()

	assert.True(t, s.Add("a"))
	assert.True(t, s.Add("b"))
	assert.False(t, s.Add("a"))

	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))
	assert.Equal(t, []string{"a", "b"}, s.List())
}

func TestSet_ListIsASnapshot(t *testing.T) {
	s := NewSet()
	s.Add("a")

	list := s.List()
	list[0] = "mutated"

	assert.Equal(t, []string{"a"}, s.List())
}

func TestSet_ConcurrentAdds(t *testing.T) {
	s := NewSet()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Add(fmt.Sprintf("job-%d", j))
				_ = s.List()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, s.Len())
}

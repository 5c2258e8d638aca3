package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualAfterFiresOnSet(t *testing.T) {
	start := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(start)

	ch := v.After(start.Add(time.Minute))
	select {
	case <-ch:
		t.Fatal("should not fire before deadline")
	default:
	}

	v.Set(start.Add(time.Minute))
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(time.Minute), got)
	default:
		t.Fatal("expected waiter to fire")
	}
}

func TestVirtualAfterPastDeadlineFiresImmediately(t *testing.T) {
	start := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(start)

	ch := v.After(start.Add(-time.Minute))
	select {
	case got := <-ch:
		assert.Equal(t, start, got)
	default:
		t.Fatal("expected immediate fire for a past deadline")
	}
}

func TestVirtualAdvanceFiresMultipleWaiters(t *testing.T) {
	start := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(start)

	ch1 := v.After(start.Add(time.Minute))
	ch2 := v.After(start.Add(2 * time.Minute))

	v.Advance(3 * time.Minute)

	require.NotEmpty(t, ch1)
	require.NotEmpty(t, ch2)
}

func TestRealAfterWithPastDeadline(t *testing.T) {
	r := Real{}
	ch := r.After(time.Now().Add(-time.Hour))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Real.After should fire immediately for a past deadline")
	}
}

package shareflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountSignalDeliversCurrentValueImmediately(t *testing.T) {
	c := newCountSignal()
	c.set(3)

	ch, unsub := c.subscribe()
	defer unsub()

	select {
	case v := <-ch:
		assert.Equal(t, 3, v)
	default:
		t.Fatal("expected immediate current value on subscribe")
	}
}

func TestCountSignalDistinctUntilChanged(t *testing.T) {
	c := newCountSignal()
	ch, unsub := c.subscribe()
	defer unsub()
	<-ch // initial 0

	c.set(0) // no-op, same as current value
	select {
	case v := <-ch:
		t.Fatalf("unexpected send for unchanged value: %d", v)
	default:
	}

	c.set(1)
	require.Equal(t, 1, <-ch)
}

func TestCountSignalDropsOldestWhenFull(t *testing.T) {
	c := newCountSignal()
	ch, unsub := c.subscribe()
	defer unsub()
	<-ch // drain initial

	c.set(1)
	c.set(2) // ch is buffered-1 and unread; 1 is replaced with 2
	assert.Equal(t, 2, <-ch)
}

func TestCountSignalGet(t *testing.T) {
	c := newCountSignal()
	assert.Equal(t, 0, c.get())
	c.set(5)
	assert.Equal(t, 5, c.get())
}

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInboxBacklogUntilHandler(t *testing.T) {
	b := &inbox{}
	b.deliver([]byte("one"))
	b.deliver([]byte("two"))

	rec := &recorder{}
	b.setHandler(b.newSlot(), rec.handle)
	b.deliver([]byte("three"))

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, rec.all())
}

func TestInboxBacklogBounded(t *testing.T) {
	b := &inbox{}
	for i := 0; i < backlogLimit+10; i++ {
		b.deliver([]byte{byte(i)})
	}

	rec := &recorder{}
	b.setHandler(b.newSlot(), rec.handle)
	assert.Equal(t, backlogLimit, rec.count())
	assert.Equal(t, []byte{0}, rec.all()[0], "oldest payloads are kept")
}

func TestRouterAdoptsUnclaimed(t *testing.T) {
	r := newRouter()
	r.route("10.0.0.5:4000", []byte("early"))

	b := r.claim("10.0.0.5:4000")
	rec := &recorder{}
	b.setHandler(b.newSlot(), rec.handle)
	r.route("10.0.0.5:4000", []byte("late"))

	assert.Equal(t, [][]byte{[]byte("early"), []byte("late")}, rec.all())
	assert.Same(t, b, r.claim("10.0.0.5:4000"))
	assert.Equal(t, 0, r.unclaimed.Len())
}

func TestRouterSeparatesAddresses(t *testing.T) {
	r := newRouter()
	a := &recorder{}
	b := &recorder{}
	ia := r.claim("10.0.0.1:1")
	ia.setHandler(ia.newSlot(), a.handle)
	ib := r.claim("10.0.0.2:2")
	ib.setHandler(ib.newSlot(), b.handle)

	r.route("10.0.0.1:1", []byte("for a"))
	r.route("10.0.0.2:2", []byte("for b"))

	assert.Equal(t, [][]byte{[]byte("for a")}, a.all())
	assert.Equal(t, [][]byte{[]byte("for b")}, b.all())
}

func TestInboxFansOutToEveryHandler(t *testing.T) {
	b := &inbox{}
	b.deliver([]byte("early"))

	first, second := &recorder{}, &recorder{}
	s1, s2 := b.newSlot(), b.newSlot()
	b.setHandler(s1, first.handle)
	b.setHandler(s2, second.handle)
	b.deliver([]byte("both"))

	assert.Equal(t, [][]byte{[]byte("early"), []byte("both")}, first.all())
	assert.Equal(t, [][]byte{[]byte("both")}, second.all())

	b.setHandler(s1, nil)
	b.deliver([]byte("second only"))
	assert.Equal(t, 2, first.count())
	assert.Equal(t, [][]byte{[]byte("both"), []byte("second only")}, second.all())
}

func TestInboxReplacesHandlerInSameSlot(t *testing.T) {
	b := &inbox{}
	slot := b.newSlot()
	old, repl := &recorder{}, &recorder{}
	b.setHandler(slot, old.handle)
	b.setHandler(slot, repl.handle)
	b.deliver([]byte("x"))

	assert.Equal(t, 0, old.count())
	assert.Equal(t, 1, repl.count())
}

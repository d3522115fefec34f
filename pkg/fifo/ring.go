package fifo

// ring holds the cursor arithmetic of a circular buffer of size slots.
// One slot is always left empty so head == tail means empty.
type ring struct {
	size int
	head int // next slot to read
	tail int // next slot to write
}

func newRing(size int) ring {
	return ring{size: size}
}

func (r ring) valid() bool {
	return r.size > 1 &&
		r.head >= 0 && r.head < r.size &&
		r.tail >= 0 && r.tail < r.size
}

func (r ring) next(i int) int {
	i++
	if i == r.size {
		return 0
	}
	return i
}

func (r ring) empty() bool { return r.head == r.tail }

func (r ring) full() bool { return r.next(r.tail) == r.head }

func (r ring) capacity() int { return r.size - 1 }

func (r ring) length() int {
	if r.tail >= r.head {
		return r.tail - r.head
	}
	return r.size - r.head + r.tail
}

func (r ring) free() int { return r.capacity() - r.length() }

// advanceTail reserves the tail slot and returns its index.
// Callers check full first.
func (r *ring) advanceTail() int {
	i := r.tail
	r.tail = r.next(r.tail)
	return i
}

// advanceHead consumes the head slot and returns its index.
// Callers check empty first.
func (r *ring) advanceHead() int {
	i := r.head
	r.head = r.next(r.head)
	return i
}

func (r *ring) drain() { r.head = r.tail }

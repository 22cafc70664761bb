package opt

import "github.com/google/btree"

// Queue is an ordered set of taxis. Ordering is fixed at construction and
// distinct taxis never compare equal, so every insert of a new taxi lands.
type Queue struct {
	tree *btree.BTreeG[*Taxi]
	cmp  func(a, b *Taxi) int
}

func newQueue(cmp func(a, b *Taxi) int) *Queue {
	return &Queue{
		tree: btree.NewG(16, func(a, b *Taxi) bool { return cmp(a, b) < 0 }),
		cmp:  cmp,
	}
}

func (q *Queue) Len() int { return q.tree.Len() }

// Has reports whether t itself (not just an equal key) is queued.
func (q *Queue) Has(t *Taxi) bool {
	got, ok := q.tree.Get(t)
	return ok && got == t
}

func (q *Queue) insert(t *Taxi) bool {
	if q.tree.Has(t) {
		return false
	}
	q.tree.ReplaceOrInsert(t)
	return true
}

func (q *Queue) remove(t *Taxi) bool {
	got, ok := q.tree.Get(t)
	if !ok || got != t {
		return false
	}
	q.tree.Delete(t)
	return true
}

// Snapshot copies the queue in order. Phases iterate snapshots so merges can
// reshape the live queue underneath them.
func (q *Queue) Snapshot() []*Taxi {
	out := make([]*Taxi, 0, q.tree.Len())
	q.tree.Ascend(func(t *Taxi) bool {
		out = append(out, t)
		return true
	})
	return out
}

// ascendFrom visits taxis >= pivot in order until fn returns false.
func (q *Queue) ascendFrom(pivot *Taxi, fn func(*Taxi) bool) {
	q.tree.AscendGreaterOrEqual(pivot, btree.ItemIteratorG[*Taxi](fn))
}

// ascendRange visits taxis in [lo, hi) in order.
func (q *Queue) ascendRange(lo, hi *Taxi, fn func(*Taxi) bool) {
	q.tree.AscendRange(lo, hi, btree.ItemIteratorG[*Taxi](fn))
}

// ascendBelow visits taxis < hi in order.
func (q *Queue) ascendBelow(hi *Taxi, fn func(*Taxi) bool) {
	q.tree.AscendLessThan(hi, btree.ItemIteratorG[*Taxi](fn))
}

// descendBefore visits taxis strictly ordered before pivot, nearest first.
func (q *Queue) descendBefore(pivot *Taxi, fn func(*Taxi) bool) {
	q.tree.DescendLessOrEqual(pivot, func(t *Taxi) bool {
		if t == pivot {
			return true
		}
		return fn(t)
	})
}

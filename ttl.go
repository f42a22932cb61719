package atom

import "time"

// ttlBucket groups removable nodes expiring within the same resolution
// window under a single timer.
type ttlBucket struct {
	at    int64 // bucket timestamp, unix millis
	nodes map[*node]struct{}
	stop  func()
}

type ttlEntry struct {
	bucket   int64
	deadline int64 // unix millis
}

// bucketNode places a removable node into the timeout bucket covering
// now+ttl. A node that still has a pending deadline keeps it: residual
// time, not a fresh TTL.
func (r *Registry) bucketNode(n *node, ttl time.Duration) {
	now := r.now().UnixMilli()

	deadline := now + ttl.Milliseconds()
	if e, ok := r.bucketOf[n]; ok {
		deadline = e.deadline
		if deadline <= now {
			r.unbucketNode(n)
			r.removeNode(n)
			return
		}
		if e.bucket >= deadline {
			return
		}
		r.unbucketNode(n)
	}

	at := nextMultipleOf(deadline, r.resolution.Milliseconds())

	b, ok := r.buckets[at]
	if !ok {
		b = &ttlBucket{at: at, nodes: make(map[*node]struct{})}
		r.buckets[at] = b
		b.stop = r.afterFunc(time.Duration(at-now)*time.Millisecond, func() {
			r.fireBucket(at)
		})
	}
	b.nodes[n] = struct{}{}
	r.bucketOf[n] = ttlEntry{bucket: at, deadline: deadline}
}

// unbucketNode drops a node from its bucket, clearing the bucket's timer
// when it empties.
func (r *Registry) unbucketNode(n *node) {
	e, ok := r.bucketOf[n]
	if !ok {
		return
	}
	delete(r.bucketOf, n)

	b, ok := r.buckets[e.bucket]
	if !ok {
		return
	}
	delete(b.nodes, n)
	if len(b.nodes) == 0 {
		b.stop()
		delete(r.buckets, e.bucket)
	}
}

func (r *Registry) fireBucket(at int64) {
	unlock := r.lock()
	defer unlock()
	if r.disposed {
		return
	}

	b, ok := r.buckets[at]
	if !ok {
		return
	}
	delete(r.buckets, at)

	swept := 0
	for n := range b.nodes {
		delete(r.bucketOf, n)
		if n.canBeRemoved() {
			r.removeNode(n)
			swept++
		}
	}
	if swept > 0 {
		r.log.WithField("count", swept).Trace("idle ttl sweep")
	}
}

func nextMultipleOf(v, m int64) int64 {
	if m <= 0 {
		return v
	}
	if rem := v % m; rem != 0 {
		return v + m - rem
	}
	return v
}

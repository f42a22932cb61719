package atom

import (
	"runtime"
	"sync"
	"weak"
)

// Family memoizes a keyed atom factory so every call with the same key
// returns the same atom. Entries hold the description weakly; once an atom
// becomes unreachable its entry is cleaned up.
func Family[K comparable, A any](f func(K) Atom[A]) func(K) Atom[A] {
	var mu sync.Mutex
	entries := make(map[K]weak.Pointer[desc])

	return func(k K) Atom[A] {
		mu.Lock()
		defer mu.Unlock()

		if wp, ok := entries[k]; ok {
			if d := wp.Value(); d != nil {
				return Atom[A]{d}
			}
		}

		a := f(k)
		d := a.atomDesc()
		entries[k] = weak.Make(d)
		runtime.AddCleanup(d, func(key K) {
			mu.Lock()
			defer mu.Unlock()
			if wp, ok := entries[key]; ok && wp.Value() == nil {
				delete(entries, key)
			}
		}, k)
		return Atom[A]{d}
	}
}

package redistest

import (
	"errors"
	"sort"
	"time"
)

// kind is the data type stored under a key
type kind int

const (
	kindString kind = iota + 1
	kindList
	kindSet
	kindZSet
	kindHash
)

// String returns the type name reported by TYPE
func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindList:
		return "list"
	case kindSet:
		return "set"
	case kindZSet:
		return "zset"
	case kindHash:
		return "hash"
	default:
		return "none"
	}
}

var errWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// entry is a stored value with its optional expiry
type entry struct {
	kind     kind
	str      []byte
	list     [][]byte
	set      map[string]struct{}
	zset     map[string]float64
	hash     map[string][]byte
	expireAt time.Time
}

func newEntry(k kind) *entry {
	e := &entry{kind: k}
	switch k {
	case kindSet:
		e.set = make(map[string]struct{})
	case kindZSet:
		e.zset = make(map[string]float64)
	case kindHash:
		e.hash = make(map[string][]byte)
	}
	return e
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// empty reports whether a collection has lost its last element
func (e *entry) empty() bool {
	switch e.kind {
	case kindList:
		return len(e.list) == 0
	case kindSet:
		return len(e.set) == 0
	case kindZSet:
		return len(e.zset) == 0
	case kindHash:
		return len(e.hash) == 0
	default:
		return false
	}
}

// database is one numbered keyspace. Access is serialized by the server.
type database map[string]*entry

// keyspace holds the numbered databases, created on first use
type keyspace struct {
	dbs map[int]database
}

func newKeyspace() *keyspace {
	return &keyspace{dbs: make(map[int]database)}
}

func (ks *keyspace) db(n int) database {
	d, ok := ks.dbs[n]
	if !ok {
		d = make(database)
		ks.dbs[n] = d
	}
	return d
}

// get returns the live entry under key, dropping it if it has expired
func (d database) get(key string) *entry {
	e, ok := d[key]
	if !ok {
		return nil
	}
	if e.expired(time.Now()) {
		delete(d, key)
		return nil
	}
	return e
}

// typed returns the entry under key if it holds k. With create, a missing
// key gets a fresh entry.
func (d database) typed(key string, k kind, create bool) (*entry, error) {
	e := d.get(key)
	if e == nil {
		if !create {
			return nil, nil
		}
		e = newEntry(k)
		d[key] = e
		return e, nil
	}
	if e.kind != k {
		return nil, errWrongType
	}
	return e, nil
}

// prune removes key once its collection is empty
func (d database) prune(key string, e *entry) {
	if e != nil && e.empty() {
		delete(d, key)
	}
}

// keys returns the live keys matching pattern, sorted
func (d database) keys(pattern string) []string {
	now := time.Now()
	var out []string
	for k, e := range d {
		if e.expired(now) {
			delete(d, k)
			continue
		}
		if matchGlob(pattern, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (d database) size() int {
	now := time.Now()
	n := 0
	for k, e := range d {
		if e.expired(now) {
			delete(d, k)
			continue
		}
		n++
	}
	return n
}

// matchGlob matches s against a glob pattern: '*' any run, '?' one byte,
// '[...]' a class with ranges and '^' negation, '\' escapes. Unlike
// path.Match, '*' also matches '/'.
func matchGlob(pattern, s string) bool {
	px, sx := 0, 0
	// backtrack point of the last '*'
	starPx, starSx := -1, 0

	for sx < len(s) {
		if px < len(pattern) {
			switch c := pattern[px]; c {
			case '*':
				starPx, starSx = px, sx
				px++
				continue
			case '?':
				px++
				sx++
				continue
			case '[':
				if end, ok := matchClass(pattern, px, s[sx]); end > 0 {
					if ok {
						px = end
						sx++
						continue
					}
				} else if s[sx] == '[' {
					px++
					sx++
					continue
				}
			case '\\':
				if px+1 < len(pattern) && pattern[px+1] == s[sx] {
					px += 2
					sx++
					continue
				}
			default:
				if c == s[sx] {
					px++
					sx++
					continue
				}
			}
		}
		if starPx < 0 {
			return false
		}
		starSx++
		px, sx = starPx+1, starSx
	}

	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}

// matchClass evaluates the class starting at pattern[start] == '[' against
// b. It returns the index after the closing ']', or 0 when the class is
// unterminated.
func matchClass(pattern string, start int, b byte) (int, bool) {
	i := start + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}

	matched := false
	first := true
	for i < len(pattern) {
		c := pattern[i]
		if c == ']' && !first {
			return i + 1, matched != negate
		}
		first = false
		if c == '\\' && i+1 < len(pattern) {
			i++
			c = pattern[i]
		}
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			lo, hi := c, pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if b >= lo && b <= hi {
				matched = true
			}
			i += 3
			continue
		}
		if c == b {
			matched = true
		}
		i++
	}
	return 0, false
}

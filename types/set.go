package types

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mitchellh/hashstructure"
)

// Set is an insertion ordered set; elements are keyed by their structure hash
type Set[T any] struct {
	hash     map[uint64]int
	storage  []T
	funcHash func(T) uint64
}

func NewSet[T any](values ...T) *Set[T] {
	set := &Set[T]{
		hash:    make(map[uint64]int),
		storage: []T{},
	}

	set.Insert(values...)
	return set
}

// WithHasher overrides the hash used for identity of elements
func (st *Set[T]) WithHasher(f func(T) uint64) *Set[T] {
	st.funcHash = f
	return st
}

func (st *Set[T]) getHash(value T) uint64 {
	if st.funcHash != nil {
		return st.funcHash(value)
	}

	hash, err := hashstructure.Hash(value, nil)
	if err != nil {
		// fallback to printed representation; only reachable for unhashable kinds (func, chan)
		hash, _ = hashstructure.Hash(fmt.Sprintf("%#v", value), nil)
	}

	return hash
}

func (st *Set[T]) Insert(values ...T) {
	if st.hash == nil {
		st.hash = make(map[uint64]int)
	}
	for _, value := range values {
		hash := st.getHash(value)
		if _, found := st.hash[hash]; found {
			continue
		}

		st.hash[hash] = len(st.storage)
		st.storage = append(st.storage, value)
	}
}

func (st *Set[T]) Exists(value T) bool {
	if st == nil {
		return false
	}
	_, found := st.hash[st.getHash(value)]
	return found
}

func (st *Set[T]) Remove(value T) {
	hash := st.getHash(value)
	index, found := st.hash[hash]
	if !found {
		return
	}

	st.storage = append(st.storage[:index], st.storage[index+1:]...)
	delete(st.hash, hash)
	for i := index; i < len(st.storage); i++ {
		st.hash[st.getHash(st.storage[i])] = i
	}
}

func (st *Set[T]) Len() int {
	if st == nil {
		return 0
	}
	return len(st.storage)
}

// Array returns a copy of the elements in insertion order
func (st *Set[T]) Array() []T {
	if st == nil {
		return nil
	}
	out := make([]T, len(st.storage))
	copy(out, st.storage)
	return out
}

func (st *Set[T]) Range(f func(value T) bool) {
	for _, value := range st.storage {
		if !f(value) {
			return
		}
	}
}

func (st *Set[T]) String() string {
	parts := make([]string, 0, len(st.storage))
	for _, value := range st.storage {
		parts = append(parts, fmt.Sprint(value))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (st *Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(st.storage)
}

func (st *Set[T]) UnmarshalJSON(data []byte) error {
	var values []T
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}

	*st = *NewSet(values...)
	return nil
}

func hashString(value string) uint64 {
	hash, _ := hashstructure.Hash(value, nil)
	return hash
}

package pebble

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/geotrust/geomatch/pkg/db"
)

type Iterator struct {
	iter       *pebble.Iterator
	positioned bool
}

// NewIterator iterates keys in [start, end) in ascending byte order.
func (p *KVStore) NewIterator(start, end []byte) (db.Iterator, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: end,
	})
	if err != nil {
		return nil, fmt.Errorf(ErrInIteratorCreation, err)
	}
	return &Iterator{iter: iter}, nil
}

// Next advances to the next key, positioning at the first key on the
// initial call. Once it returns false the iterator stays exhausted.
func (it *Iterator) Next() bool {
	if !it.positioned {
		it.positioned = true
		return it.iter.First()
	}
	if !it.iter.Valid() {
		return false
	}
	return it.iter.Next()
}

// Key returns a copy of the current key; the underlying buffer is only
// valid until the next advance.
func (it *Iterator) Key() []byte {
	key := it.iter.Key()
	result := make([]byte, len(key))
	copy(result, key)
	return result
}

// Value returns a copy of the current value.
func (it *Iterator) Value() ([]byte, error) {
	if !it.iter.Valid() {
		return nil, ErrIteratorInvalid
	}
	val, err := it.iter.ValueAndErr()
	if err != nil {
		return nil, fmt.Errorf(ErrIteratorValue, err)
	}
	result := make([]byte, len(val))
	copy(result, val)
	return result, nil
}

func (it *Iterator) Valid() bool {
	return it.iter.Valid()
}

func (it *Iterator) Close() error {
	return it.iter.Close()
}

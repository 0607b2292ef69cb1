package corpus

import "math/rand"

// Shuffler is a bounded shuffle buffer. It holds at most size records; each
// emitted record is drawn uniformly from the buffer and its slot is refilled
// from the source. A buffer at least as large as the corpus gives a uniform
// permutation.
type Shuffler struct {
	r    *rand.Rand
	size int
	buf  []Record
}

// NewShuffler creates a shuffle buffer holding up to size records.
func NewShuffler(size int, r *rand.Rand) *Shuffler {
	if size < 1 {
		size = 1
	}
	return &Shuffler{
		r:    r,
		size: size,
		buf:  make([]Record, 0, size),
	}
}

// Next returns the next shuffled record, pulling from src as needed. ok is false
// once both src and the buffer are exhausted.
func (s *Shuffler) Next(src func() (Record, bool, error)) (rec Record, ok bool, err error) {
	for len(s.buf) < s.size {
		var more bool
		if rec, more, err = src(); err != nil {
			return Record{}, false, err
		}
		if !more {
			break
		}
		s.buf = append(s.buf, rec)
	}
	if len(s.buf) == 0 {
		return Record{}, false, nil
	}

	i := s.r.Intn(len(s.buf))
	rec = s.buf[i]
	last := len(s.buf) - 1
	s.buf[i] = s.buf[last]
	s.buf[last] = Record{}
	s.buf = s.buf[:last]
	return rec, true, nil
}

// Len is the number of buffered records.
func (s *Shuffler) Len() int { return len(s.buf) }

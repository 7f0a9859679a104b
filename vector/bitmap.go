package vector

// Bitmap is a growable validity bitmap. A set bit means the value at
// that row is valid (non-null).
type Bitmap struct {
	words []uint64
	n     int
}

func NewBitmap(n int) *Bitmap {
	return &Bitmap{words: make([]uint64, (n+63)/64), n: n}
}

func (b *Bitmap) Len() int { return b.n }

func (b *Bitmap) Get(i int) bool {
	return b.words[i>>6]&(1<<uint(i&63)) != 0
}

func (b *Bitmap) Set(i int, v bool) {
	if v {
		b.words[i>>6] |= 1 << uint(i&63)
	} else {
		b.words[i>>6] &^= 1 << uint(i&63)
	}
}

func (b *Bitmap) Append(v bool) {
	if b.n>>6 == len(b.words) {
		b.words = append(b.words, 0)
	}
	b.n++
	b.Set(b.n-1, v)
}

// CountSet returns the number of valid rows.
func (b *Bitmap) CountSet() int {
	count := 0
	for i := 0; i < b.n; i++ {
		if b.Get(i) {
			count++
		}
	}
	return count
}

func (b *Bitmap) Clone() *Bitmap {
	words := make([]uint64, len(b.words))
	copy(words, b.words)
	return &Bitmap{words: words, n: b.n}
}

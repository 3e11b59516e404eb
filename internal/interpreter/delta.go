package interpreter

// DeltaNormalizer turns running translation snapshots into increments. A
// chunk that is a prefix of the text so far is a repeat and adds nothing; a
// chunk that diverges from it is appended.
type DeltaNormalizer struct {
	text string
}

// Push folds chunk into the running text and returns what it added.
func (d *DeltaNormalizer) Push(chunk string) string {
	lcp := commonPrefixLen(d.text, chunk)
	switch {
	case lcp == len(d.text):
		delta := chunk[lcp:]
		d.text = chunk
		return delta
	case lcp == len(chunk):
		return ""
	default:
		d.text += chunk
		return chunk
	}
}

func (d *DeltaNormalizer) Text() string {
	return d.text
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

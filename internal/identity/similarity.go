package identity

import "strings"

// Similarity returns a Ratcliff/Obershelp ratio in [0,1] between two strings,
// case-insensitive. Empty input on either side scores zero so sparse profiles
// are not penalized with false positives.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	matched := matchedChars(a, b)
	return float64(2*matched) / float64(len(a)+len(b))
}

// matchedChars totals the characters covered by recursively taking the
// longest common substring and matching the flanks.
func matchedChars(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchedChars(a[:ai], b[:bi])
	total += matchedChars(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonSubstring(a, b string) (ai, bi, size int) {
	// lengths[j] holds the run length ending at a[i], b[j] for the current i.
	lengths := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		prev := 0
		for j := 0; j < len(b); j++ {
			cur := lengths[j+1]
			if a[i] == b[j] {
				run := prev + 1
				lengths[j+1] = run
				if run > size {
					size = run
					ai = i - run + 1
					bi = j - run + 1
				}
			} else {
				lengths[j+1] = 0
			}
			prev = cur
		}
	}
	return ai, bi, size
}

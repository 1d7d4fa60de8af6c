package chat

// fitWindow returns prior ++ next, dropping the oldest prior tokens so the
// result is at most limit long. Cuts land on turn boundaries: a dropped
// prefix always ends just after an end-of-turn marker, or takes all of prior.
// If next alone exceeds limit, only its newest limit tokens are kept.
func fitWindow(prior, next []int, limit, eot int) []int {
	if len(next) >= limit {
		out := make([]int, limit)
		copy(out, next[len(next)-limit:])
		return out
	}

	if budget := limit - len(next); len(prior) > budget {
		cut := len(prior) - budget
		for cut < len(prior) && prior[cut-1] != eot {
			cut++
		}
		prior = prior[cut:]
	}

	out := make([]int, 0, len(prior)+len(next))
	out = append(out, prior...)
	return append(out, next...)
}

func hasPrefix(seq, prefix []int) bool {
	if len(seq) < len(prefix) {
		return false
	}
	for i := range prefix {
		if seq[i] != prefix[i] {
			return false
		}
	}
	return true
}

package tokenizer

import "fmt"

// Bytes is the fallback used when a checkpoint ships no tokenizer: ids below
// 256 are raw bytes and every other id is special.
type Bytes struct {
	Vocab int
}

func (b Bytes) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (b Bytes) Decode(ids []int) (string, error) { return b.decode(ids, false) }

func (b Bytes) DecodeSkipSpecial(ids []int) (string, error) { return b.decode(ids, true) }

func (b Bytes) decode(ids []int, skipSpecial bool) (string, error) {
	out := make([]byte, 0, len(ids))
	for _, id := range ids {
		switch {
		case id < 0 || (b.Vocab > 0 && id >= b.Vocab):
			return "", fmt.Errorf("tokenizer: token id %d out of range", id)
		case id < 256:
			out = append(out, byte(id))
		case !skipSpecial:
			out = fmt.Appendf(out, "<%d>", id)
		}
	}
	return string(out), nil
}

func (b Bytes) TokenID(token string) (int, bool) {
	if len(token) == 1 {
		return int(token[0]), true
	}
	return 0, false
}

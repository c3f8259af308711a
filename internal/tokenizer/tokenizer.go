// Package tokenizer maps between decoder token ids and text.
package tokenizer

// Tokenizer is the surface the model needs for prompts and detokenization.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	// DecodeSkipSpecial drops special tokens such as end-of-text markers.
	DecodeSkipSpecial(ids []int) (string, error)
	TokenID(token string) (int, bool)
}

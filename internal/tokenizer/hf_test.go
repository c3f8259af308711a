package tokenizer

import (
	"os"
	"path/filepath"
	"testing"
)

const tinyTokenizerJSON = `{
	"model": {
		"type": "BPE",
		"vocab": {"<": 1, "s": 2, "v": 3, "g": 4, "Ġ": 5, "/": 6, ">": 7, "sv": 8, "svg": 9, "r": 10},
		"merges": ["s v", ["sv", "g"]]
	},
	"added_tokens": [
		{"id": 0, "content": "<|endoftext|>", "special": true},
		{"id": 11, "content": "<fim_pad>", "special": true}
	]
}`

const tinyTokenizerConfig = `{
	"bos_token": "<|endoftext|>",
	"eos_token": {"content": "<|endoftext|>", "special": true},
	"pad_token": "<fim_pad>",
	"add_bos_token": false
}`

func loadTiny(t *testing.T) *HFTokenizer {
	t.Helper()
	tok, err := LoadHFTokenizerBytes([]byte(tinyTokenizerJSON), []byte(tinyTokenizerConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return tok
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tok := loadTiny(t)
	ids, err := tok.Encode("<svg/>")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []int{1, 9, 6, 7}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	text, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "<svg/>" {
		t.Fatalf("decode = %q", text)
	}
}

func TestDecodeSkipSpecial(t *testing.T) {
	t.Parallel()

	tok := loadTiny(t)
	ids, err := tok.Encode("<svg/><|endoftext|><fim_pad>")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := ids[len(ids)-2:]; got[0] != 0 || got[1] != 11 {
		t.Fatalf("special ids = %v", got)
	}

	full, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if full != "<svg/><|endoftext|><fim_pad>" {
		t.Fatalf("decode = %q", full)
	}
	plain, err := tok.DecodeSkipSpecial(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if plain != "<svg/>" {
		t.Fatalf("skip special = %q", plain)
	}

	if _, err := tok.Decode([]int{99}); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestSpecialTokenIDs(t *testing.T) {
	t.Parallel()

	tok := loadTiny(t)
	if tok.EOSID() != 0 || tok.BOSID() != 0 {
		t.Fatalf("bos/eos = %d/%d", tok.BOSID(), tok.EOSID())
	}
	if tok.PadID() != 11 {
		t.Fatalf("pad = %d", tok.PadID())
	}
	if id, ok := tok.TokenID("svg"); !ok || id != 9 {
		t.Fatalf("TokenID(svg) = %d, %v", id, ok)
	}
	if tok.VocabSize() != 12 {
		t.Fatalf("vocab = %d", tok.VocabSize())
	}
}

func TestLoadHFTokenizerFromFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tj := filepath.Join(dir, "tokenizer.json")
	if err := os.WriteFile(tj, []byte(tinyTokenizerJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	// A missing config file is tolerated.
	tok, err := LoadHFTokenizer(tj, filepath.Join(dir, "tokenizer_config.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tok.EOSID() != -1 {
		t.Fatalf("eos without config = %d", tok.EOSID())
	}
}

func TestRejectsUnsupportedModel(t *testing.T) {
	t.Parallel()

	_, err := LoadHFTokenizerBytes([]byte(`{"model":{"type":"WordPiece","vocab":{},"merges":[]}}`), nil)
	if err == nil {
		t.Fatalf("expected unsupported tokenizer model error")
	}
}

func TestBytesFallback(t *testing.T) {
	t.Parallel()

	b := Bytes{Vocab: 300}
	ids, _ := b.Encode("<g/>")
	ids = append(ids, 299)
	s, err := b.DecodeSkipSpecial(ids)
	if err != nil || s != "<g/>" {
		t.Fatalf("skip special = %q, %v", s, err)
	}
	s, _ = b.Decode(ids)
	if s != "<g/><299>" {
		t.Fatalf("decode = %q", s)
	}
	if _, err := b.Decode([]int{300}); err == nil {
		t.Fatalf("expected out of range error")
	}
}

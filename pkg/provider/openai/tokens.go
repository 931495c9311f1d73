package openai

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// EstimateTokens counts the tokens text would occupy for model. Models the
// tokenizer does not know fall back to the cl100k_base encoding, which is
// close enough for bookkeeping.
func EstimateTokens(model string, text string) (int, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return 0, errors.Wrap(err, "could not load fallback tokenizer")
		}
	}

	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "could not tokenize text")
	}
	return len(ids), nil
}

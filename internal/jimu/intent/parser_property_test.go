package intent_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

func mentionsEntity(v *vocab.Vocabulary, text string) bool {
	tokens := vocab.Tokenise(text)
	for _, ek := range v.Entities {
		for _, kw := range ek.Keywords {
			if vocab.ContainsPhrase(tokens, kw) {
				return true
			}
		}
	}
	return false
}

// TestParseNeverFails verifies Parse returns a usable draft for any input.
// Property: Parse(s).Intent != "" and Parse(s).Filters != nil
func TestParseNeverFails(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	p := newParser()

	properties.Property("parse always yields a draft", prop.ForAll(
		func(s string) bool {
			d := p.Parse(s)
			return d.Intent != "" && d.Filters != nil && d.Raw == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestParseLeavesEntityUnset verifies that text without an entity keyword
// never gets an entity hint.
// Property: !mentionsEntity(s) => Parse(s).EntityType == ""
func TestParseLeavesEntityUnset(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	p := newParser()
	v := vocab.Default()

	properties.Property("no entity keyword means no entity", prop.ForAll(
		func(words []string) bool {
			text := ""
			for _, w := range words {
				text += w + " "
			}
			if mentionsEntity(v, text) {
				return true
			}
			return p.Parse(text).EntityType == ""
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

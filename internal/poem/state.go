// Package poem defines the poem flow: pick a sentence count, write two poems
// in parallel, classify the first one's length and save both to a file.
package poem

import (
	"unicode/utf8"

	"github.com/fruitflow/fruitflow/pkg/validation"
)

const (
	MinSentences = 1
	MaxSentences = 5

	// ShortThreshold is the rune count below which a poem is short.
	ShortThreshold = 150
)

// Length classifies a poem.
type Length string

const (
	LengthUnset Length = ""
	LengthShort Length = "short"
	LengthLong  Length = "long"
)

// State is the record shared by the steps of one run.
type State struct {
	ID            string `json:"id" mapstructure:"id" validate:"required"`
	SentenceCount int    `json:"sentence_count" mapstructure:"sentence_count" validate:"min=1,max=5"`
	Poem1         string `json:"poem1" mapstructure:"poem1"`
	Poem1Length   Length `json:"poem1_length" mapstructure:"poem1_length" validate:"omitempty,oneof=short long"`
	Poem2         string `json:"poem2" mapstructure:"poem2"`
}

// NewState returns the initial state of run id.
func NewState(id string) State {
	return State{ID: id, SentenceCount: MinSentences}
}

// Validate checks field constraints.
func (s State) Validate() error {
	return validation.Struct(s)
}

// ClassifyLength returns LengthShort when poem has fewer than ShortThreshold
// code points.
func ClassifyLength(poem string) Length {
	if utf8.RuneCountInString(poem) < ShortThreshold {
		return LengthShort
	}
	return LengthLong
}

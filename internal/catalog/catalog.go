// Package catalog holds the fixed, ordered list of interview questions.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Question is a single catalog entry.
type Question struct {
	Key  string `mapstructure:"key"`
	Text string `mapstructure:"text"`
}

// Catalog is immutable once built.
type Catalog struct {
	questions []Question
}

var defaultQuestions = []string{
	"What problem does your project aim to solve?",
	"Who is your target audience? How will you acquire them?",
	"What is your unique value proposition?",
	"Do you have a prototype or MVP? If so, do you have any traction?",
	"Tell me about your team and their backgrounds. Have you worked together before?",
	"How much are you looking to raise? Do you have a lead investor?",
}

// Default returns the built-in six question catalog.
func Default() *Catalog {
	c, _ := FromTexts(defaultQuestions)
	return c
}

// FromTexts builds a catalog from plain question texts.
func FromTexts(texts []string) (*Catalog, error) {
	raw := make([]any, 0, len(texts))
	for _, text := range texts {
		raw = append(raw, text)
	}
	return FromConfig(raw)
}

// FromConfig decodes the `questions` configuration value. Every item is either
// a plain string or a map with `key` and `text` entries.
func FromConfig(raw []any) (*Catalog, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("question catalog must not be empty")
	}

	questions := make([]Question, 0, len(raw))
	for i, item := range raw {
		var q Question

		switch val := item.(type) {
		case string:
			q.Text = val
		default:
			if err := mapstructure.Decode(val, &q); err != nil {
				return nil, fmt.Errorf("question %d: %w", i+1, err)
			}
		}

		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			return nil, fmt.Errorf("question %d: text is empty", i+1)
		}

		q.Key = strings.TrimSpace(q.Key)
		if q.Key == "" {
			q.Key = "q" + strconv.Itoa(i+1)
		}

		questions = append(questions, q)
	}

	return &Catalog{questions: questions}, nil
}

// Len returns the number of questions.
func (c *Catalog) Len() int { return len(c.questions) }

// At returns the question with 1-based number n.
func (c *Catalog) At(n int) (Question, bool) {
	if n < 1 || n > len(c.questions) {
		return Question{}, false
	}
	return c.questions[n-1], true
}

// Texts returns a copy of the question texts in order.
func (c *Catalog) Texts() []string {
	texts := make([]string, 0, len(c.questions))
	for _, q := range c.questions {
		texts = append(texts, q.Text)
	}
	return texts
}

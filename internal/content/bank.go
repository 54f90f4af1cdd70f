// Package content supplies round questions and grades answers, either from a
// YAML question bank or from a remote content service.
package content

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"
	"unicode"

	"AgentArena/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultBank []byte

var (
	ErrUnknownQuestion = errors.New("unknown question")
	ErrEmptyBank       = errors.New("question bank is empty")
)

type bankQuestion struct {
	domain.Question `yaml:",inline"`
	Answers         []string `yaml:"answers"`
}

type bankFile struct {
	Questions []bankQuestion `yaml:"questions"`
}

// Bank is an in-memory question set. It is safe for concurrent use.
type Bank struct {
	mu sync.Mutex

	byID       map[string]bankQuestion
	byCategory map[string][]string
	all        []string

	// Intn picks an index in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int
}

// DefaultBank returns the bank compiled into the binary.
func DefaultBank() (*Bank, error) {
	return ParseBank(defaultBank)
}

// LoadBank reads a YAML bank from path.
func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	return ParseBank(data)
}

func ParseBank(data []byte) (*Bank, error) {
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}

	b := &Bank{
		byID:       make(map[string]bankQuestion, len(f.Questions)),
		byCategory: map[string][]string{},
	}
	for i, q := range f.Questions {
		q.ID = strings.TrimSpace(q.ID)
		q.Category = strings.ToLower(strings.TrimSpace(q.Category))
		if q.ID == "" || strings.TrimSpace(q.Prompt) == "" || len(q.Answers) == 0 {
			return nil, fmt.Errorf("question bank entry %d: id, prompt and answers are required", i)
		}
		if _, dup := b.byID[q.ID]; dup {
			return nil, fmt.Errorf("question bank entry %d: duplicate id %q", i, q.ID)
		}
		if q.Category == "" {
			q.Category = domain.DefaultCategory
		}
		for j, a := range q.Answers {
			q.Answers[j] = normalizeAnswer(a)
		}
		b.byID[q.ID] = q
		b.byCategory[q.Category] = append(b.byCategory[q.Category], q.ID)
		b.all = append(b.all, q.ID)
	}
	if len(b.all) == 0 {
		return nil, ErrEmptyBank
	}
	return b, nil
}

// NextQuestion draws a question from category that is not in exclude. An
// unknown category draws from the whole bank. Once every candidate has been
// used the exclusion is dropped.
func (b *Bank) NextQuestion(ctx context.Context, category string, exclude []string) (domain.Question, error) {
	candidates, ok := b.byCategory[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		candidates = b.all
	}

	fresh := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if !slices.Contains(exclude, id) {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		fresh = candidates
	}

	q := b.byID[fresh[b.pick(len(fresh))]]
	return q.Question, nil
}

// Grade reports whether answer matches one of the accepted answers. Case,
// surrounding punctuation and repeated whitespace are ignored.
func (b *Bank) Grade(ctx context.Context, questionID, answer string) (bool, error) {
	q, ok := b.byID[questionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	return slices.Contains(q.Answers, normalizeAnswer(answer)), nil
}

func (b *Bank) Len() int { return len(b.all) }

func (b *Bank) pick(n int) int {
	if b.Intn == nil {
		return rand.IntN(n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Intn(n)
}

func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != '/'
	})
}

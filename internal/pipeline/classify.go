package pipeline

import (
	"regexp"
	"strings"

	"ticketscan/internal/util"
)

var customerPattern = regexp.MustCompile(`[A-Z]+, [A-Z]+`)

// Vocabulary holds the ticket-layout specific words the field patterns look for.
type Vocabulary struct {
	StreetSuffixes []string
	TaskKeywords   []string
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		StreetSuffixes: []string{"RD", "AVE", "LANE", "PLACE", "DR", "ROAD", "CIR", "WAY", "HILL"},
		TaskKeywords:   []string{"TUESDAY", "MAINT", "OPENING", "VACUUM"},
	}
}

// WithOverrides replaces each list that is non-empty in the arguments.
func (v Vocabulary) WithOverrides(streetSuffixes, taskKeywords []string) Vocabulary {
	if len(streetSuffixes) > 0 {
		v.StreetSuffixes = streetSuffixes
	}
	if len(taskKeywords) > 0 {
		v.TaskKeywords = taskKeywords
	}
	return v
}

type Field int

const (
	FieldCustomer Field = iota
	FieldAddress
	FieldProduct
)

func (f Field) String() string {
	switch f {
	case FieldCustomer:
		return "customer"
	case FieldAddress:
		return "address"
	case FieldProduct:
		return "product"
	default:
		return "unknown"
	}
}

// Classifier tests a clean line against the customer, address and product shapes.
// A nil pattern (empty vocabulary) never matches.
type Classifier struct {
	customer *regexp.Regexp
	address  *regexp.Regexp
	product  *regexp.Regexp
}

func NewClassifier(vocab Vocabulary) *Classifier {
	c := &Classifier{customer: customerPattern}
	if alt := alternation(vocab.StreetSuffixes); alt != "" {
		c.address = regexp.MustCompile(`\d{1,5} [A-Z ]+ (` + alt + `)`)
	}
	if alt := alternation(vocab.TaskKeywords); alt != "" {
		c.product = regexp.MustCompile(`(` + alt + `)`)
	}
	return c
}

func (c *Classifier) Matches(field Field, line string) bool {
	var re *regexp.Regexp
	switch field {
	case FieldCustomer:
		re = c.customer
	case FieldAddress:
		re = c.address
	case FieldProduct:
		re = c.product
	}
	return re != nil && re.MatchString(line)
}

// fieldSet is the per-window accumulator; the first line to match a field keeps it.
type fieldSet struct {
	customer string
	address  string
	product  string
}

func (c *Classifier) absorb(fs *fieldSet, line string) {
	if fs.customer == "" && c.Matches(FieldCustomer, line) {
		fs.customer = util.TitleCase(line)
	}
	if fs.address == "" && c.Matches(FieldAddress, line) {
		fs.address = util.TitleCase(line)
	}
	if fs.product == "" && c.Matches(FieldProduct, line) {
		fs.product = util.TitleCase(line)
	}
}

func alternation(words []string) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToUpper(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(w))
	}
	return strings.Join(parts, "|")
}

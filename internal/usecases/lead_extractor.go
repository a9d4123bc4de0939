package usecases

import (
	"regexp"
	"strings"
	"unicode"

	"converta/internal/repository"
)

// LeadCandidate is contact data guessed from free text
type LeadCandidate struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// HasContact reports whether the candidate can be stored as a lead
func (c LeadCandidate) HasContact() bool {
	return c.Phone != "" || c.Email != ""
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{2}[\s.\-]?)?\(?\d{2}\)?[\s.\-]?9?\s?\d{4}[\s.\-]?\d{4}`)
	namePattern  = regexp.MustCompile(`(?i)\b(?:meu nome é|meu nome e|me chamo|aqui é|aqui e|my name is|sou o|sou a)\s+([\p{L}']+(?:\s+[\p{L}']+){0,3})`)
)

var nameStopwords = map[string]bool{
	"e": true, "and": true, "meu": true, "minha": true, "my": true, "o": true, "a": true,
	"telefone": true, "tel": true, "celular": true, "whatsapp": true, "email": true,
	"quero": true, "gostaria": true, "com": true, "from": true,
}

var nameParticles = map[string]bool{"da": true, "de": true, "do": true, "dos": true, "das": true}

// ExtractLead pulls a name, phone and email out of a message with regular
// expressions. It favours precision over recall: names are only taken from
// explicit introductions ("meu nome é", "me chamo", "my name is"), phones
// need 10 to 13 digits and the first match of each kind wins. Results are
// stored unconfirmed for a human to review.
func ExtractLead(text string) LeadCandidate {
	var c LeadCandidate

	if m := emailPattern.FindString(text); m != "" {
		c.Email = strings.ToLower(strings.TrimRight(m, "."))
	}

	scrubbed := emailPattern.ReplaceAllString(text, " ")
	for _, m := range phonePattern.FindAllString(scrubbed, -1) {
		phone := repository.NormalizePhone(m)
		digits := strings.TrimPrefix(phone, "+")
		if len(digits) >= 10 && len(digits) <= 13 {
			c.Phone = phone
			break
		}
	}

	if m := namePattern.FindStringSubmatch(text); m != nil {
		c.Name = cleanName(m[1])
	}
	return c
}

func cleanName(raw string) string {
	var words []string
	for _, w := range strings.Fields(raw) {
		lower := strings.ToLower(w)
		if nameStopwords[lower] {
			break
		}
		if nameParticles[lower] {
			if len(words) == 0 {
				break
			}
			words = append(words, lower)
			continue
		}
		words = append(words, titleWord(lower))
	}
	for len(words) > 0 && nameParticles[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	r := []rune(w)
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

package extract

import (
	"errors"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// NotInformed is stored for descriptive fields the profile leaves blank.
const NotInformed = "Não informado"

// ErrNoProfile is returned for detail pages without a candidate profile,
// typically a login page served after the session expired.
var ErrNoProfile = errors.New("page has no candidate profile")

var (
	reName          = regexp.MustCompile(`(?s)<div id="divCandidateName"[^>]*>.*?<div class="font-4xl fw-600 lh-120 text-capitalize-first">([^<]+)</div>`)
	reJob           = regexp.MustCompile(`<div[^>]*class="[^"]*mb-05[^"]*font-2lg[^"]*"[^>]*>([^<]+)</div>`)
	rePhone         = regexp.MustCompile(`<input[^>]*type="hidden"[^>]*id="hdnPhone"[^>]*name="Phone"[^>]*value="([^"]+)"`)
	reEmail         = regexp.MustCompile(`(?s)<i class="icon icon-paperplane"></i>.*?<span>([^<]+)</span>`)
	reSalary        = regexp.MustCompile(`(?s)Pretensão salarial\s*:.*?<span class="[^"]*c-drk[^"]*">([^<]+)</span>`)
	reAddress       = regexp.MustCompile(`(?s)<i class="icon icon-location-pin-2-o"></i>.*?<span>([^<]+)</span>`)
	reWorkingHours  = regexp.MustCompile(`(?s)<div id="WorkingHours"[^>]*>.*?<div class="col-9">\s*<div>([^<]+)</div>`)
	reContractType  = regexp.MustCompile(`(?s)<div id="ContractWorkType"[^>]*>.*?<div class="col-9">\s*<div>([^<]+)</div>`)
	reGenderMarital = regexp.MustCompile(`(?s)<div class="match-personal-data[^"]*">.*?<div class="c-md">\s*([^<]+?)(?:\s+de\s+\d+\s+Anos)?\s*</div>`)
	reBirthDate     = regexp.MustCompile(`(?s)<div class="match-personal-data[^"]*">.*?\(Nasceu\s+([^)]+)\)`)

	reMoney    = regexp.MustCompile(`R\$\s*([\d.,]+)`)
	reDayMonth = regexp.MustCompile(`(\d{1,2})\s+(?:de\s+)?([a-z]+)\s+de\s+(\d{4})`)
)

var months = map[string]time.Month{
	"janeiro": time.January, "fevereiro": time.February, "marco": time.March,
	"abril": time.April, "maio": time.May, "junho": time.June,
	"julho": time.July, "agosto": time.August, "setembro": time.September,
	"outubro": time.October, "novembro": time.November, "dezembro": time.December,
}

type keyword struct {
	word  string
	label string
}

// Checked in order; the feminine forms never contain the masculine ones.
var maritalKeywords = []keyword{
	{"casado", "Casado"}, {"casada", "Casada"},
	{"solteiro", "Solteiro"}, {"solteira", "Solteira"},
	{"divorciado", "Divorciado"}, {"divorciada", "Divorciada"},
	{"viuvo", "Viúvo"}, {"viuva", "Viúva"},
}

// Candidate extracts a record from a detail page. Missing text fields stay
// empty, missing descriptive fields become NotInformed, and missing salary or
// birth date stay nil.
func Candidate(id, page string) (scrape.CandidateRecord, error) {
	if !strings.Contains(page, `id="divCandidateName"`) && !strings.Contains(page, `id="hdnPhone"`) {
		return scrape.CandidateRecord{}, ErrNoProfile
	}
	personal := match(reGenderMarital, page)
	return scrape.CandidateRecord{
		ID:            id,
		Name:          match(reName, page),
		Job:           match(reJob, page),
		Phone:         match(rePhone, page),
		Email:         match(reEmail, page),
		Salary:        Salary(match(reSalary, page)),
		Address:       orNotInformed(match(reAddress, page)),
		WorkingHours:  orNotInformed(match(reWorkingHours, page)),
		ContractType:  orNotInformed(match(reContractType, page)),
		Gender:        Gender(personal),
		MaritalStatus: MaritalStatus(personal),
		BirthDate:     BirthDate(match(reBirthDate, page)),
	}, nil
}

func match(re *regexp.Regexp, page string) string {
	m := re.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	return decodeText(m[1])
}

// decodeText flattens escaped line breaks and resolves HTML entities.
func decodeText(s string) string {
	s = strings.ReplaceAll(s, `\r\n`, " ")
	s = strings.ReplaceAll(s, `\n`, " ")
	return html.UnescapeString(strings.TrimSpace(s))
}

func orNotInformed(s string) string {
	if s == "" {
		return NotInformed
	}
	return s
}

// Salary parses "R$ 2.500", "A partir de R$ 20.001" and
// "Entre R$ 1.000 e R$ 2.000" (first amount). Zero and unparsable amounts
// yield nil.
func Salary(text string) *int {
	m := reMoney.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
	v, err := strconv.Atoi(digits)
	if err != nil || v == 0 {
		return nil
	}
	return &v
}

// Gender maps "Homem casado" or "Mulher solteira" style text to
// Masculino/Feminino.
func Gender(text string) string {
	folded := fold(text)
	switch {
	case strings.Contains(folded, "homem"), strings.Contains(folded, "masculino"):
		return "Masculino"
	case strings.Contains(folded, "mulher"), strings.Contains(folded, "feminino"):
		return "Feminino"
	}
	return NotInformed
}

// MaritalStatus finds the marital keyword in the personal data line.
func MaritalStatus(text string) string {
	folded := fold(text)
	for _, k := range maritalKeywords {
		if strings.Contains(folded, k.word) {
			return k.label
		}
	}
	return NotInformed
}

// BirthDate parses "1 maio de 1998" (accents optional). Impossible dates
// yield nil.
func BirthDate(text string) *time.Time {
	m := reDayMonth.FindStringSubmatch(fold(text))
	if m == nil {
		return nil
	}
	month, ok := months[m[2]]
	if !ok {
		return nil
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != month {
		return nil
	}
	return &d
}

// fold lowercases s and strips diacritics.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

package framework

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Credentials are the two opaque secrets the tool providers need.
type Credentials struct {
	GenerationKey string
	SearchKey     string
}

// CredentialRequirements states which credentials the configured providers
// need. A local model, for example, needs no generation key.
type CredentialRequirements struct {
	Generation bool
	Search     bool
}

// ProfileFields are structured hints extracted heuristically from the free
// text. Every field is optional and nothing is ever inferred beyond what the
// student wrote.
type ProfileFields struct {
	StudentName         string      `json:"student_name,omitempty"`
	AcademicLevel       string      `json:"academic_level,omitempty"`
	CurrentDegree       string      `json:"current_degree,omitempty"`
	GraduationYear      string      `json:"graduation_year,omitempty"`
	CGPA                string      `json:"cgpa,omitempty"`
	CompetitiveExams    []ExamScore `json:"competitive_exams,omitempty"`
	CareerGoal          string      `json:"career_goal,omitempty"`
	Specialization      string      `json:"specialization,omitempty"`
	IntendedDegreeLevel string      `json:"intended_degree_level,omitempty"`
	Budget              string      `json:"budget,omitempty"`
	PreferredLocations  []string    `json:"preferred_locations,omitempty"`
}

// ExamScore is a competitive or language exam the student mentioned.
// Details keeps the score as written.
type ExamScore struct {
	Name    string `json:"exam_name"`
	Details string `json:"details,omitempty"`
}

// Academic and degree levels recognised in profiles.
const (
	LevelHighSchool          = "high_school"
	LevelUndergraduate       = "undergraduate"
	LevelPostgraduate        = "postgraduate"
	LevelWorkingProfessional = "working_professional"
)

// ProgramLevel names the kind of program to look for: "undergraduate" for a
// student finishing school or asking for a bachelor's, "masters" when a
// postgraduate degree is intended or implied, and "" when nothing was said.
func (f ProfileFields) ProgramLevel() string {
	switch f.IntendedDegreeLevel {
	case LevelUndergraduate:
		return "undergraduate"
	case LevelPostgraduate:
		return "masters"
	}
	switch f.AcademicLevel {
	case LevelHighSchool:
		return "undergraduate"
	case LevelUndergraduate, LevelPostgraduate, LevelWorkingProfessional:
		return "masters"
	}
	return ""
}

func (f ProfileFields) clone() ProfileFields {
	f.PreferredLocations = append([]string(nil), f.PreferredLocations...)
	f.CompetitiveExams = append([]ExamScore(nil), f.CompetitiveExams...)
	return f
}

// Profile is the validated description of a student. It is immutable: the
// only way to derive a different profile is WithDocument, which returns a
// copy.
type Profile struct {
	text     string
	document string
	fields   ProfileFields
}

// ValidateProfile checks the raw description and the credentials the
// configured providers require. It performs no I/O.
func ValidateProfile(rawText string, creds Credentials, req CredentialRequirements) (Profile, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return Profile{}, &ValidationError{Field: "profile", Reason: "description is empty"}
	}
	if req.Generation && strings.TrimSpace(creds.GenerationKey) == "" {
		return Profile{}, &ValidationError{Field: "generation_key", Reason: "credential is missing"}
	}
	if req.Search && strings.TrimSpace(creds.SearchKey) == "" {
		return Profile{}, &ValidationError{Field: "search_key", Reason: "credential is missing"}
	}
	return Profile{text: text, fields: ExtractProfileFields(text)}, nil
}

// Text returns the student's free-text description.
func (p Profile) Text() string { return p.text }

// Document returns the extracted supporting document text, if any.
func (p Profile) Document() string { return p.document }

// Fields returns the structured hints found in the description.
func (p Profile) Fields() ProfileFields {
	return p.fields.clone()
}

// IsZero reports whether the profile was never validated.
func (p Profile) IsZero() bool { return p.text == "" }

// WithDocument returns a copy of the profile carrying document text.
func (p Profile) WithDocument(text string) Profile {
	p.document = strings.TrimSpace(text)
	p.fields = p.fields.clone()
	return p
}

// MissingFields lists the recommended fields that the description did not
// mention, in the order an advisor would ask for them.
func (p Profile) MissingFields() []string {
	f := p.fields
	checks := []struct {
		name  string
		empty bool
	}{
		{"student_name", f.StudentName == ""},
		{"academic_level", f.AcademicLevel == ""},
		{"current_degree", f.CurrentDegree == ""},
		{"graduation_year", f.GraduationYear == ""},
		{"cgpa", f.CGPA == ""},
		{"competitive_exams", len(f.CompetitiveExams) == 0},
		{"career_goal", f.CareerGoal == ""},
		{"specialization", f.Specialization == ""},
		{"intended_degree_level", f.IntendedDegreeLevel == ""},
		{"preferred_locations", len(f.PreferredLocations) == 0},
		{"budget", f.Budget == ""},
	}
	var missing []string
	for _, c := range checks {
		if c.empty {
			missing = append(missing, c.name)
		}
	}
	return missing
}

// Render formats the profile as prompt material.
func (p Profile) Render() string {
	var b strings.Builder
	b.WriteString("Student description:\n")
	b.WriteString(p.text)
	if hints := p.fields.lines(); len(hints) > 0 {
		b.WriteString("\n\nStructured hints (as stated by the student):\n")
		b.WriteString(strings.Join(hints, "\n"))
	}
	if p.document != "" {
		b.WriteString("\n\nSupporting document (e.g. letter of recommendation):\n")
		b.WriteString(p.document)
	}
	return b.String()
}

// MarshalJSON exposes the profile to API consumers without making its
// fields mutable.
func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text     string        `json:"text"`
		Document string        `json:"document,omitempty"`
		Fields   ProfileFields `json:"fields"`
	}{p.text, p.document, p.fields})
}

// UnmarshalJSON restores a profile previously encoded with MarshalJSON, for
// in-process session stores that hold runs in serialized form.
func (p *Profile) UnmarshalJSON(data []byte) error {
	if !p.IsZero() {
		return errors.New("profile is immutable once set")
	}
	var raw struct {
		Text     string        `json:"text"`
		Document string        `json:"document"`
		Fields   ProfileFields `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.text = raw.Text
	p.document = raw.Document
	p.fields = raw.Fields
	return nil
}

func (f ProfileFields) lines() []string {
	var out []string
	add := func(label, value string) {
		if value != "" {
			out = append(out, "- "+label+": "+value)
		}
	}
	add("name", f.StudentName)
	add("academic level", strings.ReplaceAll(f.AcademicLevel, "_", " "))
	add("current degree", f.CurrentDegree)
	add("graduation year", f.GraduationYear)
	add("CGPA", f.CGPA)
	if len(f.CompetitiveExams) > 0 {
		exams := make([]string, 0, len(f.CompetitiveExams))
		for _, e := range f.CompetitiveExams {
			exams = append(exams, strings.TrimSpace(e.Name+" "+e.Details))
		}
		add("exams", strings.Join(exams, ", "))
	}
	add("career goal", f.CareerGoal)
	add("specialization", f.Specialization)
	add("intended degree", f.IntendedDegreeLevel)
	add("budget", f.Budget)
	if len(f.PreferredLocations) > 0 {
		add("preferred locations", strings.Join(f.PreferredLocations, ", "))
	}
	return out
}

var (
	nameRe     = regexp.MustCompile(`\b(?:[Ii]'?m|[Ii] am|[Mm]y name is)\s+([A-Z][a-z]+)`)
	degreeRe   = regexp.MustCompile(`(?i)\b(b\.?tech|m\.?tech|bachelor'?s?|master'?s?|bsc|msc|b\.e\b|bcom|bca|mba|computer science|mechanical|civil|electrical|engineering)\b`)
	yearRe     = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	cgpaRe     = regexp.MustCompile(`(?i)\b(?:cgpa|gpa)\s*(?:is|of|:)?\s*(\d+(?:\.\d+)?(?:\s*/\s*\d+(?:\.\d+)?)?)`)
	goalRe     = regexp.MustCompile(`(?i)(?:goal|want|aspire)[^.]*?\b(engineer|scientist|developer|researcher|analyst|manager|doctor|designer|consultant)\b`)
	budgetRe   = regexp.MustCompile(`(?i)([$₹£€]\s?\d[\d,]*(?:\.\d+)?\s*(?:k|lakhs?|lacs?|crores?)?|\d[\d,]*(?:\.\d+)?\s*(?:lakhs?|lacs?|crores?|k\b|usd|inr|eur|gbp|dollars|rupees|euros))`)
	examRe     = regexp.MustCompile(`\b(GRE|GMAT|IELTS|TOEFL|SAT|ACT|JEE(?: Main| Advanced)?|NEET|PTE|GATE|CAT|Duolingo)\b(?:\s*(?:score|scored|of|:|-)?\s*(\d+(?:\.\d+)?(?:\s*/\s*\d+)?))?`)
	specRe     = regexp.MustCompile(`(?i)\b(?:(?:speciali[sz]ation|major)\s*(?:is|:)|(?:speciali[sz]ing|speciali[sz]e|majoring|major)\s+in)\s+([a-z][a-z &-]*?[a-z])\s*(?:[.,;!()\n]|\s+(?:with|and|from|at|graduating)\b|$)`)
	intentRe   = regexp.MustCompile(`(?i)\b(?:want|hope|plan|planning|looking|aiming|aim|wish|like|apply|applying)\b[^.]*?\b(master'?s|masters|ms|msc|mba|ph\.?d|postgraduate|pg|bachelor'?s|bachelors|undergraduate|ug|bsc|b\.?tech)\b`)
	abbrevLocs = regexp.MustCompile(`\b(USA|US|UK|UAE)\b`)
	namedLocs  = regexp.MustCompile(`(?i)\b(united states|united kingdom|canada|germany|australia|france|singapore|netherlands|ireland|new zealand|japan|sweden|switzerland|india)\b`)
)

// levelPatterns are tried in order; the first match sets AcademicLevel.
var levelPatterns = []struct {
	level string
	re    *regexp.Regexp
}{
	{LevelWorkingProfessional, regexp.MustCompile(`(?i)\b(?:working as|work(?:ing)? at|years? of (?:work )?experience|currently employed|working professional)\b`)},
	{LevelHighSchool, regexp.MustCompile(`(?i)\b(?:high school|higher secondary|class ?12|12th|grade ?12|cbse|icse|hsc)\b`)},
	{LevelPostgraduate, regexp.MustCompile(`(?i)\b(?:m\.?tech|msc|m\.sc|postgraduate student)\b`)},
	{LevelUndergraduate, regexp.MustCompile(`(?i)\b(?:b\.?tech|bsc|b\.sc|b\.e\b|bcom|bca|bachelor'?s|undergraduate|undergrad)\b`)},
}

var locationAliases = map[string]string{
	"us":             "USA",
	"usa":            "USA",
	"united states":  "USA",
	"uk":             "UK",
	"united kingdom": "UK",
	"uae":            "UAE",
}

// ExtractProfileFields pulls structured hints out of free text using
// conservative patterns. Fields that do not match are left empty.
func ExtractProfileFields(text string) ProfileFields {
	var f ProfileFields
	if m := nameRe.FindStringSubmatch(text); m != nil {
		f.StudentName = m[1]
	}
	for _, l := range levelPatterns {
		if l.re.MatchString(text) {
			f.AcademicLevel = l.level
			break
		}
	}
	if m := degreeRe.FindStringSubmatch(text); m != nil {
		f.CurrentDegree = strings.TrimSpace(m[1])
	}
	if m := yearRe.FindString(text); m != "" {
		f.GraduationYear = m
	}
	if m := cgpaRe.FindStringSubmatch(text); m != nil {
		f.CGPA = strings.Join(strings.Fields(m[1]), "")
	}
	for _, m := range examRe.FindAllStringSubmatch(text, -1) {
		f.CompetitiveExams = append(f.CompetitiveExams, ExamScore{Name: m[1], Details: strings.Join(strings.Fields(m[2]), "")})
	}
	if m := goalRe.FindStringSubmatch(text); m != nil {
		f.CareerGoal = strings.ToLower(m[1])
	}
	if m := specRe.FindStringSubmatch(text); m != nil {
		f.Specialization = m[1]
	}
	if m := intentRe.FindStringSubmatch(text); m != nil {
		f.IntendedDegreeLevel = degreeLevel(m[1])
	}
	if m := budgetRe.FindStringSubmatch(text); m != nil {
		f.Budget = strings.TrimSpace(m[1])
	}
	f.PreferredLocations = extractLocations(text)
	return f
}

func degreeLevel(word string) string {
	switch strings.ToLower(strings.ReplaceAll(word, ".", "")) {
	case "bachelor's", "bachelors", "bachelor", "undergraduate", "ug", "bsc", "btech":
		return LevelUndergraduate
	default:
		return LevelPostgraduate
	}
}

func extractLocations(text string) []string {
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, idx := range abbrevLocs.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{idx[2], text[idx[2]:idx[3]]})
	}
	for _, idx := range namedLocs.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{idx[2], text[idx[2]:idx[3]]})
	}
	// order of first mention
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	seen := map[string]bool{}
	var out []string
	for _, h := range hits {
		name := canonicalLocation(h.name)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func canonicalLocation(raw string) string {
	key := strings.ToLower(raw)
	if alias, ok := locationAliases[key]; ok {
		return alias
	}
	words := strings.Fields(key)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

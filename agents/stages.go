package agents

import (
	"github.com/lexcodex/gradscout/framework"
)

// Stage names of the default admissions pipeline.
const (
	StageNormalizer   = "normalizer"
	StageMatcher      = "matcher"
	StageRanker       = "ranker"
	StageScholarships = "scholarships"
	StageReviews      = "reviews"
)

const normalizerSystem = `You are a meticulous admissions data analyst who knows academic formats,
currencies and international grading systems. You never invent information.`

const normalizerTemplate = `Clean and standardize the student profile below for downstream university matching.

{{.Profile}}

Instructions:
1. Do NOT invent information. If something is unclear, write "not specified".
2. Identify the academic level (high school, undergraduate, postgraduate, working professional) if it is stated or strongly implied.
3. Normalize grades: CGPA as "X / Y" where the scale is known, school scores as clear free text.
4. Standardize country names and tag budget currencies (₹, $, £, €), adding "approx" where needed.
5. Produce a friendly, well-structured summary with sections for Personal, Academics, Exams, Goals, Preferences and Budget, then list the normalizations you made.`

const matcherSystem = `You are a global higher-education consultant trusted for accurate,
fit-based recommendations that respect budget, location and academic background.`

const matcherTemplate = `Identify suitable university programs for this student for the {{.Year}} intake.

NORMALIZED PROFILE:
{{stage "normalizer"}}

ORIGINAL DESCRIPTION:
{{.Text}}

If the student is finishing high school, focus on undergraduate programs; otherwise focus on postgraduate or advanced programs.

Prioritize in this order: course relevance, tuition and budget fit, location preference, scholarship availability, reputation, career outcomes, verified student reviews.

For each program give: university, course title, degree level, location (city, country), duration, a fee structure (tuition per year, living costs, total annual cost, each in the original currency and approximately in INR), key admission requirements for the student's level, relevant scholarships, and one short paragraph on why it fits.

Provide at least 10 options when possible.`

const matcherQuery = `{{$level := .Fields.ProgramLevel}}{{if ne $level "undergraduate"}}{{with .Fields.CurrentDegree}}{{.}} graduate {{end}}{{end}}{{with .Fields.Specialization}}{{.}} {{end}}{{with .Fields.CareerGoal}}{{.}} {{end}}{{with $level}}{{.}} {{end}}programs {{range .Fields.PreferredLocations}}{{.}} {{end}}tuition fees {{.Year}}`

const rankerSystem = `You are a senior academic advisor specializing in rankings, ROI, graduate
outcomes and curriculum evaluation.`

const rankerTemplate = `Rank the top 5 programs from the matches below.

STUDENT PROFILE:
{{stage "normalizer"}}

PROGRAM MATCHES:
{{stage "matcher"}}

Evaluate career alignment, budget fit, location preference, specialization depth, reputation and level appropriateness.
Keep the complete fee structure from the matches; do not shorten financial details.
Use £ for GBP, $ for USD, € for EUR and ₹ for INR.

Format each program exactly as:

**RANK #X: [University] - [Course]**

**Location:** [City, Country]
**Degree:** [Degree name and level]
**Duration:** [Duration]

**Fee Structure:**
- Tuition: [amount] (approximately ₹[amount])
- Living Costs: [amount] (approximately ₹[amount])
- Total Annual Cost: [amount] (approximately ₹[amount])

**Delivery:** [On-campus/Online/Hybrid]
**Career Alignment Score:** [X/10] - [explanation]
**Reasoning:** [why this program fits]
**Pros:** 3 bullet points
**Cons:** 2 bullet points
**Overall Recommendation:** [recommendation with confidence]

---

Finish with a short summary naming the single best fit and why.`

const rankerQuery = `{{with .Fields.CareerGoal}}{{.}} {{end}}program rankings graduate outcomes {{range .Fields.PreferredLocations}}{{.}} {{end}}{{.Year}}`

const scholarshipsSystem = `You are a funding advisor who surfaces accurate, recent scholarships and
communicates them in encouraging, practical language.`

const scholarshipsTemplate = `Find scholarships relevant to this student for the {{.Year}} intake.

STUDENT PROFILE:
{{stage "normalizer"}}

For each scholarship give the name, the amount (original currency and approximately in INR), eligibility (level, nationality, scores, exams), the application deadline and the official link.
Write natural, well-spaced prose with headings and bullet points. Never answer in JSON.
If no scholarships apply, say so clearly and suggest alternative funding such as assistantships or education loans.`

const scholarshipsQuery = `scholarships {{with .Fields.CurrentDegree}}{{.}} {{end}}international students {{range .Fields.PreferredLocations}}{{.}} {{end}}{{.Year}}`

const reviewsSystem = `You are a student experience researcher who gathers balanced, multi-source
reviews and avoids first-result bias.`

const reviewsTemplate = `Summarize what students say about the ranked programs below.

RANKED PROGRAMS:
{{stage "ranker"}}

Use at least 3 distinct sources per university where available (forums, student platforms, review sites).
Cover strengths, weaknesses, campus life and career outcomes, with an approximate rating for each program.`

const reviewsQuery = `student reviews {{with .Fields.CareerGoal}}{{.}} {{end}}{{with .Fields.ProgramLevel}}{{.}} {{end}}{{range .Fields.PreferredLocations}}{{.}} {{end}}reddit`

// DefaultStageSpecs returns the five-stage admissions pipeline. Each call
// returns fresh values the caller may modify.
func DefaultStageSpecs() []framework.StageSpec {
	return []framework.StageSpec{
		{
			Name:     StageNormalizer,
			Title:    "Student Profile",
			System:   normalizerSystem,
			Template: normalizerTemplate,
		},
		{
			Name:          StageMatcher,
			Title:         "Program Matches",
			System:        matcherSystem,
			Template:      matcherTemplate,
			Consumes:      []string{StageNormalizer},
			NeedsSearch:   true,
			QueryTemplate: matcherQuery,
		},
		{
			Name:          StageRanker,
			Title:         "Top Ranked Programs",
			System:        rankerSystem,
			Template:      rankerTemplate,
			Consumes:      []string{StageNormalizer, StageMatcher},
			NeedsSearch:   true,
			QueryTemplate: rankerQuery,
		},
		{
			Name:          StageScholarships,
			Title:         "Scholarships",
			System:        scholarshipsSystem,
			Template:      scholarshipsTemplate,
			Consumes:      []string{StageNormalizer},
			NeedsSearch:   true,
			QueryTemplate: scholarshipsQuery,
		},
		{
			Name:          StageReviews,
			Title:         "Student Reviews",
			System:        reviewsSystem,
			Template:      reviewsTemplate,
			Consumes:      []string{StageRanker},
			NeedsSearch:   true,
			QueryTemplate: reviewsQuery,
		},
	}
}

// DefaultStages compiles DefaultStageSpecs.
func DefaultStages() []*framework.StageDefinition {
	specs := DefaultStageSpecs()
	stages := make([]*framework.StageDefinition, 0, len(specs))
	for _, spec := range specs {
		stages = append(stages, framework.MustStageDefinition(spec))
	}
	return stages
}

// CompileStages turns specs into definitions, reporting the first failure
// with the offending stage's position.
func CompileStages(specs []framework.StageSpec) ([]*framework.StageDefinition, error) {
	stages := make([]*framework.StageDefinition, 0, len(specs))
	for i, spec := range specs {
		def, err := framework.NewStageDefinition(spec)
		if err != nil {
			return nil, &StageFileError{Index: i, Name: spec.Name, Err: err}
		}
		stages = append(stages, def)
	}
	return stages, nil
}

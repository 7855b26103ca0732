package framework

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProfileRejectsEmptyText(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t"} {
		_, err := ValidateProfile(raw, Credentials{}, CredentialRequirements{})
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "input %q", raw)
		assert.Equal(t, "profile", vErr.Field)
	}
}

func TestValidateProfileRequiresCredentials(t *testing.T) {
	req := CredentialRequirements{Generation: true, Search: true}

	_, err := ValidateProfile("I study CS", Credentials{SearchKey: "s"}, req)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "generation_key", vErr.Field)

	_, err = ValidateProfile("I study CS", Credentials{GenerationKey: "g", SearchKey: "  "}, req)
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "search_key", vErr.Field)

	p, err := ValidateProfile("  I study CS  ", Credentials{GenerationKey: "g", SearchKey: "s"}, req)
	require.NoError(t, err)
	assert.Equal(t, "I study CS", p.Text())

	_, err = ValidateProfile("I study CS", Credentials{}, CredentialRequirements{})
	require.NoError(t, err)
}

func TestExtractProfileFields(t *testing.T) {
	text := "Hi, I'm Priya. I am doing a B.Tech in Computer Science graduating in 2025 with a CGPA of 8.7/10. " +
		"My goal is to become a machine learning engineer. I'd like to study in Canada or Germany, maybe the USA. " +
		"My budget is $40,000 per year."
	f := ExtractProfileFields(text)
	assert.Equal(t, "Priya", f.StudentName)
	assert.Equal(t, "B.Tech", f.CurrentDegree)
	assert.Equal(t, "2025", f.GraduationYear)
	assert.Equal(t, "8.7/10", f.CGPA)
	assert.Equal(t, "engineer", f.CareerGoal)
	assert.Equal(t, "$40,000", f.Budget)
	assert.Equal(t, []string{"Canada", "Germany", "USA"}, f.PreferredLocations)
}

func TestExtractProfileFieldsLevelsExamsAndSpecialization(t *testing.T) {
	f := ExtractProfileFields("I'm Arjun, final year B.Tech student majoring in electrical engineering, graduating 2025. " +
		"GRE 318, IELTS 7.5. I plan to apply for a masters in Germany.")
	assert.Equal(t, LevelUndergraduate, f.AcademicLevel)
	assert.Equal(t, []ExamScore{{Name: "GRE", Details: "318"}, {Name: "IELTS", Details: "7.5"}}, f.CompetitiveExams)
	assert.Equal(t, "electrical engineering", f.Specialization)
	assert.Equal(t, LevelPostgraduate, f.IntendedDegreeLevel)
	assert.Equal(t, "masters", f.ProgramLevel())

	school := ExtractProfileFields("I'm Ravi, in class 12 (CBSE), scored SAT 1450.")
	assert.Equal(t, LevelHighSchool, school.AcademicLevel)
	assert.Empty(t, school.IntendedDegreeLevel)
	assert.Equal(t, []ExamScore{{Name: "SAT", Details: "1450"}}, school.CompetitiveExams)
	assert.Equal(t, "undergraduate", school.ProgramLevel())

	pro := ExtractProfileFields("I have 4 years of experience as an analyst and want an MBA")
	assert.Equal(t, LevelWorkingProfessional, pro.AcademicLevel)
	assert.Equal(t, LevelPostgraduate, pro.IntendedDegreeLevel)

	assert.Empty(t, ExtractProfileFields("the cat sat on the mat, a major act").CompetitiveExams)
	assert.Empty(t, ExtractProfileFields("major cities like Berlin").Specialization)
	assert.Empty(t, ProfileFields{}.ProgramLevel())
}

func TestExtractProfileFieldsNeverInvents(t *testing.T) {
	f := ExtractProfileFields("help us find something good for me")
	assert.Empty(t, f.StudentName)
	assert.Empty(t, f.PreferredLocations, "lowercase 'us' is not a country")
	assert.Empty(t, f.Budget)
	assert.Empty(t, f.CGPA)
}

func TestProfileMissingFieldsAndDocument(t *testing.T) {
	p := testProfile(t, "I want to study in the UK, budget 30 lakhs")
	assert.Equal(t, []string{
		"student_name", "academic_level", "current_degree", "graduation_year", "cgpa",
		"competitive_exams", "career_goal", "specialization", "intended_degree_level",
	}, p.MissingFields())

	withDoc := p.WithDocument("  Strong recommendation from Prof. X  ")
	assert.Empty(t, p.Document(), "WithDocument must not mutate the receiver")
	assert.Equal(t, "Strong recommendation from Prof. X", withDoc.Document())
	assert.Contains(t, withDoc.Render(), "Supporting document")
	assert.Contains(t, withDoc.Render(), "- preferred locations: UK")

	school := testProfile(t, "Class 12 student, TOEFL 105")
	exams := school.Fields()
	exams.CompetitiveExams[0].Name = "mutated"
	assert.Equal(t, "TOEFL", school.Fields().CompetitiveExams[0].Name)
	assert.Contains(t, school.Render(), "- academic level: high school")
	assert.Contains(t, school.Render(), "- exams: TOEFL 105")

	fields := p.Fields()
	fields.PreferredLocations[0] = "mutated"
	assert.Equal(t, []string{"UK"}, p.Fields().PreferredLocations)
}

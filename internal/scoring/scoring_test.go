package scoring

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/fields"
)

type staticRegistry struct{}

func (staticRegistry) Resolve(_ context.Context, key string) (string, error) {
	return "cid:" + key, nil
}

func prepare(t *testing.T, def core.FieldDefinition) *fields.Field {
	t.Helper()
	if def.ID == "" {
		def.ID = "q1"
	}
	got, err := fields.Prepare(context.Background(), []core.FieldDefinition{def}, staticRegistry{})
	require.NoError(t, err)
	return &got[0]
}

func rule(cond, threshold string, score float64) core.ScoreRule {
	return core.ScoreRule{
		Condition: core.ParseCondition(cond),
		Raw:       cond,
		Threshold: threshold,
		Score:     score,
	}
}

// =============================================================================
// Scenarios
// =============================================================================

func TestScore_NumericScenario(t *testing.T) {
	f := prepare(t, core.FieldDefinition{
		Type:  core.FieldNumeric,
		Title: "Pressure",
		Rules: []core.ScoreRule{
			rule("greater than", "10", 5),
			rule("less than or equal to", "10", 2),
		},
	})

	a, err := Score("15", f)
	require.NoError(t, err)
	assert.Equal(t, 5.0, a.Score)
	assert.Equal(t, "15", a.Value)
	assert.Equal(t, "cid:numeric-pressure", a.CommonID)
}

func TestScore_MultiChoiceScenario(t *testing.T) {
	f := prepare(t, core.FieldDefinition{
		Type:    core.FieldMultiChoice,
		Title:   "Colours",
		Options: []core.Option{{Name: "Red", Score: 3}, {Name: "Blue", Score: 2}},
	})

	a, err := Score("red, blue", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "blue"}, a.Value)
	assert.Equal(t, 5.0, a.Score)
}

// =============================================================================
// Per type
// =============================================================================

func TestScore_SingleChoiceIgnoresCaseAndMarkup(t *testing.T) {
	f := prepare(t, core.FieldDefinition{
		Type:    core.FieldSingleChoice,
		Title:   "Door closed?",
		Options: []core.Option{{Name: "Yes", Score: 4}, {Name: "No", Score: 1}},
	})

	for _, in := range []string{"Yes", " yes ", "<b>yes</b>"} {
		a, err := Score(in, f)
		require.NoError(t, err)
		assert.Equal(t, 4.0, a.Score, "input %q", in)
		assert.Equal(t, a.RawValue, a.Value, "stored answer is the raw value")
	}

	a, err := Score("perhaps", f)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, "perhaps", a.Value)
}

func TestScore_MultiChoiceDropsEmptyTokens(t *testing.T) {
	f := prepare(t, core.FieldDefinition{
		Type:    core.FieldMultiChoice,
		Title:   "Colours",
		Options: []core.Option{{Name: "Red", Score: 3}},
	})

	a, err := Score("Red,, green ,", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"Red", "green"}, a.Value)
	assert.Equal(t, 3.0, a.Score)
}

func TestScore_Text(t *testing.T) {
	f := prepare(t, core.FieldDefinition{
		Type:  core.FieldText,
		Title: "Comment",
		Rules: []core.ScoreRule{
			rule("is customized keyword", "OK", 10),
			rule("is not blank", "", 1),
			rule("is blank", "", 7),
		},
	})

	tests := []struct {
		in   string
		want float64
	}{
		{"OK", 11},
		{"ok", 1},
		{"anything", 1},
	}
	for _, tt := range tests {
		a, err := Score(tt.in, f)
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.Score, "input %q", tt.in)
		assert.Equal(t, tt.in, a.Value)
	}
}

func TestScore_OtherIsVerbatim(t *testing.T) {
	f := prepare(t, core.FieldDefinition{Type: core.FieldOther, Title: "Signature"})

	a, err := Score("J. Smith", f)
	require.NoError(t, err)
	assert.Equal(t, "J. Smith", a.Value)
	assert.Zero(t, a.Score)
}

func TestScore_EmptyShortCircuits(t *testing.T) {
	types := []core.FieldType{
		core.FieldOther, core.FieldSingleChoice, core.FieldMultiChoice,
		core.FieldText, core.FieldDateTime, core.FieldNumeric,
	}
	for _, ft := range types {
		f := prepare(t, core.FieldDefinition{
			Type:  ft,
			Title: "x",
			Rules: []core.ScoreRule{rule("is not blank", "", 3), rule("not equal to", "1", 3)},
		})
		a, err := Score("   ", f)
		require.NoError(t, err)
		assert.Nil(t, a.Value, "type %v", ft)
		assert.Empty(t, a.RawValue)
		assert.Zero(t, a.Score)
		assert.Equal(t, "q1", a.FieldID)
	}
}

func TestScore_DateTime(t *testing.T) {
	f := prepare(t, core.FieldDefinition{Type: core.FieldDateTime, Title: "When"})

	a, err := Score("2024/01/05 14:30", f)
	require.NoError(t, err)
	require.IsType(t, core.DateValue{}, a.Value)
	v := a.Value.(core.DateValue)
	assert.True(t, v.HasTime)
	assert.Equal(t, time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC), v.Date)
	assert.Zero(t, a.Score)

	a, err = Score("not a date", f)
	require.NoError(t, err)
	assert.Nil(t, a.Value)
	assert.Zero(t, a.Score)
}

// =============================================================================
// Numeric rules
// =============================================================================

func TestScore_NumericRulesSumWithoutShortCircuit(t *testing.T) {
	f := prepare(t, core.FieldDefinition{
		Type:  core.FieldNumeric,
		Title: "Level",
		Rules: []core.ScoreRule{
			rule("greater than", "1", 1),
			rule("greater than or equal to", "5", 2),
			rule("equal to", "5", 4),
			rule("not equal to", "7", 8),
			rule("less than", "5", 16),
		},
	})

	a, err := Score("5", f)
	require.NoError(t, err)
	assert.Equal(t, 15.0, a.Score)
}

func TestHolds(t *testing.T) {
	conds := []string{
		"less than", "less than or equal to", "equal to",
		"not equal to", "greater than or equal to", "greater than",
	}
	want := map[string]func(v, c float64) bool{
		"less than":                func(v, c float64) bool { return v < c },
		"less than or equal to":    func(v, c float64) bool { return v <= c },
		"equal to":                 func(v, c float64) bool { return v == c },
		"not equal to":             func(v, c float64) bool { return v != c },
		"greater than or equal to": func(v, c float64) bool { return v >= c },
		"greater than":             func(v, c float64) bool { return v > c },
	}

	for _, cond := range conds {
		for _, v := range []float64{-3, 0, 9.5, 10, 10.5} {
			got, err := Holds(rule(cond, "10", 1), v)
			require.NoError(t, err)
			assert.Equal(t, want[cond](v, 10), got, "%v %s 10", v, cond)
		}
	}
}

func TestHolds_NaNMatchesNothing(t *testing.T) {
	for _, cond := range []string{"less than", "equal to", "not equal to", "greater than"} {
		got, err := Holds(rule(cond, "10", 1), math.NaN())
		require.NoError(t, err)
		assert.False(t, got, cond)
	}

	f := prepare(t, core.FieldDefinition{
		Type:  core.FieldNumeric,
		Title: "Level",
		Rules: []core.ScoreRule{rule("not equal to", "10", 5)},
	})
	a, err := Score("n/a", f)
	require.NoError(t, err)
	assert.Zero(t, a.Score)
	assert.Equal(t, "n/a", a.Value)
}

func TestScore_MalformedRuleIsIsolated(t *testing.T) {
	tests := []struct {
		name string
		rule core.ScoreRule
	}{
		{"bad threshold", rule("greater than", "ten", 5)},
		{"unknown condition", rule("between", "1", 5)},
		{"non-numeric score", core.ScoreRule{Condition: core.CondLess, Raw: "less than", Threshold: "3", BadScore: `"five"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := prepare(t, core.FieldDefinition{
				Type:  core.FieldNumeric,
				Title: "Level",
				Rules: []core.ScoreRule{rule("greater than", "1", 1), tt.rule},
			})

			a, err := Score("15", f)
			require.ErrorIs(t, err, core.ErrRule)
			assert.Zero(t, a.Score)
			assert.Nil(t, a.Value)
			assert.Equal(t, "q1", a.FieldID)
		})
	}
}

func TestScore_BadOptionScoreZeroesOnlyThatField(t *testing.T) {
	door := prepare(t, core.FieldDefinition{
		Type:    core.FieldSingleChoice,
		Title:   "Door",
		Options: []core.Option{{Name: "Yes", Score: 1}, {Name: "No", BadScore: `"none"`}},
	})
	level := prepare(t, core.FieldDefinition{
		ID:    "q2",
		Type:  core.FieldNumeric,
		Title: "Level",
		Rules: []core.ScoreRule{rule("less than", "5", 3)},
	})

	a, err := Score("Yes", door)
	require.ErrorIs(t, err, core.ErrRule)
	assert.Zero(t, a.Score)
	assert.Equal(t, "q1", a.FieldID)

	b, err := Score("2", level)
	require.NoError(t, err)
	assert.Equal(t, 3.0, b.Score)

	blank, err := Score("  ", door)
	require.NoError(t, err)
	assert.Zero(t, blank.Score)
}

// =============================================================================
// Dates
// =============================================================================

func TestParseDate(t *testing.T) {
	tests := []struct {
		in       string
		ok       bool
		want     time.Time
		wantTime bool
	}{
		{"25569", true, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"25569.5", true, time.Date(1970, 1, 1, 12, 0, 0, 0, time.UTC), true},
		{"45292", true, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"45292.75", true, time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC), true},
		{"2024/02/29", true, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), false},
		{"2024/02/29 07:05", true, time.Date(2024, 2, 29, 7, 5, 0, 0, time.UTC), true},
		{"2024/02/29 7:05", true, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), false},
		{"2024/02/29 07:05 UTC", true, time.Date(2024, 2, 29, 7, 5, 0, 0, time.UTC), true},
		{"2024/02/29 extra words", true, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), false},
		{"2023/02/29", false, time.Time{}, false},
		{"2024-01-05", false, time.Time{}, false},
		{"-4", false, time.Time{}, false},
		{"0", false, time.Time{}, false},
		{"", false, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, got.Date)
			assert.Equal(t, tt.wantTime, got.HasTime)
		})
	}
}

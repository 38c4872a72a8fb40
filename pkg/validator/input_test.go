package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeStripsDangerousContent(t *testing.T) {
	cases := map[string]string{
		"  plain text  ":                  "plain text",
		"<script>alert(1)</script>":       "scriptalert(1)/script",
		`"quoted" and 'single'`:           "quoted and single",
		"javascript:alert(1)":             "alert(1)",
		"JaVaScRiPt:alert(1)":             "alert(1)",
		`<img src=x onerror=alert(1)>`:    "img src=x alert(1)",
		"user@example.com":                "user@example.com",
	}

	for input, want := range cases {
		require.Equal(t, want, Sanitize(input), "input %q", input)
	}
}

func TestSanitizeRemovesForbiddenSubstrings(t *testing.T) {
	inputs := []string{
		"<b>bold</b>",
		"a'b\"c",
		"click javascript:void(0)",
		"x onclick=do()",
		"<a href='javascript:x' onmouseover=y>z</a>",
	}

	for _, input := range inputs {
		out := Sanitize(input)
		require.NotContains(t, out, "<")
		require.NotContains(t, out, ">")
		require.NotContains(t, out, "'")
		require.NotContains(t, out, `"`)
		require.NotContains(t, strings.ToLower(out), "javascript:")
	}
}

func TestValidateEmail(t *testing.T) {
	require.True(t, ValidateEmail("user@example.com").Valid)
	require.True(t, ValidateEmail("first.last+tag@sub.example.co").Valid)

	injected := ValidateEmail(`user<script>@example.com`)
	require.False(t, injected.Valid)
	require.Equal(t, "Contains invalid characters", injected.Reason)

	malformed := ValidateEmail("not-an-email")
	require.False(t, malformed.Valid)
	require.Equal(t, "Invalid email format", malformed.Reason)

	require.False(t, ValidateEmail("user@example").Valid)

	disposable := ValidateEmail("user@mailinator.com")
	require.False(t, disposable.Valid)
	require.Equal(t, "Disposable email addresses not allowed", disposable.Reason)

	// Denylist matching is case-insensitive on the domain.
	require.False(t, ValidateEmail("user@Mailinator.COM").Valid)
}

func TestValidatePasswordScoring(t *testing.T) {
	weak := ValidatePassword("abc")
	require.False(t, weak.Valid)
	require.NotEmpty(t, weak.Feedback)

	common := ValidatePassword("Password123!")
	require.Contains(t, common.Feedback, "Avoid common passwords")

	repeated := ValidatePassword("aaaBBB111!!!")
	require.Contains(t, repeated.Feedback, "Avoid repeating characters")

	strong := ValidatePassword("C0rrect-h0rse-Battery!9")
	require.True(t, strong.Valid)
	require.GreaterOrEqual(t, strong.Score, 6)
	require.Empty(t, strong.Feedback)
}

func TestHasRepeatRun(t *testing.T) {
	require.False(t, hasRepeatRun(""))
	require.False(t, hasRepeatRun("ab"))
	require.False(t, hasRepeatRun("aabb"))
	require.False(t, hasRepeatRun("abab"))
	require.True(t, hasRepeatRun("aaa"))
	require.True(t, hasRepeatRun("xyaaab"))
	require.True(t, hasRepeatRun("x111"))
	// Runs are rune-based, not byte-based.
	require.True(t, hasRepeatRun("ééé"))
	require.False(t, hasRepeatRun("éeé"))
}

func TestValidatePasswordScoreBounds(t *testing.T) {
	candidates := []string{
		"",
		"a",
		"password",
		"PASSWORD",
		"12345678",
		"aA1!aA1!",
		"Tr0ub4dour&3xtra-L0ng-Phrase",
		strings.Repeat("xYz9!", 20),
	}

	for _, password := range candidates {
		result := ValidatePassword(password)
		require.GreaterOrEqual(t, result.Score, 0, "password %q", password)
		require.LessOrEqual(t, result.Score, 10, "password %q", password)
		require.Equal(t, result.Score >= 6, result.Valid, "password %q", password)
	}
}

func TestEstimateEntropy(t *testing.T) {
	require.Zero(t, estimateEntropy(""))
	// Single distinct character has zero bits regardless of length.
	require.Zero(t, estimateEntropy("aaaaaaa"))
	require.Greater(t, estimateEntropy("abcdefgh12345678"), 30.0)
}

func TestValidateStruct(t *testing.T) {
	type payload struct {
		Token string `json:"token" validate:"required,min=6,max=8"`
	}

	require.NoError(t, ValidateStruct(payload{Token: "123456"}))

	err := ValidateStruct(payload{})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 1)
	require.Equal(t, "token", failures[0].Field)
	require.Equal(t, "required", failures[0].Tag)
}

package validator

import (
	"math"
	"regexp"
	"strings"
)

// Free-text input entering the credential paths is sanitised before any
// cryptographic or database use. These helpers are pure and never fail.

var (
	angleBracketPattern = regexp.MustCompile(`[<>]`)
	quotePattern        = regexp.MustCompile(`['"]`)
	jsProtocolPattern   = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerPattern = regexp.MustCompile(`(?i)on\w+=`)

	emailPattern      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	upperCasePattern  = regexp.MustCompile(`[A-Z]`)
	lowerCasePattern  = regexp.MustCompile(`[a-z]`)
	digitPattern      = regexp.MustCompile(`[0-9]`)
	specialCharacters = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// disposableDomains lists throwaway email providers rejected at signup.
var disposableDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"tempmail.org":      {},
	"guerrillamail.com": {},
	"mailinator.com":    {},
	"temp-mail.org":     {},
	"throwaway.email":   {},
	"yopmail.com":       {},
	"maildrop.cc":       {},
	"tempail.com":       {},
}

// commonPasswords are rejected as substrings, case-insensitively.
var commonPasswords = []string{
	"password", "password123", "123456", "123456789", "qwerty",
	"abc123", "password1", "admin", "letmein", "welcome",
}

// Sanitize strips markup characters, quotes, javascript: protocol prefixes,
// and inline event-handler patterns from free-text input, then trims
// surrounding whitespace.
func Sanitize(input string) string {
	out := angleBracketPattern.ReplaceAllString(input, "")
	out = quotePattern.ReplaceAllString(out, "")
	out = jsProtocolPattern.ReplaceAllString(out, "")
	out = eventHandlerPattern.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// EmailResult reports the outcome of ValidateEmail.
type EmailResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ValidateEmail rejects addresses that sanitisation would alter (a signal of
// injected content), malformed addresses, and known disposable domains.
func ValidateEmail(email string) EmailResult {
	if Sanitize(email) != email {
		return EmailResult{Valid: false, Reason: "Contains invalid characters"}
	}

	if !emailPattern.MatchString(email) {
		return EmailResult{Valid: false, Reason: "Invalid email format"}
	}

	at := strings.LastIndex(email, "@")
	domain := strings.ToLower(email[at+1:])
	if _, disposable := disposableDomains[domain]; disposable {
		return EmailResult{Valid: false, Reason: "Disposable email addresses not allowed"}
	}

	return EmailResult{Valid: true}
}

// PasswordResult reports the outcome of ValidatePassword. Score is additive
// and capped at 10; Valid requires a score of at least 6.
type PasswordResult struct {
	Valid    bool     `json:"valid"`
	Score    int      `json:"score"`
	Feedback []string `json:"feedback"`
}

// ValidatePassword scores a candidate password on length, character variety,
// repetition, common-password substrings, and a Shannon-entropy estimate.
func ValidatePassword(password string) PasswordResult {
	feedback := make([]string, 0, 6)
	score := 0

	switch {
	case len(password) >= 12:
		score += 2
	case len(password) >= 8:
		score++
	default:
		feedback = append(feedback, "Password must be at least 12 characters long")
	}

	if upperCasePattern.MatchString(password) {
		score++
	} else {
		feedback = append(feedback, "Add uppercase letters")
	}

	if lowerCasePattern.MatchString(password) {
		score++
	} else {
		feedback = append(feedback, "Add lowercase letters")
	}

	if digitPattern.MatchString(password) {
		score++
	} else {
		feedback = append(feedback, "Add numbers")
	}

	if specialCharacters.MatchString(password) {
		score += 2
	} else {
		feedback = append(feedback, "Add special characters")
	}

	if !hasRepeatRun(password) {
		score++
	} else {
		feedback = append(feedback, "Avoid repeating characters")
	}

	lowered := strings.ToLower(password)
	common := false
	for _, candidate := range commonPasswords {
		if strings.Contains(lowered, candidate) {
			common = true
			break
		}
	}
	if !common {
		score++
	} else {
		feedback = append(feedback, "Avoid common passwords")
	}

	entropy := estimateEntropy(password)
	switch {
	case entropy > 50:
		score += 2
	case entropy > 30:
		score++
	}

	if score > 10 {
		score = 10
	}

	return PasswordResult{
		Valid:    score >= 6,
		Score:    score,
		Feedback: feedback,
	}
}

// hasRepeatRun reports whether the string contains three or more identical
// consecutive runes.
func hasRepeatRun(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= 3 {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// estimateEntropy approximates password entropy in bits as
// length * log2(distinct runes).
func estimateEntropy(password string) float64 {
	distinct := make(map[rune]struct{}, len(password))
	length := 0
	for _, r := range password {
		distinct[r] = struct{}{}
		length++
	}
	if length == 0 || len(distinct) == 0 {
		return 0
	}
	return float64(length) * math.Log2(float64(len(distinct)))
}

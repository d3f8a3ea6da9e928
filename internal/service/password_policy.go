package service

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"task-tracker/internal/model"
)

//go:embed common_passwords.txt
var commonPasswordsFile string

// PasswordValidator rejects a password for the given (not yet saved) user.
type PasswordValidator interface {
	Validate(password string, user *model.User) error
}

// PasswordPolicy runs every validator and reports all failures.
type PasswordPolicy []PasswordValidator

// DefaultPasswordPolicy mirrors the usual account rules: length bounds,
// no common or purely numeric passwords, nothing close to the user's own
// attributes.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		UserAttributeSimilarity{MaxSimilarity: 0.7},
		MinimumLength{Min: 8},
		MaximumLength{Max: 72},
		NewCommonPasswords(commonPasswordsFile),
		NumericPassword{},
	}
}

// Check returns the messages of every failing validator.
func (p PasswordPolicy) Check(password string, user *model.User) []string {
	var msgs []string
	for _, v := range p {
		if err := v.Validate(password, user); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

type MinimumLength struct {
	Min int
}

func (v MinimumLength) Validate(password string, _ *model.User) error {
	if len([]rune(password)) < v.Min {
		return fmt.Errorf("This password is too short. It must contain at least %d characters.", v.Min)
	}
	return nil
}

// MaximumLength guards the bcrypt input limit, which counts bytes.
type MaximumLength struct {
	Max int
}

func (v MaximumLength) Validate(password string, _ *model.User) error {
	if len(password) > v.Max {
		return fmt.Errorf("This password is too long. It must contain at most %d bytes.", v.Max)
	}
	return nil
}

type CommonPasswords struct {
	set map[string]struct{}
}

// NewCommonPasswords builds the validator from a newline separated list.
func NewCommonPasswords(list string) CommonPasswords {
	set := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(list))
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line != "" {
			set[line] = struct{}{}
		}
	}
	return CommonPasswords{set: set}
}

func (v CommonPasswords) Validate(password string, _ *model.User) error {
	if _, ok := v.set[strings.ToLower(strings.TrimSpace(password))]; ok {
		return errors.New("This password is too common.")
	}
	return nil
}

type NumericPassword struct{}

func (NumericPassword) Validate(password string, _ *model.User) error {
	if password == "" {
		return nil
	}
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return nil
		}
	}
	return errors.New("This password is entirely numeric.")
}

var nonWord = regexp.MustCompile(`\W+`)

// UserAttributeSimilarity rejects passwords that closely resemble the
// username, e-mail or names of the user.
type UserAttributeSimilarity struct {
	MaxSimilarity float64
}

func (v UserAttributeSimilarity) Validate(password string, user *model.User) error {
	if user == nil {
		return nil
	}
	attrs := []struct {
		name  string
		value string
	}{
		{"username", user.Username},
		{"email address", user.Email},
		{"first name", user.FirstName},
		{"last name", user.LastName},
	}

	password = strings.ToLower(password)
	for _, attr := range attrs {
		value := strings.ToLower(attr.value)
		if value == "" {
			continue
		}
		parts := append(nonWord.Split(value, -1), value)
		for _, part := range parts {
			if part == "" {
				continue
			}
			if similarity(password, part) >= v.MaxSimilarity {
				return fmt.Errorf("The password is too similar to the %s.", attr.name)
			}
		}
	}
	return nil
}

// similarity is an upper bound on the matching-blocks ratio: twice the
// number of shared characters over the combined length.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	avail := make(map[rune]int, len(rb))
	for _, r := range rb {
		avail[r]++
	}
	matches := 0
	for _, r := range ra {
		if avail[r] > 0 {
			avail[r]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(total)
}

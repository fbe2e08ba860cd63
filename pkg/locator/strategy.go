package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is how a rule's expression is evaluated against the page
type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
	// KindText matches elements selected by Expr (CSS) whose text matches Pattern (regex)
	KindText Kind = "text"
)

// Rule is one way of finding a field on a page
type Rule struct {
	Kind    Kind   `json:"kind" mapstructure:"kind"`
	Expr    string `json:"expr" mapstructure:"expr"`
	Pattern string `json:"pattern,omitempty" mapstructure:"pattern"`
}

func (r Rule) String() string {
	if r.Kind == KindText {
		return fmt.Sprintf("%s(%s ~ /%s/)", r.Kind, r.Expr, r.Pattern)
	}
	return fmt.Sprintf("%s(%s)", r.Kind, r.Expr)
}

// Validate checks the rule can be evaluated
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Expr) == "" {
		return fmt.Errorf("rule %s has an empty expression", r.Kind)
	}
	switch r.Kind {
	case KindCSS, KindXPath:
		return nil
	case KindText:
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid text pattern %q: %w", r.Pattern, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

func CSS(expr string) Rule   { return Rule{Kind: KindCSS, Expr: expr} }
func XPath(expr string) Rule { return Rule{Kind: KindXPath, Expr: expr} }

// Text matches elements selected by css whose visible text matches pattern
func Text(css, pattern string) Rule {
	return Rule{Kind: KindText, Expr: css, Pattern: pattern}
}

// FieldID names a logical control on the login page or the submission form
type FieldID string

const (
	FieldUsername         FieldID = "username"
	FieldPassword         FieldID = "password"
	FieldLoginButton      FieldID = "login_button"
	FieldCreateSubmission FieldID = "create_submission"
	FieldDropdownMenu     FieldID = "dropdown_menu"
	FieldCategoryLink     FieldID = "category_link"
	FieldForm             FieldID = "form"
	FieldTitle            FieldID = "title"
	FieldAbstract         FieldID = "abstract"
	FieldCheckbox         FieldID = "checkbox"
	FieldUploadButton     FieldID = "upload_button"
	FieldSubmitButton     FieldID = "submit_button"
	FieldSuccess          FieldID = "success_indicator"
	FieldDoneButton       FieldID = "done_button"
)

// Strategy maps each field to its ordered fallback rules
type Strategy map[FieldID][]Rule

// Rules returns the rules for field in priority order
func (s Strategy) Rules(field FieldID) []Rule {
	return s[field]
}

// Clone returns a deep copy of the strategy
func (s Strategy) Clone() Strategy {
	out := make(Strategy, len(s))
	for field, rules := range s {
		out[field] = append([]Rule(nil), rules...)
	}
	return out
}

// With returns a copy with rules appended after the existing ones for field
func (s Strategy) With(field FieldID, rules ...Rule) Strategy {
	out := s.Clone()
	out[field] = append(out[field], rules...)
	return out
}

// Merge appends every rule in extra to a copy of s
func (s Strategy) Merge(extra map[string][]Rule) Strategy {
	out := s.Clone()
	for field, rules := range extra {
		out[FieldID(field)] = append(out[FieldID(field)], rules...)
	}
	return out
}

// Validate checks every rule in the strategy
func (s Strategy) Validate() error {
	for field, rules := range s {
		for i, r := range rules {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("field %s rule %d: %w", field, i, err)
			}
		}
	}
	return nil
}

// DefaultStrategy returns the rules for the conference management site's login page and
// new-submission form
func DefaultStrategy() Strategy {
	return Strategy{
		FieldUsername: {
			XPath(`//input[@placeholder='Email']`),
			CSS(`input[type='email']`),
			CSS(`input[name='Email']`),
		},
		FieldPassword: {
			XPath(`//input[@type='password']`),
		},
		FieldLoginButton: {
			XPath(`//button[text()='Log In']`),
			CSS(`button[type='submit']`),
		},
		FieldCreateSubmission: {
			XPath(`//a[contains(@href, 'Create') and contains(@role, 'button')]`),
			CSS(`a.btn.dropdown-toggle`),
			Text(`a, button`, `(?i)create new submission`),
		},
		FieldDropdownMenu: {
			XPath(`//ul[contains(@class,'dropdown-menu') and contains(@class,'show')]`),
			CSS(`ul.dropdown-menu.show`),
		},
		FieldCategoryLink: {
			CSS(`ul.dropdown-menu.show a`),
			XPath(`//ul[contains(@class,'dropdown-menu')]//a`),
		},
		FieldForm: {
			CSS(`form`),
		},
		FieldTitle: {
			XPath(`//input[contains(@id,'title') or contains(@name,'title')]`),
			XPath(`//input[contains(@id,'Title') or contains(@name,'Title')]`),
		},
		FieldAbstract: {
			XPath(`//textarea[contains(@id,'abstract') or contains(@name,'abstract')]`),
			XPath(`//textarea[contains(@id,'Abstract') or contains(@name,'Abstract')]`),
		},
		FieldCheckbox: {
			XPath(`//input[@type='checkbox' and (contains(@id,'agree') or contains(@name,'agree') ` +
				`or contains(@id,'terms') or contains(@name,'terms') ` +
				`or contains(@id,'confirm') or contains(@name,'confirm'))]`),
			XPath(`//input[@type='checkbox']`),
		},
		FieldUploadButton: {
			XPath(`//button[contains(text(),'Upload from Computer')]`),
			CSS(`input[type='file']`),
		},
		FieldSubmitButton: {
			XPath(`//button[contains(@class,'btn btn-primary') and (text()='Submit' or text()='Save changes')]`),
			Text(`button[type='submit']`, `^\s*(Submit|Save changes)\s*$`),
		},
		FieldSuccess: {
			XPath(`//a[text()='Done']`),
			Text(`.alert-success, .toast-success`, `(?i)submission`),
		},
		FieldDoneButton: {
			XPath(`//a[text()='Done']`),
		},
	}
}

package oidc

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/zitadel/schema"
	"golang.org/x/text/language"
)

// Audience is the `aud` claim, which the wire format allows
// to be either a single string or an array of strings.
type Audience []string

func (a *Audience) UnmarshalJSON(text []byte) error {
	var i any
	if err := json.Unmarshal(text, &i); err != nil {
		return err
	}
	switch aud := i.(type) {
	case []any:
		*a = make([]string, 0, len(aud))
		for _, audience := range aud {
			s, ok := audience.(string)
			if !ok {
				return ErrParse
			}
			*a = append(*a, s)
		}
	case string:
		*a = []string{aud}
	}
	return nil
}

type SpaceDelimitedArray []string

func (s SpaceDelimitedArray) String() string {
	return strings.Join(s, " ")
}

func (s SpaceDelimitedArray) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SpaceDelimitedArray) UnmarshalText(text []byte) error {
	*s = strings.Fields(string(text))
	return nil
}

func (s SpaceDelimitedArray) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SpaceDelimitedArray) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = strings.Fields(str)
	return nil
}

// Time is a JSON numeric date (seconds since the Unix epoch).
// The zero value marks an absent claim.
type Time int64

func (ts Time) AsTime() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0)
}

func FromTime(tt time.Time) Time {
	if tt.IsZero() {
		return 0
	}
	return Time(tt.Unix())
}

func NowTime() Time {
	return FromTime(time.Now())
}

func (ts *Time) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return ErrParse
	}
	switch x := v.(type) {
	case float64:
		*ts = Time(x)
	case nil:
		*ts = 0
	default:
		return ErrParse
	}
	return nil
}

type Display string

func (d *Display) UnmarshalText(text []byte) error {
	display := Display(text)
	switch display {
	case DisplayPage, DisplayPopup, DisplayTouch, DisplayWAP:
		*d = display
	}
	return nil
}

const (
	DisplayPage  Display = "page"
	DisplayPopup Display = "popup"
	DisplayTouch Display = "touch"
	DisplayWAP   Display = "wap"
)

type Prompt SpaceDelimitedArray

const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

type ResponseType string

const (
	ResponseTypeCode        ResponseType = "code"
	ResponseTypeIDToken     ResponseType = "id_token token"
	ResponseTypeIDTokenOnly ResponseType = "id_token"
)

type ResponseMode string

const (
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFragment ResponseMode = "fragment"
	ResponseModeFormPost ResponseMode = "form_post"
)

type GrantType string

const (
	GrantTypeCode         GrantType = "authorization_code"
	GrantTypeRefreshToken GrantType = "refresh_token"
)

// Locale is a BCP47 language tag as used in userinfo claims.
// Malformed values on the wire are dropped instead of failing
// the whole response.
type Locale struct {
	tag language.Tag
}

func NewLocale(tag language.Tag) *Locale {
	return &Locale{tag: tag}
}

func (l *Locale) Tag() language.Tag {
	if l == nil {
		return language.Und
	}
	return l.tag
}

func (l *Locale) String() string {
	return l.Tag().String()
}

func (l *Locale) MarshalJSON() ([]byte, error) {
	tag := l.Tag()
	if tag.IsRoot() {
		return []byte("null"), nil
	}
	return json.Marshal(tag)
}

func (l *Locale) UnmarshalJSON(data []byte) error {
	err := json.Unmarshal(data, &l.tag)
	if err == nil {
		return nil
	}
	// ignore the error of a malformed tag and reset the tag,
	// so that the remainder of the claims can still be used
	l.tag = language.Und
	return nil
}

// NewEncoder returns a form encoder aware of the
// SpaceDelimitedArray wire representation.
func NewEncoder() *schema.Encoder {
	e := schema.NewEncoder()
	e.RegisterEncoder(SpaceDelimitedArray{}, func(value reflect.Value) string {
		return value.Interface().(SpaceDelimitedArray).String()
	})
	return e
}

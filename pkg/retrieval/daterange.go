package retrieval

import (
	"strings"
	"time"
)

// Language describes a supported conversation language.
type Language struct {
	Name  string
	Code  string
	Month string
	Week  string
}

// Languages lists the supported languages by name.
var Languages = map[string]Language{
	"English":    {Name: "English", Code: "en", Month: "month", Week: "week"},
	"German":     {Name: "German", Code: "de", Month: "monat", Week: "woche"},
	"French":     {Name: "French", Code: "fr", Month: "mois", Week: "semaine"},
	"Spanish":    {Name: "Spanish", Code: "es", Month: "mes", Week: "semana"},
	"Portuguese": {Name: "Portuguese", Code: "pt", Month: "mês", Week: "semana"},
	"Italian":    {Name: "Italian", Code: "it", Month: "mese", Week: "settimana"},
	"Dutch":      {Name: "Dutch", Code: "nl", Month: "maand", Week: "week"},
	"Czech":      {Name: "Czech", Code: "cs", Month: "měsíc", Week: "týden"},
	"Polish":     {Name: "Polish", Code: "pl", Month: "miesiąc", Week: "tydzień"},
	"Russian":    {Name: "Russian", Code: "ru", Month: "месяц", Week: "неделя"},
	"Arabic":     {Name: "Arabic", Code: "ar", Month: "شهر", Week: "أسبوع"},
}

// LookupLanguage returns the language with the given name, falling back to
// English.
func LookupLanguage(name string) Language {
	if lang, ok := Languages[name]; ok {
		return lang
	}
	return Languages["English"]
}

const (
	monthSpanDays  = 15
	monthWidenDays = 30
	weekSpanDays   = 4
	weekWidenDays  = 7
)

// DeriveRange widens a resolved [start, end] range when expr names a month
// or a week but the parser collapsed it to a near point. English keywords are
// always recognized; the localized keyword of language is recognized too.
func DeriveRange(expr string, start, end time.Time, language string) (time.Time, time.Time) {
	lower := strings.ToLower(expr)
	lang := LookupLanguage(language)

	monthKeys := []string{"month"}
	weekKeys := []string{"week"}
	if lang.Name != "English" {
		monthKeys = append(monthKeys, lang.Month)
		weekKeys = append(weekKeys, lang.Week)
	}

	if containsAny(lower, monthKeys) && spanDays(start, end) < monthSpanDays {
		start = start.AddDate(0, 0, -monthWidenDays)
		end = end.AddDate(0, 0, monthWidenDays)
	}
	if containsAny(lower, weekKeys) && spanDays(start, end) < weekSpanDays {
		start = start.AddDate(0, 0, -weekWidenDays)
		end = end.AddDate(0, 0, weekWidenDays)
	}
	return start, end
}

func spanDays(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}

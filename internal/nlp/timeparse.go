// Package nlp implements the time/date/cron parser and intent classifier
// (spec's "Parsers & Domain Ontology", C11), recognising pt-PT, pt-BR,
// es and en phrasings of reminder and recurrence expressions.
package nlp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/zapista/organizer/internal/store"
)

// weekdays maps every supported-language weekday spelling to its cron
// day-of-week number (0=Sunday).
var weekdays = map[string]int{
	"domingo": 0, "sunday": 0, "domingo-feira": 0,
	"segunda": 1, "segunda-feira": 1, "monday": 1, "lunes": 1,
	"terca": 2, "terça": 2, "terca-feira": 2, "terça-feira": 2, "tuesday": 2, "martes": 2,
	"quarta": 3, "quarta-feira": 3, "wednesday": 3, "miercoles": 3, "miércoles": 3,
	"quinta": 4, "quinta-feira": 4, "thursday": 4, "jueves": 4,
	"sexta": 5, "sexta-feira": 5, "friday": 5, "viernes": 5,
	"sabado": 6, "sábado": 6, "saturday": 6, "sabado-feira": 6,
}

var months = map[string]int{
	"janeiro": 1, "january": 1, "enero": 1,
	"fevereiro": 2, "february": 2, "febrero": 2,
	"marco": 3, "março": 3, "march": 3, "marzo": 3,
	"abril": 4, "april": 4,
	"maio": 5, "may": 5, "mayo": 5,
	"junho": 6, "june": 6, "junio": 6,
	"julho": 7, "july": 7, "julio": 7,
	"agosto": 8, "august": 8,
	"setembro": 9, "september": 9, "septiembre": 9,
	"outubro": 10, "october": 10, "octubre": 10,
	"novembro": 11, "november": 11, "noviembre": 11,
	"dezembro": 12, "december": 12, "diciembre": 12,
}

var diacritics = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c", "ñ", "n",
)

// foldDiacritics lowercases and strips accents, for diacritic-tolerant
// matching; the original (accented) text is kept separately for deriving
// the cleaned message.
func foldDiacritics(s string) string {
	return diacritics.Replace(strings.ToLower(s))
}

var (
	reInDuration    = regexp.MustCompile(`(?i)\b(?:em|daqui a|in|dentro de|en)\s+(\d+)\s*(min|minuto|minutos|minute|minutes|hora|horas|hour|hours|dia|dias|day|days)\b`)
	reEveryDuration = regexp.MustCompile(`(?i)\b(?:a cada|every|cada)\s+(\d+)\s*(min|minuto|minutos|minute|minutes|hora|horas|hour|hours|dia|dias|day|days)\b`)
	reTomorrowAt    = regexp.MustCompile(`(?i)\b(?:amanh[ãa]|tomorrow|ma[ñn]ana)\s+(?:[àa]s?\s*)?(\d{1,2})(?::(\d{2}))?\s*h?\b`)
	reTodayAt       = regexp.MustCompile(`(?i)\b(?:hoje|today|hoy)\s+(?:[àa]s?\s*)?(\d{1,2})(?::(\d{2}))?\s*h?\b`)
	reTimeOfDay     = regexp.MustCompile(`(?i)\b(?:[àa]s?)\s*(\d{1,2})(?::(\d{2}))?\s*h?\b|\b(\d{1,2}):(\d{2})\b|\b(\d{3,4})\b`)
	reDailyAt       = regexp.MustCompile(`(?i)\b(?:todo dia|todos os dias|diariamente|every day|daily|todos los dias)\s+(?:[àa]s?)?\s*(\d{1,2})\s*h?\b`)
	reWeeklyOn      = regexp.MustCompile(`(?i)\b(?:toda|every|cada)\s+(?:semana\s+)?([a-z\x{00C0}-\x{024F}]+(?:-feira)?)\s+(?:[àa]s?)?\s*(\d{1,2})\s*h?\b`)
	reMonthly       = regexp.MustCompile(`(?i)\b(?:mensalmente|monthly|mensualmente)\s+dia\s+(\d{1,2})\s+(?:[àa]s?)?\s*(\d{1,2})\s*h?\b`)
	reAbsoluteDate  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:/|de)\s*(\d{1,2}|` + monthAlternation() + `)(?:\s*(?:de|/)\s*(\d{4}))?\b`)
	reStartFrom     = regexp.MustCompile(`(?i)\b(?:a partir de|starting|desde el)\s+(\d{1,2})\s*(?:/|de)\s*(\d{1,2}|` + monthAlternation() + `)(?:\s*(?:de|/)\s*(\d{4}))?\b`)
)

func monthAlternation() string {
	names := make([]string, 0, len(months))
	for name := range months {
		names = append(names, regexp.QuoteMeta(name))
	}
	return strings.Join(names, "|")
}

// ParseResult is the outcome of parsing a reminder-time expression.
type ParseResult struct {
	Schedule store.Schedule
	Message  string // the input text with the matched time expression stripped
	Matched  bool
}

// ParseReminderTime recognises the time/date/cron phrasings spec §4.6
// names, against now (interpreted in loc) and returns the schedule plus
// the input text with the matched expression removed.
func ParseReminderTime(text string, now time.Time, loc *time.Location) ParseResult {
	folded := foldDiacritics(text)

	if m := reInDuration.FindStringSubmatchIndex(folded); m != nil {
		n, _ := strconv.Atoi(folded[m[2]:m[3]])
		unit := folded[m[4]:m[5]]
		seconds := n * unitSeconds(unit)
		if seconds > 0 && seconds <= 86400*30 {
			msg := strip(text, m[0], m[1])
			return ParseResult{
				Schedule: store.Schedule{Kind: store.ScheduleAt, AtMS: now.Add(time.Duration(seconds) * time.Second).UnixMilli()},
				Message:  msg, Matched: true,
			}
		}
	}

	if m := reEveryDuration.FindStringSubmatchIndex(folded); m != nil {
		n, _ := strconv.Atoi(folded[m[2]:m[3]])
		unit := folded[m[4]:m[5]]
		seconds := n * unitSeconds(unit)
		if seconds >= 1800 && seconds <= 86400*30 {
			msg := strip(text, m[0], m[1])
			return ParseResult{
				Schedule: store.Schedule{Kind: store.ScheduleEvery, EveryMS: int64(seconds) * 1000},
				Message:  msg, Matched: true,
			}
		}
	}

	if m := reTomorrowAt.FindStringSubmatchIndex(folded); m != nil {
		hour := clampHour(atoiRange(folded, m, 2, 3))
		minute := atoiRangeOr(folded, m, 4, 5, 0)
		tomorrow := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc).AddDate(0, 0, 1)
		delta := tomorrow.Sub(now)
		if delta > 0 && delta <= 30*24*time.Hour {
			msg := strip(text, m[0], m[1])
			return ParseResult{Schedule: store.Schedule{Kind: store.ScheduleAt, AtMS: tomorrow.UnixMilli()}, Message: msg, Matched: true}
		}
	}

	if m := reTodayAt.FindStringSubmatchIndex(folded); m != nil {
		hour := clampHour(atoiRange(folded, m, 2, 3))
		minute := atoiRangeOr(folded, m, 4, 5, 0)
		today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
		if today.Before(now) {
			today = today.AddDate(0, 0, 1)
		}
		msg := strip(text, m[0], m[1])
		return ParseResult{Schedule: store.Schedule{Kind: store.ScheduleAt, AtMS: today.UnixMilli()}, Message: msg, Matched: true}
	}

	if m := reDailyAt.FindStringSubmatchIndex(folded); m != nil {
		hour := clampHour(atoiRange(folded, m, 2, 3))
		msg := strip(text, m[0], m[1])
		return ParseResult{Schedule: store.Schedule{Kind: store.ScheduleCron, Expr: fmt.Sprintf("0 %d * * *", hour), TZ: loc.String()}, Message: msg, Matched: true}
	}

	if m := reWeeklyOn.FindStringSubmatch(folded); m != nil {
		if dow, ok := weekdays[m[1]]; ok {
			hour := clampHour(atoiOr(m[2], 9))
			idx := reWeeklyOn.FindStringIndex(folded)
			msg := strip(text, idx[0], idx[1])
			return ParseResult{Schedule: store.Schedule{Kind: store.ScheduleCron, Expr: fmt.Sprintf("0 %d * * %d", hour, dow), TZ: loc.String()}, Message: msg, Matched: true}
		}
	}

	if m := reMonthly.FindStringSubmatchIndex(folded); m != nil {
		day := atoiRange(folded, m, 2, 3)
		hour := clampHour(atoiRange(folded, m, 4, 5))
		if day >= 1 && day <= 28 {
			msg := strip(text, m[0], m[1])
			return ParseResult{Schedule: store.Schedule{Kind: store.ScheduleCron, Expr: fmt.Sprintf("0 %d %d * *", hour, day), TZ: loc.String()}, Message: msg, Matched: true}
		}
	}

	if m := reAbsoluteDate.FindStringSubmatch(folded); m != nil {
		if t, ok := resolveAbsoluteDate(m, now, loc); ok {
			idx := reAbsoluteDate.FindStringIndex(folded)
			msg := strip(text, idx[0], idx[1])
			return ParseResult{Schedule: store.Schedule{Kind: store.ScheduleAt, AtMS: t.UnixMilli()}, Message: msg, Matched: true}
		}
	}

	return ParseResult{Message: strings.TrimSpace(text)}
}

// ExtractStartDate recognises "a partir de <date>" / "starting <date>" /
// "desde el <date>" as a recurring job's not-before instant.
func ExtractStartDate(text string, now time.Time, loc *time.Location) (int64, bool) {
	folded := foldDiacritics(text)
	m := reStartFrom.FindStringSubmatch(folded)
	if m == nil {
		return 0, false
	}
	if t, ok := resolveAbsoluteDate(m, now, loc); ok {
		return t.UnixMilli(), true
	}
	return 0, false
}

func resolveAbsoluteDate(m []string, now time.Time, loc *time.Location) (time.Time, bool) {
	day, err := strconv.Atoi(m[1])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	month := 0
	if n, err := strconv.Atoi(m[2]); err == nil {
		month = n
	} else if mo, ok := months[m[2]]; ok {
		month = mo
	}
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	year := now.Year()
	if len(m) > 3 && m[3] != "" {
		if y, err := strconv.Atoi(m[3]); err == nil {
			year = y
		}
	}
	if day > 28 {
		day = 28 // mirrors the original's conservative clamp for month-length safety
	}
	t := time.Date(year, time.Month(month), day, 9, 0, 0, 0, loc)
	if t.Before(now) && len(m) <= 3 {
		t = time.Date(year+1, time.Month(month), day, 9, 0, 0, 0, loc)
	}
	return t, true
}

func unitSeconds(unit string) int {
	switch {
	case strings.HasPrefix(unit, "hora"), strings.HasPrefix(unit, "hour"):
		return 3600
	case strings.HasPrefix(unit, "dia"), strings.HasPrefix(unit, "day"):
		return 86400
	default:
		return 60
	}
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

func atoiRange(s string, m []int, a, b int) int {
	if m[a] < 0 {
		return 0
	}
	n, _ := strconv.Atoi(s[m[a]:m[b]])
	return n
}

func atoiRangeOr(s string, m []int, a, b, def int) int {
	if a >= len(m) || m[a] < 0 {
		return def
	}
	n, err := strconv.Atoi(s[m[a]:m[b]])
	if err != nil {
		return def
	}
	return n
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// strip removes text[start:end] and trims connector words the original
// implementation also strips from the front of the remaining message.
func strip(text string, start, end int) string {
	if start < 0 || end > len(text) || start > end {
		return strings.TrimSpace(text)
	}
	cleaned := strings.TrimSpace(text[:start] + text[end:])
	return cleanMessage(cleaned)
}

var connectorPrefixes = []string{"de ", "para ", "a ", "sobre ", "that ", "para que "}

// cleanMessage trims leading connector words left behind once the time
// expression is removed, and falls back to a generic label when nothing
// remains.
func cleanMessage(t string) string {
	t = strings.TrimSpace(t)
	for strings.HasPrefix(t, "/") {
		t = strings.TrimSpace(strings.TrimPrefix(t, "/"))
	}
	changed := true
	for changed {
		changed = false
		lower := strings.ToLower(t)
		for _, p := range connectorPrefixes {
			if strings.HasPrefix(lower, p) && len(t) > len(p) {
				t = t[len(p):]
				t = strings.TrimLeftFunc(t, unicode.IsSpace)
				changed = true
				break
			}
		}
	}
	if t == "" {
		return "Lembrete"
	}
	return t
}

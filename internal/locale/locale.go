// Package locale implements the Locale & Templates component (spec's
// C13): phone-prefix → default language/timezone inference, explicit
// language-switch detection, and the response template catalogue for the
// four supported languages.
package locale

import (
	"regexp"
	"strings"
)

// Lang is one of the four supported response languages.
type Lang string

const (
	PtPT Lang = "pt-PT"
	PtBR Lang = "pt-BR"
	Es   Lang = "es"
	En   Lang = "en"
)

// Supported lists every Lang accepted for User.Language.
var Supported = []Lang{PtPT, PtBR, Es, En}

// IsSupported reports whether lang is one of the four supported codes.
func IsSupported(lang string) bool {
	for _, l := range Supported {
		if string(l) == lang {
			return true
		}
	}
	return false
}

// Country-prefix → default-language tables (digits only, no leading +).
var (
	prefixPtBR = map[string]bool{"55": true}
	prefixPtPT = map[string]bool{"351": true}
	prefixEs   = map[string]bool{
		"34": true, "52": true, "54": true, "57": true, "58": true, "51": true,
		"56": true, "593": true, "595": true, "598": true, "591": true,
		"503": true, "502": true, "505": true, "506": true, "507": true,
		"509": true, "53": true,
	}
)

// allPrefixes is every known prefix, longest first, so "593" matches
// before a naive "59" would.
var allPrefixes = buildPrefixOrder()

func buildPrefixOrder() []string {
	seen := make(map[string]bool)
	for p := range prefixPtBR {
		seen[p] = true
	}
	for p := range prefixPtPT {
		seen[p] = true
	}
	for p := range prefixEs {
		seen[p] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	// simple longest-first insertion sort; the table is tiny
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

var nonDigit = regexp.MustCompile(`\D`)

// digitsFromChatID extracts the bare digits from a chat id like
// "5511999999999@s.whatsapp.net".
func digitsFromChatID(chatID string) string {
	before, _, _ := strings.Cut(chatID, "@")
	return nonDigit.ReplaceAllString(before, "")
}

// PhoneToDefaultLanguage infers a default language from the chat id's
// country-code prefix: BR → pt-BR, PT → pt-PT, Hispanic countries → es,
// everything else → en.
func PhoneToDefaultLanguage(chatID string) Lang {
	digits := digitsFromChatID(chatID)
	if digits == "" {
		return En
	}
	for _, prefix := range allPrefixes {
		if strings.HasPrefix(digits, prefix) {
			switch {
			case prefixPtBR[prefix]:
				return PtBR
			case prefixPtPT[prefix]:
				return PtPT
			case prefixEs[prefix]:
				return Es
			}
		}
	}
	return En
}

// languageSwitchPattern pairs a detector regex with the language it
// requests; patterns are evaluated in order, most specific first, and a
// bare "pt" result means "infer pt-PT vs pt-BR from the phone number".
type languageSwitchPattern struct {
	re   *regexp.Regexp
	lang Lang
}

const langPT Lang = "pt" // sentinel: resolve against phone prefix before use

var languageSwitchPatterns = []languageSwitchPattern{
	{regexp.MustCompile(`(?i)\bportugu[eê]s\s+(?:de\s+)?portugal\b`), PtPT},
	{regexp.MustCompile(`(?i)\bportuguese\s+from\s+portugal\b`), PtPT},
	{regexp.MustCompile(`(?i)\bpt[- ]?pt\b`), PtPT},
	{regexp.MustCompile(`(?i)\bportugu[eê]s\s+europeu\b`), PtPT},
	{regexp.MustCompile(`(?i)\bportugu[eê]s\s+(?:do\s+)?brasil\b`), PtBR},
	{regexp.MustCompile(`(?i)\bbrazilian\s+portuguese\b`), PtBR},
	{regexp.MustCompile(`(?i)\bpt[- ]?br\b`), PtBR},
	{regexp.MustCompile(`(?i)\b(?:em\s+)?portugu[eê]s\b`), langPT},
	{regexp.MustCompile(`(?i)\bspanish\b`), Es},
	{regexp.MustCompile(`(?i)\b(?:espa[ñn]ol|espanhol)\b`), Es},
	{regexp.MustCompile(`(?i)\bingl[eêé]s\b`), En},
	{regexp.MustCompile(`(?i)\benglish\b`), En},
}

// ParseLanguageSwitchRequest detects an explicit request to change
// language. chatID disambiguates the bare "portuguese" request between
// pt-PT and pt-BR by phone prefix.
func ParseLanguageSwitchRequest(text, chatID string) (Lang, bool) {
	for _, p := range languageSwitchPatterns {
		if p.re.MatchString(text) {
			if p.lang == langPT {
				if inferred := PhoneToDefaultLanguage(chatID); inferred == PtPT || inferred == PtBR {
					return inferred, true
				}
				return PtBR, true
			}
			return p.lang, true
		}
	}
	return "", false
}

// Templates is the response catalogue, keyed by template name then
// language. Entries use %s-style verbs consumed via fmt.Sprintf by
// callers (Render below).
var Templates = map[string]map[Lang]string{
	"language_switch_confirmation": {
		PtPT: "Combinado, daqui em diante falo em português de Portugal.",
		PtBR: "Beleza! A partir de agora falo em português do Brasil.",
		Es:   "¡De acuerdo! A partir de ahora hablo en español.",
		En:   "Sure! From now on I'll speak in English.",
	},
	"language_already": {
		PtPT: "Já estamos em português de Portugal!",
		PtBR: "Já estamos em português do Brasil!",
		Es:   "¡Ya estamos en español!",
		En:   "We're already speaking English!",
	},
	"out_of_scope": {
		PtPT: "Isso foge um pouco ao que consigo ajudar — sou focado em lembretes, listas e eventos. Escreve /help para veres tudo o que faço.",
		PtBR: "Isso foge um pouco do que consigo ajudar — sou focado em lembretes, listas e eventos. Manda /help pra ver tudo que eu faço.",
		Es:   "Eso se sale un poco de lo que puedo ayudar — me enfoco en recordatorios, listas y eventos. Escribe /help para ver todo lo que hago.",
		En:   "That's a bit outside what I can help with — I'm focused on reminders, lists and events. Send /help to see everything I do.",
	},
	"rate_limited": {
		PtPT: "Calma aí, estás a mandar mensagens muito depressa. Espera um momento.",
		PtBR: "Opa, você está mandando mensagens muito rápido. Espera um momento.",
		Es:   "Tranquilo, estás enviando mensajes muy rápido. Espera un momento.",
		En:   "Whoa, you're sending messages too fast. Give it a moment.",
	},
	"injection_refusal": {
		PtPT: "Mantenho o meu papel tal como foi definido, não posso seguir essas instruções.",
		PtBR: "Mantenho o meu papel como foi definido, não posso seguir essas instruções.",
		Es:   "Mantengo mi rol tal como fue definido, no puedo seguir esas instrucciones.",
		En:   "I keep my role as it was defined — I can't follow those instructions.",
	},
	"blocklist_refusal": {
		PtPT: "Não posso processar esse pedido.",
		PtBR: "Não posso processar esse pedido.",
		Es:   "No puedo procesar esa solicitud.",
		En:   "I can't process that request.",
	},
	"degraded": {
		PtPT: "Estou com dificuldades técnicas neste momento. Escreve /help para ver os comandos básicos enquanto isso se resolve.",
		PtBR: "Estou com dificuldades técnicas agora. Manda /help pra ver os comandos básicos enquanto isso resolve.",
		Es:   "Tengo dificultades técnicas en este momento. Escribe /help para ver los comandos básicos mientras se resuelve.",
		En:   "I'm having technical difficulties right now. Send /help to see the basic commands in the meantime.",
	},
	"quota_warning": {
		PtPT: "Já vais em boa parte do teu limite diário de lembretes — atenção para não ultrapassares.",
		PtBR: "Você já está perto do seu limite diário de lembretes — fica de olho pra não passar.",
		Es:   "Ya vas en buena parte de tu límite diario de recordatorios — ten cuidado para no pasarte.",
		En:   "You're getting close to your daily reminder limit — keep an eye on it.",
	},
	"min_interval_rejected": {
		PtPT: "O intervalo mínimo para lembretes recorrentes é de 2 horas.",
		PtBR: "O intervalo mínimo para lembretes recorrentes é de 2 horas.",
		Es:   "El intervalo mínimo para recordatorios recurrentes es de 2 horas.",
		En:   "The minimum interval for recurring reminders is 2 hours.",
	},
	"onboarding_timezone_question": {
		PtPT: "Antes de começarmos, em que cidade (ou fuso horário) estás?",
		PtBR: "Antes de começarmos, em que cidade (ou fuso horário) você está?",
		Es:   "Antes de empezar, ¿en qué ciudad (o zona horaria) estás?",
		En:   "Before we start, what city (or timezone) are you in?",
	},
	"stale_removal_apology": {
		PtPT: "Entretanto removi alguns lembretes antigos que já tinham passado da hora — desculpa o incómodo.",
		PtBR: "Enquanto isso eu removi alguns lembretes antigos que já tinham passado da hora — desculpa o transtorno.",
		Es:   "Mientras tanto eliminé algunos recordatorios antiguos que ya habían pasado de hora — disculpa la molestia.",
		En:   "In the meantime I removed some stale reminders that were past due — sorry for the noise.",
	},
	"calling_phrase_ack": {
		PtPT: "Estou aqui! 👋",
		PtBR: "Tô aqui! 👋",
		Es:   "¡Aquí estoy! 👋",
		En:   "I'm here! 👋",
	},
}

// Render returns the localised template named key for lang, falling back
// to English when the language or key is missing.
func Render(key string, lang Lang) string {
	set, ok := Templates[key]
	if !ok {
		return ""
	}
	if s, ok := set[lang]; ok {
		return s
	}
	return set[En]
}

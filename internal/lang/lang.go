// Package lang holds the language tables shared by the recognizer, the
// translator and the synthesizers.
package lang

import "strings"

type entry struct {
	name       string
	recognizer string
	voice      string
}

var table = map[string]entry{
	"en": {name: "English", recognizer: "en", voice: "English_Male_1"},
	"es": {name: "Spanish", recognizer: "es", voice: "Spanish_Male_1"},
	"fr": {name: "French", recognizer: "fr", voice: "French_Male_1"},
	"de": {name: "German", recognizer: "de", voice: "German_Male_1"},
	"it": {name: "Italian", recognizer: "it", voice: "Italian_Male_1"},
	"pt": {name: "Portuguese", recognizer: "pt", voice: "Portuguese_Male_1"},
	"zh": {name: "Chinese (Mandarin)", recognizer: "cmn", voice: "Chinese_Male_1"},
	"ja": {name: "Japanese", recognizer: "ja", voice: "Japanese_Male_1"},
	"ko": {name: "Korean", recognizer: "ko", voice: "Korean_Male_1"},
	"ar": {name: "Arabic", recognizer: "ar", voice: "Arabic_Male_1"},
	"hi": {name: "Hindi", recognizer: "hi", voice: "Hindi_Male_1"},
	"ru": {name: "Russian", recognizer: "ru", voice: "Russian_Male_1"},
	"nl": {name: "Dutch", recognizer: "nl", voice: "Dutch_Male_1"},
	"sv": {name: "Swedish", recognizer: "sv", voice: "Swedish_Male_1"},
	"pl": {name: "Polish", recognizer: "pl", voice: "Polish_Male_1"},
	"tr": {name: "Turkish", recognizer: "tr", voice: "Turkish_Male_1"},
}

const defaultVoice = "English_Male_1"

// Normalize lowercases and trims a language code.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// DisplayName returns the English name used in translation prompts. Unknown
// codes are returned unchanged.
func DisplayName(code string) string {
	if e, ok := table[Normalize(code)]; ok {
		return e.name
	}
	return code
}

// RecognizerCode maps a client language code to the recognizer's code.
func RecognizerCode(code string) string {
	c := Normalize(code)
	if e, ok := table[c]; ok {
		return e.recognizer
	}
	return c
}

// DefaultVoice returns the stock synthesis voice for a language.
func DefaultVoice(code string) string {
	if e, ok := table[Normalize(code)]; ok {
		return e.voice
	}
	return defaultVoice
}

// Known reports whether the code is in the supported table.
func Known(code string) bool {
	_, ok := table[Normalize(code)]
	return ok
}

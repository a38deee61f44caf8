package theme

import (
	"os"
	"strings"
)

// SymbolSet holds the glyphs printed by the CLI.
type SymbolSet struct {
	Success   string
	Error     string
	Warning   string
	Info      string
	Spinner   string
	Bullet    string
	Ellipsis  string
	User      string
	Assistant string
}

var unicodeSymbols = SymbolSet{
	Success:   "\u2713", // ✓
	Error:     "\u2717", // ✗
	Warning:   "\u26A0", // ⚠
	Info:      "\u25CF", // ●
	Spinner:   "\u23F3", // ⏳
	Bullet:    "\u2022", // •
	Ellipsis:  "\u2026", // …
	User:      "You",
	Assistant: "Assistant",
}

var asciiSymbols = SymbolSet{
	Success:   "[OK]",
	Error:     "[ERR]",
	Warning:   "[!]",
	Info:      "[i]",
	Spinner:   "[...]",
	Bullet:    "*",
	Ellipsis:  "...",
	User:      "You",
	Assistant: "Assistant",
}

// Symbols is the active set, chosen by InitSymbols.
var Symbols = unicodeSymbols

// DetectUnicodeSupport reports whether the terminal likely renders Unicode.
// AICHAT_ASCII_SYMBOLS=1 forces ASCII.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("AICHAT_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	return true
}

// InitSymbols picks the symbol set for the current environment.
func InitSymbols() {
	if DetectUnicodeSupport() {
		Symbols = unicodeSymbols
	} else {
		Symbols = asciiSymbols
	}
}

func init() {
	InitSymbols()
}

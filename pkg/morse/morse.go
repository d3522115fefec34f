package morse

import (
	"fmt"
	"strings"
	"time"
)

// ITU code table. Prosigns are written between angle brackets in text.
var codes = map[rune]string{
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..", 'E': ".",
	'F': "..-.", 'G': "--.", 'H': "....", 'I': "..", 'J': ".---",
	'K': "-.-", 'L': ".-..", 'M': "--", 'N': "-.", 'O': "---",
	'P': ".--.", 'Q': "--.-", 'R': ".-.", 'S': "...", 'T': "-",
	'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-", 'Y': "-.--",
	'Z': "--..",

	'0': "-----", '1': ".----", '2': "..---", '3': "...--", '4': "....-",
	'5': ".....", '6': "-....", '7': "--...", '8': "---..", '9': "----.",

	'.': ".-.-.-", ',': "--..--", '?': "..--..", '\'': ".----.",
	'!': "-.-.--", '/': "-..-.", '(': "-.--.", ')': "-.--.-",
	'&': ".-...", ':': "---...", ';': "-.-.-.", '=': "-...-",
	'+': ".-.-.", '-': "-....-", '_': "..--.-", '"': ".-..-.",
	'$': "...-..-", '@': ".--.-.",
}

var prosigns = map[string]string{
	"AR":  ".-.-.",
	"AS":  ".-...",
	"BK":  "-...-.-",
	"BT":  "-...-",
	"CT":  "-.-.-",
	"KN":  "-.--.",
	"SK":  "...-.-",
	"SN":  "...-.",
	"SOS": "...---...",
}

// PARIS timing in dot units
const (
	DitUnits        = 1
	DahUnits        = 3
	ElementGapUnits = 1
	LetterGapUnits  = 3
	WordGapUnits    = 7

	// unitsPerWord is the length of "PARIS " which defines one word per minute
	unitsPerWord = 50
)

const (
	MinWPM     = 5
	MaxWPM     = 60
	DefaultWPM = 20
)

// Element is one keyed or silent span measured in dot units
type Element struct {
	On    bool
	Units int
}

// Code returns the dot/dash pattern of r
func Code(r rune) (string, bool) {
	c, ok := codes[toUpper(r)]
	return c, ok
}

// UnitDuration returns the dot length at wpm
func UnitDuration(wpm int) time.Duration {
	if wpm <= 0 {
		wpm = DefaultWPM
	}
	return time.Minute / time.Duration(unitsPerWord*wpm)
}

// ValidateWPM checks that wpm is a usable keying speed
func ValidateWPM(wpm int) error {
	if wpm < MinWPM || wpm > MaxWPM {
		return fmt.Errorf("wpm %d out of range %d-%d", wpm, MinWPM, MaxWPM)
	}
	return nil
}

// Encode converts text into keyed elements. Characters without a code are
// skipped and runs of spaces collapse into one word gap.
func Encode(text string) []Element {
	var out []Element
	pendingWord := false

	letter := func(pattern string) {
		if len(out) > 0 {
			gap := LetterGapUnits
			if pendingWord {
				gap = WordGapUnits
			}
			out = append(out, Element{Units: gap})
		}
		pendingWord = false
		for i, sym := range pattern {
			if i > 0 {
				out = append(out, Element{Units: ElementGapUnits})
			}
			units := DitUnits
			if sym == '-' {
				units = DahUnits
			}
			out = append(out, Element{On: true, Units: units})
		}
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == ' ' || r == '\t' {
			pendingWord = true
			continue
		}
		if r == '<' {
			if end := indexRune(runes[i+1:], '>'); end >= 0 {
				name := strings.ToUpper(string(runes[i+1 : i+1+end]))
				if pattern, ok := prosigns[name]; ok {
					letter(pattern)
				}
				i += end + 1
				continue
			}
		}
		if pattern, ok := Code(r); ok {
			letter(pattern)
		}
	}
	return out
}

// Units returns the total length of elements in dot units
func Units(elements []Element) int {
	total := 0
	for _, e := range elements {
		total += e.Units
	}
	return total
}

// Duration returns how long text takes to key at wpm
func Duration(text string, wpm int) time.Duration {
	return time.Duration(Units(Encode(text))) * UnitDuration(wpm)
}

// String renders elements as dots and dashes with spaces between letters
func String(elements []Element) string {
	var b strings.Builder
	for _, e := range elements {
		switch {
		case e.On && e.Units == DahUnits:
			b.WriteByte('-')
		case e.On:
			b.WriteByte('.')
		case e.Units == LetterGapUnits:
			b.WriteByte(' ')
		case e.Units == WordGapUnits:
			b.WriteString(" / ")
		}
	}
	return b.String()
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 'a' + 'A'
	}
	return r
}

func indexRune(rs []rune, r rune) int {
	for i, c := range rs {
		if c == r {
			return i
		}
	}
	return -1
}

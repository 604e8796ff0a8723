package model

import (
	"strings"
	"unicode"
)

// nipWeights are the checksum weights applied to the first nine digits of a
// Polish tax identifier (NIP).
var nipWeights = [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}

// NormalizeNIP strips the optional two-letter country prefix, whitespace,
// dashes and dots from a tax identifier and upper-cases the rest.
func NormalizeNIP(nip string) string {
	s := strings.ToUpper(strings.TrimSpace(nip))
	if len(s) >= 2 && unicode.IsLetter(rune(s[0])) && unicode.IsLetter(rune(s[1])) {
		s = s[2:]
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '\t', '-', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidNIP reports whether the tax identifier is ten digits and satisfies
// the NIP checksum: sum of the first nine digits times the weights, mod 11,
// equals the tenth digit. A mod-11 result of 10 is never a valid digit.
func ValidNIP(nip string) bool {
	s := NormalizeNIP(nip)
	if len(s) != 10 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		d := int(s[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * nipWeights[i]
	}
	last := int(s[9] - '0')
	if last < 0 || last > 9 {
		return false
	}
	check := sum % 11
	if check == 10 {
		return false
	}
	return check == last
}

// ValidPESEL reports whether the personal identifier is eleven digits with a
// valid checksum (weights 1 3 7 9 repeating, last digit is 10 minus the sum
// mod 10, taken mod 10).
func ValidPESEL(pesel string) bool {
	if len(pesel) != 11 {
		return false
	}
	weights := [10]int{1, 3, 7, 9, 1, 3, 7, 9, 1, 3}
	sum := 0
	for i := 0; i < 10; i++ {
		d := int(pesel[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * weights[i]
	}
	last := int(pesel[10] - '0')
	if last < 0 || last > 9 {
		return false
	}
	return (10-sum%10)%10 == last
}

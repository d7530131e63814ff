/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package checksum verifies and generates the two sentence checksum schemes used by
// the instruments: the NMEA style XOR-hex trailer and the LCI-90 additive trailer.
package checksum

import (
	"fmt"
	"strconv"
	"strings"

	bg "github.com/SSSOCPaulCote/blunderguard"
)

// Scheme identifies a checksum algorithm and its framing
type Scheme int

const (
	XOR Scheme = iota
	LCIAdditive
)

const (
	ErrUnknownScheme = bg.Error("unknown checksum scheme")
	ErrEmptyBody     = bg.Error("sentence body is empty")
	lciModulus       = 10000
)

func (s Scheme) String() string {
	switch s {
	case XOR:
		return "XOR"
	case LCIAdditive:
		return "LCI-additive"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// Verify recomputes the checksum of sentence and compares it with the embedded one.
// A malformed trailer is reported as a failed checksum.
func Verify(scheme Scheme, sentence string) bool {
	sentence = strings.TrimRight(sentence, "\r\n")
	switch scheme {
	case XOR:
		return verifyXOR(sentence)
	case LCIAdditive:
		return verifyLCI(sentence)
	}
	return false
}

// Generate frames body and appends its checksum. XOR sentences get a leading $ unless
// body already starts with $ or !. The additive form is not validated against hardware.
func Generate(scheme Scheme, body string) (string, error) {
	if body == "" {
		return "", ErrEmptyBody
	}
	switch scheme {
	case XOR:
		if body[0] != '$' && body[0] != '!' {
			body = "$" + body
		}
		return fmt.Sprintf("%s*%02X", body, XORSum(body[1:])), nil
	case LCIAdditive:
		framed := body + ","
		return fmt.Sprintf("%s%04d", framed, AdditiveSum(framed)), nil
	}
	return "", ErrUnknownScheme
}

// XORSum returns the XOR of every byte of span
func XORSum(span string) byte {
	var cs byte
	for i := 0; i < len(span); i++ {
		cs ^= span[i]
	}
	return cs
}

// AdditiveSum returns the sum of byte values of span truncated to four decimal digits
func AdditiveSum(span string) int {
	sum := 0
	for i := 0; i < len(span); i++ {
		sum += int(span[i])
	}
	return sum % lciModulus
}

func verifyXOR(sentence string) bool {
	star := strings.LastIndexByte(sentence, '*')
	if star < 1 || len(sentence)-star-1 != 2 {
		return false
	}
	trailer := sentence[star+1:]
	if !isUpperHex(trailer[0]) || !isUpperHex(trailer[1]) {
		return false
	}
	return fmt.Sprintf("%02X", XORSum(sentence[1:star])) == trailer
}

func verifyLCI(sentence string) bool {
	comma := strings.LastIndexByte(sentence, ',')
	if comma < 1 || comma == len(sentence)-1 {
		return false
	}
	trailer := sentence[comma+1:]
	for i := 0; i < len(trailer); i++ {
		if trailer[i] < '0' || trailer[i] > '9' {
			return false
		}
	}
	want, err := strconv.Atoi(trailer)
	if err != nil {
		return false
	}
	return AdditiveSum(sentence[:comma+1]) == want
}

func isUpperHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}

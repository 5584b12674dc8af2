package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountInWords spells an amount in Spanish the way it is printed on receipts.
// Example: 1500.50 -> "MIL QUINIENTOS CON 50/100"
func AmountInWords(amount decimal.Decimal) string {
	amount = amount.Round(2)
	prefix := ""
	if amount.IsNegative() {
		prefix = "MENOS "
		amount = amount.Neg()
	}

	integerPart := amount.IntPart()
	cents := amount.Sub(decimal.NewFromInt(integerPart)).Shift(2).IntPart()

	words := "CERO"
	if integerPart > 0 {
		words = apocope(numberToWords(integerPart))
	}
	return fmt.Sprintf("%s%s CON %02d/100", prefix, words, cents)
}

// apocope shortens a trailing "UNO" before a noun: "VEINTIUNO" -> "VEINTIÚN", "UNO" -> "UN"
func apocope(words string) string {
	switch {
	case words == "UNO":
		return "UN"
	case strings.HasSuffix(words, "VEINTIUNO"):
		return strings.TrimSuffix(words, "VEINTIUNO") + "VEINTIÚN"
	case strings.HasSuffix(words, " UNO"):
		return strings.TrimSuffix(words, "UNO") + "UN"
	}
	return words
}

func numberToWords(n int64) string {
	switch {
	case n < 10:
		return units[n]
	case n < 30:
		return specials[n]
	case n < 100:
		if n%10 == 0 {
			return tens[n/10]
		}
		return tens[n/10] + " Y " + units[n%10]
	case n == 100:
		return "CIEN"
	case n < 1000:
		head := hundreds[n/100]
		if n%100 == 0 {
			return head
		}
		return head + " " + numberToWords(n%100)
	case n < 1_000_000:
		head := "MIL"
		if n/1000 > 1 {
			head = apocope(numberToWords(n/1000)) + " MIL"
		}
		if n%1000 == 0 {
			return head
		}
		return head + " " + numberToWords(n%1000)
	case n < 1_000_000_000_000:
		head := "UN MILLÓN"
		if n/1_000_000 > 1 {
			head = apocope(numberToWords(n/1_000_000)) + " MILLONES"
		}
		if n%1_000_000 == 0 {
			return head
		}
		return head + " " + numberToWords(n%1_000_000)
	}
	return "NÚMERO MUY GRANDE"
}

var units = []string{
	"", "UNO", "DOS", "TRES", "CUATRO", "CINCO", "SEIS", "SIETE", "OCHO", "NUEVE",
}

var specials = map[int64]string{
	10: "DIEZ", 11: "ONCE", 12: "DOCE", 13: "TRECE", 14: "CATORCE", 15: "QUINCE",
	16: "DIECISÉIS", 17: "DIECISIETE", 18: "DIECIOCHO", 19: "DIECINUEVE",
	20: "VEINTE", 21: "VEINTIUNO", 22: "VEINTIDÓS", 23: "VEINTITRÉS", 24: "VEINTICUATRO",
	25: "VEINTICINCO", 26: "VEINTISÉIS", 27: "VEINTISIETE", 28: "VEINTIOCHO", 29: "VEINTINUEVE",
}

var tens = []string{
	"", "", "VEINTE", "TREINTA", "CUARENTA", "CINCUENTA", "SESENTA", "SETENTA", "OCHENTA", "NOVENTA",
}

// index 1 is "CIENTO": exactly 100 is handled before the lookup
var hundreds = []string{
	"", "CIENTO", "DOSCIENTOS", "TRESCIENTOS", "CUATROCIENTOS", "QUINIENTOS", "SEISCIENTOS", "SETECIENTOS", "OCHOCIENTOS", "NOVECIENTOS",
}

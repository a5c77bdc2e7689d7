// Copyright 2024-2026 Aiku AI

package telegram

import "unicode/utf16"

func utf16Units(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func fromUnits(u []uint16) string {
	return string(utf16.Decode(u))
}

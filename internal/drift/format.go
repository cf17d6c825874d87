package drift

import "strconv"

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}

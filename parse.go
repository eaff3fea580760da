package main

import (
	"strconv"
	"strings"
)

// Field order of one terse scan line.
const (
	fieldActive = iota
	fieldStrength
	fieldFrequency
	fieldSSID
	fieldBSSID
	fieldSecurity
)

const minScanFields = fieldSSID + 1

// scanRecord is one parsed scan line, before deduplication.
type scanRecord struct {
	Active    bool
	Strength  int
	Frequency int
	SSID      string
	BSSID     string
	Security  string
}

func (r scanRecord) accessPoint() AccessPoint {
	return AccessPoint{
		SSID:      r.SSID,
		BSSID:     r.BSSID,
		Strength:  r.Strength,
		Frequency: r.Frequency,
		Active:    r.Active,
		Security:  r.Security,
	}
}

// splitTerse splits a terse line on unescaped colons. "\:" yields a literal
// colon and "\\" a literal backslash; any other escape is kept verbatim.
func splitTerse(line string) []string {
	var (
		fields  []string
		b       strings.Builder
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			if r != ':' && r != '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		b.WriteByte('\\')
	}
	return append(fields, b.String())
}

// parseScanLine turns one scan line into a record. ok is false for lines
// that cannot describe a displayable network.
func parseScanLine(line string) (rec scanRecord, ok bool) {
	fields := splitTerse(strings.TrimRight(line, "\r\n"))
	if len(fields) < minScanFields {
		return scanRecord{}, false
	}
	ssid := fields[fieldSSID]
	if ssid == "" || ssid == "--" {
		return scanRecord{}, false
	}

	rec = scanRecord{
		Active:    fields[fieldActive] == "yes",
		Strength:  parseNumber(fields[fieldStrength]),
		Frequency: parseNumber(fields[fieldFrequency]),
		SSID:      ssid,
	}

	// Some tool versions leave the BSSID octets unescaped, which spreads
	// the address over six fields.
	rest := fields[fieldBSSID:]
	switch {
	case len(rest) >= 6 && allOctets(rest[:6]):
		rec.BSSID = strings.Join(rest[:6], ":")
		rest = rest[6:]
	case len(rest) > 0:
		rec.BSSID = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		rec.Security = strings.Join(rest, ":")
	}
	if rec.Security == "--" {
		rec.Security = ""
	}
	return rec, true
}

// parseScanOutput parses every line of a scan listing. skipped counts the
// non-empty lines that were rejected.
func parseScanOutput(out string) (records []scanRecord, skipped int) {
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, ok := parseScanLine(line)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

// parseNumber reads the leading integer of s ("2412 MHz" → 2412). Garbage
// and negative values read as 0.
func parseNumber(s string) int {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func allOctets(fields []string) bool {
	for _, f := range fields {
		if len(f) != 2 || !isHex(f[0]) || !isHex(f[1]) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

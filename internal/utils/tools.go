package utils

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func EncryptPassword(password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

func VerifyPassword(hashedPassword, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	if err != nil {
		return false, err
	}
	return true, nil
}

// NameFromEmail derives a display name from the local part of an email,
// e.g. "jane.doe@x.com" -> "Jane Doe".
func NameFromEmail(email string) string {
	local := strings.Split(strings.TrimSpace(email), "@")[0]
	parts := regexp.MustCompile(`[._-]+`).Split(local, -1)
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		words = append(words, strings.ToUpper(p[:1])+strings.ToLower(p[1:]))
	}
	if len(words) == 0 {
		return "User"
	}
	return strings.Join(words, " ")
}

var (
	ddmmyyyy = regexp.MustCompile(`^([0-3]\d)-([0-1]\d)-(\d{4})$`)
	yyyymmdd = regexp.MustCompile(`^(\d{4})-([0-1]\d)-([0-3]\d)$`)
)

// NormalizeDate accepts dd-mm-yyyy or yyyy-mm-dd and returns yyyy-mm-dd,
// or "NA" when the input is empty, "NA" or unparseable.
func NormalizeDate(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" || strings.EqualFold(raw, "NA") {
		return "NA"
	}
	if m := ddmmyyyy.FindStringSubmatch(raw); m != nil {
		return m[3] + "-" + m[2] + "-" + m[1]
	}
	if yyyymmdd.MatchString(raw) {
		return raw
	}
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d.Format("2006-01-02")
	}
	if d, err := time.Parse(time.RFC3339, raw); err == nil {
		return d.Format("2006-01-02")
	}
	return "NA"
}

// ParseCSVLine splits one CSV line honoring double-quoted fields and
// doubled-quote escapes, trimming whitespace around each field.
func ParseCSVLine(line string) []string {
	out := []string{}
	var cur strings.Builder
	inq := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if inq {
			if ch == '"' && i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
			} else if ch == '"' {
				inq = false
			} else {
				cur.WriteByte(ch)
			}
			continue
		}
		switch ch {
		case ',':
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		case '"':
			inq = true
		default:
			cur.WriteByte(ch)
		}
	}
	out = append(out, strings.TrimSpace(cur.String()))
	return out
}

// EscapeCSV quotes a field when needed and defuses spreadsheet formula
// injection for leading =, +, -, @.
func EscapeCSV(v string) string {
	needs := strings.ContainsAny(v, "\",\n")
	if len(v) > 0 && strings.ContainsAny(v[:1], "=+-@") {
		needs = true
	}
	if !needs {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptAndVerifyPassword(t *testing.T) {
	hash, err := EncryptPassword("s3cret!")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret!", hash)

	ok, err := VerifyPassword(hash, "s3cret!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = VerifyPassword(hash, "wrong")
	assert.False(t, ok)
}

func TestNameFromEmail(t *testing.T) {
	assert.Equal(t, "Jane Doe", NameFromEmail("jane.doe@example.com"))
	assert.Equal(t, "Ravi Menon", NameFromEmail("ravi_menon@example.com"))
	assert.Equal(t, "Admin", NameFromEmail("admin@example.com"))
	assert.Equal(t, "User", NameFromEmail("@example.com"))
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2026-09-30", NormalizeDate("30-09-2026"))
	assert.Equal(t, "2026-09-30", NormalizeDate("2026-09-30"))
	assert.Equal(t, "2026-09-30", NormalizeDate("2026-09-30T10:15:00Z"))
	assert.Equal(t, "NA", NormalizeDate(""))
	assert.Equal(t, "NA", NormalizeDate("na"))
	assert.Equal(t, "NA", NormalizeDate("next week"))
}

func TestParseCSVLine(t *testing.T) {
	assert.Equal(t,
		[]string{"GST filing", "monthly, recurring", "Tax"},
		ParseCSVLine(`GST filing,"monthly, recurring",Tax`))
	assert.Equal(t,
		[]string{`say "hi"`, "b"},
		ParseCSVLine(`"say ""hi""",b`))
	assert.Equal(t, []string{"a", "", "c"}, ParseCSVLine("a,,c"))
}

func TestEscapeCSV(t *testing.T) {
	assert.Equal(t, "plain", EscapeCSV("plain"))
	assert.Equal(t, `"a,b"`, EscapeCSV("a,b"))
	assert.Equal(t, `"he said ""hi"""`, EscapeCSV(`he said "hi"`))
	// Leading formula characters get quoted to defuse spreadsheet injection.
	assert.Equal(t, `"=SUM(A1)"`, EscapeCSV("=SUM(A1)"))
}

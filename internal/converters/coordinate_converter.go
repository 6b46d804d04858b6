package converters

import "strings"

// Vertical unit conversion factors to meters
const (
	UsSurveyFootToMeter      = 0.3048006096012192
	InternationalFootToMeter = 0.3048
)

// CoordinateConverter transforms horizontal coordinates from the dataset CRS
// to WGS84 longitude/latitude and exposes the vertical unit scale detected
// from the CRS description. Built once per dataset.
type CoordinateConverter interface {
	// Forward transforms a source (x, y) pair into (lon, lat) degrees
	Forward(x, y float64) (lon, lat float64, err error)
	// VerticalScale is the factor converting source elevations to meters
	VerticalScale() float64
	// IsPassthrough is true when source coordinates are already geographic
	IsPassthrough() bool
	Cleanup()
}

// DetectVerticalUnit inspects a CRS description string for foot based
// vertical units. US survey foot variants win over the generic foot token.
// Anything unmatched is assumed to be meters.
func DetectVerticalUnit(crsDescription string) float64 {
	desc := strings.ToLower(crsDescription)

	usSurveyTokens := []string{"us survey foot", "us_survey_foot", "ussurveyfoot", "us-ft", "foot_us"}
	for _, token := range usSurveyTokens {
		if strings.Contains(desc, token) {
			return UsSurveyFootToMeter
		}
	}

	footTokens := []string{"international foot", "foot", "feet", "ft"}
	for _, token := range footTokens {
		if containsWord(desc, token) {
			return InternationalFootToMeter
		}
	}

	return 1.0
}

// containsWord matches token as a whole word so that e.g. the "ft" token does
// not fire inside unrelated identifiers like "shift"
func containsWord(s, token string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], token)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(token)
		beforeOk := start == 0 || !isWordChar(s[start-1])
		afterOk := end == len(s) || !isWordChar(s[end])
		if beforeOk && afterOk {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// ExtractProjectedCS returns the projected member of a compound WKT
// description (COMPD_CS[...]), found by a balanced bracket scan. Plain
// descriptions are returned unchanged.
func ExtractProjectedCS(wkt string) string {
	trimmed := strings.TrimSpace(wkt)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "COMPD_CS") {
		return trimmed
	}

	idx := strings.Index(strings.ToUpper(trimmed), "PROJCS")
	if idx < 0 {
		return trimmed
	}

	depth := 0
	for i := idx; i < len(trimmed); i++ {
		switch trimmed[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return trimmed[idx : i+1]
			}
		}
	}
	return trimmed
}

// ExtractEpsgCode returns the numeric code of the last AUTHORITY["EPSG",...]
// token of a WKT description, or 0 when none is present
func ExtractEpsgCode(wkt string) int {
	upper := strings.ToUpper(wkt)
	idx := strings.LastIndex(upper, `AUTHORITY["EPSG"`)
	if idx < 0 {
		return 0
	}
	rest := wkt[idx:]
	open := strings.Index(rest, ",")
	closing := strings.Index(rest, "]")
	if open < 0 || closing < 0 || closing < open {
		return 0
	}
	code := strings.Trim(rest[open+1:closing], ` "`)
	value := 0
	for _, c := range code {
		if c < '0' || c > '9' {
			return 0
		}
		value = value*10 + int(c-'0')
	}
	return value
}

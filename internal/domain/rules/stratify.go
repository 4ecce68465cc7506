package rules

import "time"

type AgeBracket string

const (
	Age18To44      AgeBracket = "18_to_44"
	Age45To60      AgeBracket = "45_to_60"
	AgeOlderThan60 AgeBracket = "older_than_60"
)

func ParseAgeBracket(s string) (AgeBracket, bool) {
	switch b := AgeBracket(s); b {
	case Age18To44, Age45To60, AgeOlderThan60:
		return b, true
	}
	return "", false
}

// Stratum is the slice of the population a patient falls into.
type Stratum struct {
	Bracket AgeBracket `json:"age_group"`
	Gender  Gender     `json:"gender"`
}

// AgeOn returns completed years between dob and now by calendar comparison.
func AgeOn(dob, now time.Time) int {
	now = now.In(dob.Location())
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// BracketFor places an age in its bracket; both ends of 45..60 are inclusive.
func BracketFor(age int) AgeBracket {
	switch {
	case age < 45:
		return Age18To44
	case age <= 60:
		return Age45To60
	default:
		return AgeOlderThan60
	}
}

func Stratify(dob time.Time, gender Gender, now time.Time) Stratum {
	return Stratum{Bracket: BracketFor(AgeOn(dob, now)), Gender: gender}
}

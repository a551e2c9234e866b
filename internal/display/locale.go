package display

// TitleID is a language-independent identifier that every localized
// title string resolves to.
type TitleID uint8

const (
	TitleQuickinfo TitleID = iota
	TitleTbrPercentage
	TitleTbrDuration
	TitleHour
	TitleMinute
	TitleYear
	TitleMonth
	TitleDay
)

// titleTable maps an uppercased title string to the TitleID it names
// across the supported locales. spec.md §9 raises duplicate keys across
// locales as an open question; no duplicate key was recoverable from
// the retrieved corpus (see DESIGN.md), so this table is a plain 1:1
// map and LookupTitle does no disambiguation. A locale string later
// found to collide across two fields needs a real resolution mechanism
// added here, not a caller-supplied guess.
var titleTable = map[string]TitleID{
	"BE":         TitleQuickinfo,
	"RESTE":      TitleQuickinfo,
	"TBR":        TitleTbrPercentage,
	"TB REDUITE": TitleTbrPercentage,
	"DUREE":      TitleTbrDuration,
	"DURATION":   TitleTbrDuration,
	"HOUR":       TitleHour,
	"HEURE":      TitleHour,
	"MINUTE":     TitleMinute,
	"YEAR":       TitleYear,
	"ANNEE":      TitleYear,
	"MONTH":      TitleMonth,
	"MOIS":       TitleMonth,
	"DAY":        TitleDay,
	"JOUR":       TitleDay,
}

// LookupTitle resolves an uppercased, whitespace-normalized title string
// to a TitleID.
func LookupTitle(title string) (TitleID, bool) {
	id, ok := titleTable[title]
	return id, ok
}

// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package collector

import (
	"fmt"
	"strings"
	"time"
)

// Season names accepted by the AniList MediaSeason enum.
const (
	SeasonWinter = "WINTER"
	SeasonSpring = "SPRING"
	SeasonSummer = "SUMMER"
	SeasonFall   = "FALL"
)

// Season identifies one broadcast quarter.
type Season struct {
	Year int
	Name string
}

func (s Season) String() string {
	return fmt.Sprintf("%s %d", s.Name, s.Year)
}

// SeasonFor returns the season containing t in loc. Seasons follow the AniList
// quarters (WINTER is December to February), so December belongs to the next
// year's WINTER.
func SeasonFor(t time.Time, loc *time.Location) Season {
	local := t.In(loc)

	var name string
	switch local.Month() {
	case time.December, time.January, time.February:
		name = SeasonWinter
	case time.March, time.April, time.May:
		name = SeasonSpring
	case time.June, time.July, time.August:
		name = SeasonSummer
	default:
		name = SeasonFall
	}

	year := local.Year()
	if local.Month() == time.December {
		year++
	}
	return Season{Year: year, Name: name}
}

// ResolveSeason applies optional overrides to the season derived from now.
func ResolveSeason(now time.Time, loc *time.Location, name string, year int) Season {
	season := SeasonFor(now, loc)
	if name != "" {
		season.Name = strings.ToUpper(name)
	}
	if year > 0 {
		season.Year = year
	}
	return season
}

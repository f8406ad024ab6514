package utils

import (
	"time"
)

// time.go - время торговой сессии
//
// Биржи NSE/BSE работают по IST (UTC+05:30), поэтому "торговый день"
// для журнала ордеров отсчитывается от полуночи IST, а не UTC.

// IST - часовой пояс бирж Индии (без перехода на летнее время)
var IST = time.FixedZone("IST", 5*3600+30*60)

// GetDayStartFrom возвращает полночь IST дня, которому принадлежит t
func GetDayStartFrom(t time.Time) time.Time {
	local := t.In(IST)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, IST)
}

// RetentionCutoff возвращает границу хранения журнала: начало торгового дня,
// отстоящего на days дней от now. При days <= 0 граница - начало текущего дня.
func RetentionCutoff(now time.Time, days int) time.Time {
	if days < 0 {
		days = 0
	}
	return GetDayStartFrom(now).AddDate(0, 0, -days)
}

// UntilNextDayStart - сколько осталось до следующей полуночи IST
func UntilNextDayStart(now time.Time) time.Duration {
	return GetDayStartFrom(now).AddDate(0, 0, 1).Sub(now)
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m0s"
//   - "77h0m0s" (больше суток)
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute).String()
	case minutes > 0:
		return (time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second).String()
	default:
		return (time.Duration(seconds) * time.Second).String()
	}
}

package models

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/json-iterator/go/extra"
)

// JSON - общий кодек для шины и ответов брокеров
//
// Брокеры и upstream присылают числа то строкой ("10"), то числом,
// поэтому включены fuzzy-декодеры: строка <-> число, null -> 0.
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	extra.RegisterFuzzyDecoders()
}

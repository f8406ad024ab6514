package broker

import (
	"fmt"
	"strings"

	"tpoms/internal/models"
)

// SupportedBrokers - список поддерживаемых брокеров (значения TPOmsName)
var SupportedBrokers = []string{
	models.BrokerZerodha,
	models.BrokerMotilal,
}

// NewBroker создаёт клиента брокера по имени
func NewBroker(name string, creds models.Credentials, opts Options) (Broker, error) {
	switch NormalizeName(name) {
	case models.BrokerZerodha:
		return NewZerodha(creds, opts), nil
	case models.BrokerMotilal:
		return NewMotilal(creds, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBroker, name)
	}
}

// NormalizeName приводит имя брокера к значению TPOmsName
// Принимает и привычные синонимы: kite, motilal, mosl
func NormalizeName(name string) string {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ZERODHA", "KITE":
		return models.BrokerZerodha
	case "MOFL", "MOTILAL", "MOSL":
		return models.BrokerMotilal
	default:
		return strings.ToUpper(strings.TrimSpace(name))
	}
}

// IsSupported проверяет, поддерживается ли брокер
func IsSupported(name string) bool {
	n := NormalizeName(name)
	for _, supported := range SupportedBrokers {
		if n == supported {
			return true
		}
	}
	return false
}

package models

import "time"

// Имена брокеров, они же значения TPOmsName на шине
const (
	BrokerZerodha = "ZERODHA"
	BrokerMotilal = "MOFL"
)

// Entity представляет торговый аккаунт, которым управляет один адаптер
type Entity struct {
	ID          string      `json:"id" db:"id"`
	Broker      string      `json:"broker" db:"broker"` // ZERODHA, MOFL
	Credentials Credentials `json:"-" db:"credentials"`  // хранится зашифрованным
	Enabled     bool        `json:"enabled" db:"enabled"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Credentials - учётные данные брокера
//
// Набор полей общий для обоих брокеров, каждый использует своё подмножество:
// Zerodha - ApiKey, ApiSecret, UserId, Password, TotpSecret, AccessToken;
// Motilal - ApiKey, ClientCode, Password, Dob, VendorInfo, ApiSecretKey.
type Credentials struct {
	APIKey       string `json:"ApiKey,omitempty"`
	APISecret    string `json:"ApiSecret,omitempty"`
	UserID       string `json:"UserId,omitempty"`
	Password     string `json:"Password,omitempty"`
	TOTPSecret   string `json:"TotpSecret,omitempty"`
	AccessToken  string `json:"AccessToken,omitempty"`
	ClientCode   string `json:"ClientCode,omitempty"`
	DOB          string `json:"Dob,omitempty"`
	VendorInfo   string `json:"VendorInfo,omitempty"`
	APISecretKey string `json:"ApiSecretKey,omitempty"`
}

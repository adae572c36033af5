package tradeauth

import "time"

// SecurityReport is the effective security posture, for startup logs.
type SecurityReport struct {
	ProductionMode      bool
	SigningAlgorithm    string
	KeyID               string
	Issuer              string
	Audience            string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	AbsoluteLifetime    time.Duration
	RefreshRetention    time.Duration
	Argon2              PasswordConfigReport
	LegacyBcryptEnabled bool
	StoreTimeout        time.Duration
	BreakerEnabled      bool
	RateLimitingActive  bool
	AuditEnabled        bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		ProductionMode:   e.config.Security.ProductionMode,
		SigningAlgorithm: e.config.JWT.SigningMethod,
		KeyID:            e.config.JWT.KeyID,
		Issuer:           e.config.JWT.Issuer,
		Audience:         e.config.JWT.Audience,
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.Refresh.TTL,
		AbsoluteLifetime: e.config.Refresh.AbsoluteLifetime,
		RefreshRetention: e.config.Refresh.Retention,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		LegacyBcryptEnabled: e.config.Password.AcceptLegacyBcrypt,
		StoreTimeout:        e.config.Store.OperationTimeout,
		BreakerEnabled:      e.config.Store.BreakerEnabled,
		RateLimitingActive:  e.limiter != nil,
		AuditEnabled:        e.audit != nil,
	}
}

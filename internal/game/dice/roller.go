package dice

import "go.uber.org/zap"

const (
	// MinDamageFactor is the lower bound of the damage variance factor.
	MinDamageFactor = 0.85
	// MaxDamageFactor is the upper bound of the damage variance factor.
	MaxDamageFactor = 1.00
)

// Roller wraps a Source and logger to provide logged battle draws.
// All draws are logged at debug level.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that draws from src and logs each draw to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// CoinFlip returns 0 or 1 with equal probability.
func (r *Roller) CoinFlip() int {
	v := r.src.Intn(2)
	r.logger.Debug("coin flip", zap.Int("result", v))
	return v
}

// DamageFactor returns the damage variance multiplier.
//
// Postcondition: MinDamageFactor <= result <= MaxDamageFactor.
func (r *Roller) DamageFactor() float64 {
	f := MinDamageFactor + (MaxDamageFactor-MinDamageFactor)*r.src.Float64()
	if f > MaxDamageFactor {
		f = MaxDamageFactor
	}
	r.logger.Debug("damage factor", zap.Float64("factor", f))
	return f
}

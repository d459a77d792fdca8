//go:build !linux

package board

import (
	"errors"

	"go.uber.org/zap"

	"github.com/sweeney/solenoid-controller/internal/solenoid"
)

// RealBoard is not available on non-Linux platforms.
type RealBoard struct{}

// NewRealBoard returns an error on non-Linux platforms.
func NewRealBoard(cfg RealConfig, logger *zap.Logger) (*RealBoard, error) {
	return nil, errors.New("board: not supported on this platform (requires Linux)")
}

// SetPower is not implemented on non-Linux platforms.
func (b *RealBoard) SetPower(on bool) bool { return false }

// ReadSupplyVoltage is not implemented on non-Linux platforms.
func (b *RealBoard) ReadSupplyVoltage() float64 { return 0 }

// ReadTotalCurrent is not implemented on non-Linux platforms.
func (b *RealBoard) ReadTotalCurrent() float64 { return 0 }

// ReadProbeVoltage is not implemented on non-Linux platforms.
func (b *RealBoard) ReadProbeVoltage() float64 { return 0 }

// SetPortDuty is not implemented on non-Linux platforms.
func (b *RealBoard) SetPortDuty(port int, duty float64) {}

// SetIndicator is not implemented on non-Linux platforms.
func (b *RealBoard) SetIndicator(mode solenoid.IndicatorMode, port int, value float64) {}

// Close is not implemented on non-Linux platforms.
func (b *RealBoard) Close() error {
	return nil
}

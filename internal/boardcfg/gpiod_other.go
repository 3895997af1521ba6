//go:build !linux

package boardcfg

import (
	"errors"

	"github.com/soypat/as6500"
)

type nopPins struct{ as6500.Pins }

func (nopPins) Close() error { return nil }

func openGPIODPins(chip string) (nopPins, error) {
	return nopPins{}, errors.New("boardcfg: gpiod backend is only available on linux")
}

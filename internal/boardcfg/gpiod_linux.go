package boardcfg

import "github.com/soypat/as6500/hostspi"

func openGPIODPins(chip string) (*hostspi.GPIODPins, error) {
	return hostspi.NewGPIODPins(chip)
}

package card

import "lautenbacher.net/spimotor/max6966"

// PWMRegister maps a duty cycle 0..255 linearly onto the port register range
// 3..254 where the MAX6966 outputs PWM. Depending on the card revision the
// output stage is inverted; then 0 maps to 254 and 255 to 3.
func PWMRegister(duty uint8, inverted bool) byte {
	span := int(max6966.PWMMax - max6966.PWMMin)
	v := int(duty) * span / 255
	if inverted {
		return max6966.PWMMax - byte(v)
	}
	return max6966.PWMMin + byte(v)
}

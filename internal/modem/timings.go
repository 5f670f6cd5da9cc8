package modem

import (
	"time"

	"thermal-status-backend/config"
)

// Timings centralises every wait the modem needs between commands.
// A zero field means no wait.
type Timings struct {
	SettleAfterOpen  time.Duration
	SetupDelay       time.Duration
	ListDelay        time.Duration
	DeleteDelay      time.Duration
	DeleteReadDelay  time.Duration
	SendStepDelay    time.Duration
	SendBodyDelay    time.Duration
	SendResponseWait time.Duration
	// ReadWindow bounds a single Transport.Read after a command.
	ReadWindow time.Duration
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// TimingsFromConfig converts the millisecond config block.
func TimingsFromConfig(c config.TimingsConfig) Timings {
	return Timings{
		SettleAfterOpen:  ms(c.SettleAfterOpenMs),
		SetupDelay:       ms(c.SetupDelayMs),
		ListDelay:        ms(c.ListDelayMs),
		DeleteDelay:      ms(c.DeleteDelayMs),
		DeleteReadDelay:  ms(c.DeleteReadDelayMs),
		SendStepDelay:    ms(c.SendStepDelayMs),
		SendBodyDelay:    ms(c.SendBodyDelayMs),
		SendResponseWait: ms(c.SendResponseWaitMs),
		ReadWindow:       ms(c.ReadWindowMs),
	}
}

package eventlog

import (
	"github.com/micguard/micguard/internal/audio"
	"github.com/micguard/micguard/internal/failover"
)

// Journal adapts a Logger to the failover event stream. Write errors are
// swallowed; the journal is best-effort and must never stall the controller.
type Journal struct {
	failover.NopListener
	log *Logger
}

// NewJournal returns a failover listener that records events to log.
func NewJournal(log *Logger) *Journal {
	return &Journal{log: log}
}

func (j *Journal) StateChanged(prev, next failover.State, active audio.Device) {
	_ = j.log.LogFailover(StateChanged, &FailoverDetails{
		Device:    active.Name,
		FromState: prev.String(),
		ToState:   next.String(),
	})
}

func (j *Journal) SilenceTimeoutReached(dev audio.Device, accumulatedSeconds float64) {
	_ = j.log.LogSilence(SilenceTimeout, dev.Name, accumulatedSeconds, 0)
}

func (j *Journal) SignalRestored(dev audio.Device, silentForSeconds float64) {
	_ = j.log.LogSilence(SignalRestored, dev.Name, silentForSeconds, 0)
}

func (j *Journal) DeviceSwitched(from, to audio.Device, reason failover.SwitchReason) {
	_ = j.log.LogSwitch(from.Name, to.Name, string(reason))
}

func (j *Journal) CandidateProbed(dev audio.Device, query string, hadSignal bool) {
	_ = j.log.LogFailover(CandidateProbe, &FailoverDetails{
		Device:    dev.Name,
		Query:     query,
		HadSignal: hadSignal,
	})
}

func (j *Journal) FallbackCommitted(dev audio.Device, query string) {
	_ = j.log.LogFailover(FallbackCommitted, &FailoverDetails{Device: dev.Name, Query: query})
}

func (j *Journal) PrimaryRecheck(primary audio.Device) {
	_ = j.log.LogFailover(PrimaryRecheck, &FailoverDetails{Device: primary.Name})
}

func (j *Journal) PrimaryRestored(primary audio.Device) {
	_ = j.log.LogFailover(PrimaryRestored, &FailoverDetails{Device: primary.Name})
}

func (j *Journal) FallbackExhausted() {
	_ = j.log.LogFailover(FallbackExhausted, nil)
}

func (j *Journal) DeviceLost(dev audio.Device) {
	_ = j.log.Log(&Event{Type: DeviceLost, Details: &FailoverDetails{Device: dev.Name}})
}

package driver

import (
	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/config"
)

// terminated evaluates the termination predicates in precedence order: win
// conditions in config order, then elimination, then the step limit.
func (b *board) terminated() (string, bool) {
	for _, w := range b.cfg.Win {
		if reason, ok := b.won(w); ok {
			return reason, true
		}
	}
	active := len(b.reg.Active())
	if active == 0 || (b.startAgents >= 2 && active <= 1) {
		return protocol.ReasonAgentsEliminated, true
	}
	if b.tick >= uint64(b.cfg.MaxSteps) {
		return protocol.ReasonMaxSteps, true
	}
	return "", false
}

func (b *board) won(w config.WinCondition) (string, bool) {
	switch w.Kind {
	case config.WinCollectAll:
		if b.collected == 0 {
			return "", false
		}
		for name := range b.collectible {
			if b.store.Count(name) > 0 {
				return "", false
			}
		}
		return protocol.ReasonAllCollected, true
	case config.WinCollectAny:
		return protocol.ReasonGobletCollected, b.collected > 0
	case config.WinScoreAtLeast:
		for _, a := range b.reg.All() {
			if a.Score >= w.Value {
				return protocol.ReasonScoreReached, true
			}
		}
	}
	return "", false
}

package engine

// Phase names one state of the engine's state machine.
type Phase int

const (
	PhaseInitialise Phase = iota
	PhaseConsume
	PhaseUpdateFromMarket
	PhaseGenerateOrderAlgorithmic
	PhaseGenerateOrderManual
	PhaseUpdateFromAccount
	PhaseExecuteCommand
	PhaseTerminate
	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialise:
		return "initialise"
	case PhaseConsume:
		return "consume"
	case PhaseUpdateFromMarket:
		return "update_from_market"
	case PhaseGenerateOrderAlgorithmic:
		return "generate_order_algorithmic"
	case PhaseGenerateOrderManual:
		return "generate_order_manual"
	case PhaseUpdateFromAccount:
		return "update_from_account"
	case PhaseExecuteCommand:
		return "execute_command"
	case PhaseTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Phases lists every phase in declaration order.
func Phases() []Phase {
	out := make([]Phase, 0, phaseCount)
	for p := Phase(0); p < phaseCount; p++ {
		out = append(out, p)
	}
	return out
}

// successors is the transition table. Consume->Consume is taken only when an
// item the engine cannot route is dropped.
var successors = [phaseCount][]Phase{
	PhaseInitialise:               {PhaseConsume, PhaseTerminate},
	PhaseConsume:                  {PhaseConsume, PhaseUpdateFromMarket, PhaseUpdateFromAccount, PhaseExecuteCommand, PhaseTerminate},
	PhaseUpdateFromMarket:         {PhaseGenerateOrderAlgorithmic, PhaseConsume},
	PhaseGenerateOrderAlgorithmic: {PhaseConsume, PhaseTerminate},
	PhaseGenerateOrderManual:      {PhaseConsume, PhaseTerminate},
	PhaseUpdateFromAccount:        {PhaseConsume},
	PhaseExecuteCommand:           {PhaseGenerateOrderManual, PhaseConsume, PhaseTerminate},
	PhaseTerminate:                {PhaseTerminate},
}

// Successors returns the phases legally reachable from p in one step.
func (p Phase) Successors() []Phase {
	if p < 0 || p >= phaseCount {
		return nil
	}
	return append([]Phase(nil), successors[p]...)
}

func (p Phase) CanTransitionTo(next Phase) bool {
	if p < 0 || p >= phaseCount {
		return false
	}
	for _, s := range successors[p] {
		if s == next {
			return true
		}
	}
	return false
}

func (p Phase) Terminal() bool { return p == PhaseTerminate }

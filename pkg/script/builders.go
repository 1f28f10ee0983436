package script

// Action returns an enabled opaque step of the given type.
func Action(id string, stepType StepType, params map[string]any) Step {
	return Step{ID: id, Name: id, Type: stepType, Parameters: params, Enabled: true}
}

// Wait returns a wait step for the given number of milliseconds.
func Wait(id string, durationMs int) Step {
	return Action(id, StepTypeWait, map[string]any{ParamDuration: durationMs})
}

// LoopStart returns a loop_start marker.
func LoopStart(loopID string, count int) Step {
	return Action(loopID+"_start", StepTypeLoopStart, map[string]any{
		ParamLoopID:    loopID,
		ParamLoopCount: count,
		ParamInfinite:  false,
	})
}

// InfiniteLoopStart returns a loop_start marker with is_infinite_loop set.
func InfiniteLoopStart(loopID string) Step {
	return Action(loopID+"_start", StepTypeLoopStart, map[string]any{
		ParamLoopID:   loopID,
		ParamInfinite: true,
	})
}

// LoopEnd returns a loop_end marker.
func LoopEnd(loopID string) Step {
	return Action(loopID+"_end", StepTypeLoopEnd, map[string]any{ParamLoopID: loopID})
}

// IfStart returns an if_start marker guarding condition.
func IfStart(conditionID, condition string) Step {
	return Action(conditionID+"_if", StepTypeIfStart, map[string]any{
		ParamConditionID: conditionID,
		ParamCondition:   condition,
	})
}

// Else returns an else marker.
func Else(conditionID string) Step {
	return Action(conditionID+"_else", StepTypeElse, map[string]any{ParamConditionID: conditionID})
}

// IfEnd returns an if_end marker.
func IfEnd(conditionID string) Step {
	return Action(conditionID+"_endif", StepTypeIfEnd, map[string]any{ParamConditionID: conditionID})
}

// TryStart returns a try_start marker.
func TryStart(tryID string) Step {
	return Action(tryID+"_try", StepTypeTryStart, map[string]any{ParamTryID: tryID})
}

// Catch returns a catch marker.
func Catch(tryID string) Step {
	return Action(tryID+"_catch", StepTypeCatch, map[string]any{ParamTryID: tryID})
}

// TryEnd returns a try_end marker.
func TryEnd(tryID string) Step {
	return Action(tryID+"_endtry", StepTypeTryEnd, map[string]any{ParamTryID: tryID})
}

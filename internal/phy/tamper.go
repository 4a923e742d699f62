package phy

import "github.com/rjboer/GoSSB/internal/config"

// Change records one overwritten MIB field.
type Change struct {
	Field string
	From  any
	To    any
}

// Tamper returns a copy of mib with every enabled attack toggle applied, and
// the list of fields it overwrote. An empty list is a valid outcome.
// Timing fields (SFN, SSB index, HRF, SSB offset, DMRS position) are never
// touched so the spoofed block stays valid for its slot.
func Tamper(mib MIB, attack config.Attack) (MIB, []Change) {
	out := mib
	var changes []Change
	if attack.ModifyCellBarred {
		changes = append(changes, Change{Field: "cell_barred", From: out.CellBarred, To: attack.CellBarredValue})
		out.CellBarred = attack.CellBarredValue
	}
	if attack.ModifyCoreset0 {
		changes = append(changes, Change{Field: "coreset0_idx", From: out.Coreset0Index, To: attack.Coreset0Value})
		out.Coreset0Index = attack.Coreset0Value
	}
	if attack.ModifySS0 {
		changes = append(changes, Change{Field: "ss0_idx", From: out.SS0Index, To: attack.SS0Value})
		out.SS0Index = attack.SS0Value
	}
	return out, changes
}

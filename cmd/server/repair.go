package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/kiraleos/patient-portal/internal/core"
)

type repairKind int

const (
	repairMissing repairKind = iota
	repairEmpty
)

func runRepair(ctx context.Context, out io.Writer, kind repairKind) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var report *core.RepairReport
	switch kind {
	case repairEmpty:
		report, err = a.repair.RepairEmptyResponses(ctx)
	default:
		report, err = a.repair.RepairMissingResponses(ctx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

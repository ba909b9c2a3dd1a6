package usecase

import (
	"fmt"
	"time"

	"certnode/internal/domain"
)

const DefaultCrossProductWindow = 24 * time.Hour

type CrossProductOptions struct {
	Window time.Duration
}

// VerifyCrossProduct checks that two receipts from different domains describe
// the same business event. Every check is always reported.
func VerifyCrossProduct(a, b domain.Receipt, paths []domain.Path, opts CrossProductOptions) domain.CrossProductResult {
	window := opts.Window
	if window <= 0 {
		window = DefaultCrossProductWindow
	}
	checks := []domain.CrossProductCheck{
		graphPathCheck(paths),
		hashConsistencyCheck(a, b),
		temporalProximityCheck(a, b, window),
		entityMatchCheck(a, b),
	}
	valid := true
	for _, c := range checks {
		valid = valid && c.Passed
	}
	return domain.CrossProductResult{
		ReceiptA: a.ID,
		ReceiptB: b.ID,
		Valid:    valid,
		Checks:   checks,
		Paths:    paths,
	}
}

func graphPathCheck(paths []domain.Path) domain.CrossProductCheck {
	c := domain.CrossProductCheck{Name: domain.CheckGraphPath}
	if len(paths) == 0 {
		c.Message = "no directed path connects the receipts"
		return c
	}
	shortest := paths[0].Len()
	for _, p := range paths[1:] {
		if p.Len() < shortest {
			shortest = p.Len()
		}
	}
	c.Passed = true
	c.Message = fmt.Sprintf("%d path(s) found, shortest has %d hop(s)", len(paths), shortest)
	return c
}

func hashConsistencyCheck(a, b domain.Receipt) domain.CrossProductCheck {
	c := domain.CrossProductCheck{Name: domain.CheckHashConsistency, Passed: true}
	claimed := ""
	if a.Data != nil {
		claimed = a.Data.ClaimedContentHash()
	}
	switch {
	case claimed == "":
		c.Message = "receipt A makes no content hash claim"
	case claimed == b.ContentHash:
		c.Message = "claimed content hash matches receipt B"
	default:
		c.Passed = false
		c.Message = fmt.Sprintf("receipt A claims content hash %s but receipt B has %s", claimed, b.ContentHash)
	}
	return c
}

func temporalProximityCheck(a, b domain.Receipt, window time.Duration) domain.CrossProductCheck {
	delta := a.Timestamp.Sub(b.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	c := domain.CrossProductCheck{Name: domain.CheckTemporalProximity}
	if delta < window {
		c.Passed = true
		c.Message = fmt.Sprintf("timestamps differ by %s, within %s", delta, window)
	} else {
		c.Message = fmt.Sprintf("timestamps differ by %s, window is %s", delta, window)
	}
	return c
}

func entityMatchCheck(a, b domain.Receipt) domain.CrossProductCheck {
	c := domain.CrossProductCheck{Name: domain.CheckEntityMatch, Passed: true}
	var ea, eb string
	if a.Data != nil {
		ea = a.Data.EntityID()
	}
	if b.Data != nil {
		eb = b.Data.EntityID()
	}
	switch {
	case ea == "" || eb == "":
		c.Message = "entity identifier not present on both receipts"
	case ea == eb:
		c.Message = fmt.Sprintf("both receipts belong to %s", ea)
	default:
		c.Passed = false
		c.Message = fmt.Sprintf("receipt A belongs to %s, receipt B belongs to %s", ea, eb)
	}
	return c
}

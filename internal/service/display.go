package service

// AssignedAdminTask are the economics of the admin task currently occupying
// the user's slot, as snapshotted at assignment.
type AssignedAdminTask struct {
	PriceCents        int64
	CommissionCents   int64
	RequiredCashCents int64
}

// DisplayInputs is the canonical state the dashboard derivation reads. It is
// assembled fresh on every call; nothing here is a mutable cache.
type DisplayInputs struct {
	WalletCashCents  int64
	WalletBonusCents int64

	DividendsCents     int64
	DividendsPaidCents int64

	// Assigned is non-nil while an ADMIN task is IN_PROGRESS or SUBMITTED.
	Assigned *AssignedAdminTask

	// Aggregates over all historically approved ADMIN tasks.
	HasApprovedAdmin         bool
	ApprovedAdminRequiredSum int64
}

// DisplayTotals is what the dashboard shows. "Total" always reconciles to
// real wallet money when the user is not mid-assignment; "Asset"
// communicates capital at risk or money already committed to admin tasks;
// "Dividends" tracks realized-but-not-yet-withdrawn commissions.
type DisplayTotals struct {
	TotalCents      int64
	AssetCents      int64
	DividendsCents  int64
	ProcessingCents int64
}

// ComputeDisplayTotals derives the dashboard numbers from canonical state.
// Three regimes:
//
//  1. Admin task assigned: asset = -required, total mirrors asset,
//     processing = price + commission, dividends = paid clamped to wallet.
//  2. Settled with admin history: total = wallet, asset = sum of required
//     cash over approved admin tasks capped to total, dividends unchanged.
//  3. Settled without admin history: total = wallet,
//     dividends = min(paid, total), asset = total - dividends.
func ComputeDisplayTotals(in DisplayInputs) DisplayTotals {
	paid := in.DividendsPaidCents
	if paid < 0 {
		paid = 0
	}
	if paid > in.DividendsCents {
		paid = in.DividendsCents
	}

	walletTotal := in.WalletCashCents + in.WalletBonusCents

	if in.Assigned != nil {
		asset := -in.Assigned.RequiredCashCents
		dividends := paid
		if wt := max64(0, walletTotal); dividends > wt {
			dividends = wt
		}
		return DisplayTotals{
			TotalCents:      asset, // mirrors asset while processing
			AssetCents:      asset,
			DividendsCents:  dividends,
			ProcessingCents: in.Assigned.PriceCents + in.Assigned.CommissionCents,
		}
	}

	total := walletTotal

	if in.HasApprovedAdmin {
		asset := max64(0, in.ApprovedAdminRequiredSum)
		if asset > total {
			asset = total
		}
		return DisplayTotals{
			TotalCents:     total,
			AssetCents:     asset,
			DividendsCents: in.DividendsCents,
		}
	}

	dividends := paid
	if dividends > total {
		dividends = total
	}
	return DisplayTotals{
		TotalCents:     total,
		AssetCents:     max64(0, total-dividends),
		DividendsCents: dividends,
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

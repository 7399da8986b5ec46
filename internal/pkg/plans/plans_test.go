package plans

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{in: "free", want: PlanFree},
		{in: "plus", want: PlanPlus},
		{in: "pro", want: PlanPro},
		{in: "PRO", want: PlanPro},
		{in: " plus ", want: PlanPlus},
		{in: "starter", want: PlanFree},
		{in: "premium", want: PlanPlus},
		{in: "premium_max", want: PlanPro},
		{in: "invalid", want: PlanFree},
		{in: "", want: PlanFree},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLevelTotalOrder(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		if Level(all[i-1]) >= Level(all[i]) {
			t.Fatalf("expected %q to rank below %q", all[i-1], all[i])
		}
	}
}

func TestCompare(t *testing.T) {
	if Compare(PlanFree, PlanPlus) >= 0 {
		t.Fatalf("expected free < plus")
	}
	if Compare(PlanPro, PlanPlus) <= 0 {
		t.Fatalf("expected pro > plus")
	}
	if Compare(PlanPlus, PlanPlus) != 0 {
		t.Fatalf("expected plus == plus")
	}
}

func TestLimitsTightenDownward(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		lower := PlanLimits(all[i-1])
		higher := PlanLimits(all[i])
		if lower.MaxStorageBytes >= higher.MaxStorageBytes {
			t.Fatalf("expected %q storage limit below %q", all[i-1], all[i])
		}
		if lower.MaxGalleries >= higher.MaxGalleries {
			t.Fatalf("expected %q gallery limit below %q", all[i-1], all[i])
		}
	}
}

func TestPrice(t *testing.T) {
	if !Price(PlanFree).IsZero() {
		t.Fatalf("expected free plan to cost nothing")
	}
	if !Price(PlanPlus).IsPositive() || !Price(PlanPro).IsPositive() {
		t.Fatalf("expected paid plans to have a positive price")
	}
	if !Price(PlanPro).GreaterThan(Price(PlanPlus)) {
		t.Fatalf("expected pro to cost more than plus")
	}
}

func TestMostRestrictive(t *testing.T) {
	if MostRestrictive() != PlanFree {
		t.Fatalf("expected free to be the most restrictive plan")
	}
}

package extract

import "testing"

func TestNormalizeSalary_YearlyRange(t *testing.T) {
	t.Parallel()

	got := NormalizeSalary("$80,000 - $120,000")
	if got == nil {
		t.Fatal("expected a salary range")
	}
	if got.Min != 80000 || got.Max != 120000 {
		t.Fatalf("range = %d-%d, want 80000-120000", got.Min, got.Max)
	}
	if got.Currency != "USD" || got.Period != "yearly" {
		t.Fatalf("currency/period = %s/%s, want USD/yearly", got.Currency, got.Period)
	}
}

func TestNormalizeSalary_Hourly(t *testing.T) {
	t.Parallel()

	got := NormalizeSalary("$25/hour")
	if got == nil {
		t.Fatal("expected a salary range")
	}
	if got.Min != 25 || got.Max != 0 {
		t.Fatalf("range = %d-%d, want 25-0", got.Min, got.Max)
	}
	if got.Period != "hourly" {
		t.Fatalf("period = %s, want hourly", got.Period)
	}
}

func TestNormalizeSalary_ThousandsSuffix(t *testing.T) {
	t.Parallel()

	got := NormalizeSalary("$80k - $120k per year")
	if got == nil {
		t.Fatal("expected a salary range")
	}
	if got.Min != 80000 || got.Max != 120000 {
		t.Fatalf("range = %d-%d, want 80000-120000", got.Min, got.Max)
	}
}

func TestNormalizeSalary_NoMatch(t *testing.T) {
	t.Parallel()

	if got := NormalizeSalary("competitive compensation"); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if got := NormalizeSalary(""); got != nil {
		t.Fatalf("expected nil for empty text, got %+v", got)
	}
}

func TestSkills_Containment(t *testing.T) {
	t.Parallel()

	got := Skills(
		"We use Python and Kubernetes in production. Python everywhere.",
		[]string{"3+ years of PostgreSQL experience"},
	)
	want := map[string]bool{"kubernetes": true, "postgresql": true, "python": true, "sql": true}
	if len(got) != len(want) {
		t.Fatalf("skills = %v, want %d entries", got, len(want))
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected skill %q in %v", s, got)
		}
	}
}

func TestSkills_Empty(t *testing.T) {
	t.Parallel()

	if got := Skills("we paint fences", nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

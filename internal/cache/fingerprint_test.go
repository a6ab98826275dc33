package cache

import "testing"

func TestFingerprintStableAcrossFormatting(t *testing.T) {
	n := Normalizer{}
	a := n.Fingerprint("ds1", "select month, sum(amount) from sales group by month")
	b := n.Fingerprint("ds1", "SELECT month,  sum(amount)\nFROM sales\nGROUP BY month")
	if a != b {
		t.Fatalf("whitespace and keyword case must not change the fingerprint")
	}
}

func TestFingerprintStripsComments(t *testing.T) {
	n := Normalizer{}
	a := n.Fingerprint("ds1", "SELECT * FROM sales -- trailing note\nWHERE region = 'EU'")
	b := n.Fingerprint("ds1", "SELECT * FROM sales /* block note */ WHERE region = 'EU'")
	if a != b {
		t.Fatalf("comments must not change the fingerprint")
	}
}

func TestFingerprintReplacesStringLiterals(t *testing.T) {
	n := Normalizer{}
	a := n.Fingerprint("ds1", "SELECT * FROM sales WHERE region = 'EU'")
	b := n.Fingerprint("ds1", "SELECT * FROM sales WHERE region = 'US'")
	if a != b {
		t.Fatalf("string literal values must not change the fingerprint")
	}
}

func TestFingerprintKeepsNumericLiteralsByDefault(t *testing.T) {
	n := Normalizer{}
	a := n.Fingerprint("ds1", "SELECT * FROM sales WHERE amount > 100")
	b := n.Fingerprint("ds1", "SELECT * FROM sales WHERE amount > 200")
	if a == b {
		t.Fatalf("numeric thresholds must stay cache-distinct by default")
	}

	loose := Normalizer{NormalizeNumbers: true}
	if loose.Fingerprint("ds1", "SELECT * FROM sales WHERE amount > 100") !=
		loose.Fingerprint("ds1", "SELECT * FROM sales WHERE amount > 200") {
		t.Fatalf("NormalizeNumbers should collapse numeric literals")
	}
}

func TestFingerprintBindsDataSource(t *testing.T) {
	n := Normalizer{}
	q := "SELECT 1"
	if n.Fingerprint("ds1", q) == n.Fingerprint("ds2", q) {
		t.Fatalf("same query on different sources must not share a fingerprint")
	}
}

func TestNormalizeKeepsIdentifierDigits(t *testing.T) {
	n := Normalizer{NormalizeNumbers: true}
	got := n.Normalize("SELECT col2 FROM t1 WHERE x > 5")
	if got != "SELECT col2 FROM t1 WHERE x > ?" {
		t.Fatalf("digits inside identifiers must survive, got %q", got)
	}
}

func TestNormalizeUppercasesKeywordsOnly(t *testing.T) {
	n := Normalizer{}
	got := n.Normalize("select Amount from Sales where Amount is not null")
	want := "SELECT Amount FROM Sales WHERE Amount IS NOT NULL"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

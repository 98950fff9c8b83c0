package transfer

import "testing"

func TestSortCandidatesByLANAffinity(t *testing.T) {
	local := []string{"192.168.1.5"}
	remote := []string{"8.8.8.8", "192.168.1.9", "10.0.0.2"}

	got := SortCandidatesByLANAffinity(remote, local)
	if got[0] != "192.168.1.9" {
		t.Fatalf("got[0] = %q, want 192.168.1.9 (full order %v)", got[0], got)
	}
}

func TestSortCandidatesIgnoresNonLANLocalIPs(t *testing.T) {
	// A local IP that doesn't look LAN-local (e.g. a public IP) should
	// never contribute to affinity, even if it shares a long prefix.
	local := []string{"8.8.8.1"}
	remote := []string{"8.8.8.2", "10.0.0.5"}

	got := SortCandidatesByLANAffinity(remote, local)
	// Neither candidate gets affinity boosted, so input order is preserved.
	if got[0] != "8.8.8.2" || got[1] != "10.0.0.5" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestCommonPrefixLen(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"192.168.1.9", "192.168.1.5", 10},
		{"10.0.0.2", "192.168.1.5", 1},
		{"8.8.8.8", "192.168.1.5", 0},
	}
	for _, c := range cases {
		if got := commonPrefixLen(c.a, c.b); got != c.want {
			t.Errorf("commonPrefixLen(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

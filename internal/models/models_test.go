package models

import "testing"

func TestIndexerOrdering(t *testing.T) {
	t.Parallel()

	addrA, _ := ParseAddress("0x000000000000000000000000000000000000000a")
	addrB, _ := ParseAddress("0x000000000000000000000000000000000000000b")

	cases := []struct {
		name string
		a, b Indexer
		want bool
	}{
		{"addr < addr", Indexer{Address: addrA}, Indexer{Address: addrB}, true},
		{"addr beats name", Indexer{Address: addrA}, Indexer{Name: "z-indexer"}, true},
		{"name after addr", Indexer{Name: "a-indexer"}, Indexer{Address: addrB}, false},
		{"name < name", Indexer{Name: "a"}, Indexer{Name: "b"}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.a.Less(tc.b); got != tc.want {
				t.Fatalf("Less()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestIndexerEqual(t *testing.T) {
	t.Parallel()

	addrA, _ := ParseAddress("0x000000000000000000000000000000000000000a")
	addrA2, _ := ParseAddress("0x000000000000000000000000000000000000000a")

	if !(Indexer{Address: addrA}).Equal(Indexer{Address: addrA2}) {
		t.Fatal("expected equal addresses to compare equal")
	}
	if (Indexer{Address: addrA}).Equal(Indexer{Name: "a"}) {
		t.Fatal("addressed and named indexers should never be equal")
	}
}

func TestParseAddressValidation(t *testing.T) {
	t.Parallel()

	if _, err := ParseAddress("0xdeadbeef"); err == nil {
		t.Fatal("expected error for short address")
	}
	addr, err := ParseAddress("0x000000000000000000000000000000000000000a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addr) != 20 {
		t.Fatalf("len=%d want 20", len(addr))
	}
}

func TestParseDigestValidation(t *testing.T) {
	t.Parallel()

	if _, err := ParseDigest("0xabc"); err == nil {
		t.Fatal("expected error for short digest")
	}
	d, err := ParseDigest("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d[0] != 0xaa {
		t.Fatalf("digest[0]=%x want aa", d[0])
	}
}

func TestBlockRangeContains(t *testing.T) {
	t.Parallel()

	r := BlockRange{Lo: 10, Hi: 20}
	cases := []struct {
		n    int64
		want bool
	}{
		{9, false}, {10, true}, {19, true}, {20, false},
	}
	for _, tc := range cases {
		if got := r.Contains(tc.n); got != tc.want {
			t.Errorf("Contains(%d)=%v want %v", tc.n, got, tc.want)
		}
	}
}

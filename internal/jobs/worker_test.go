package jobs

import "testing"

func TestSplitTarget(t *testing.T) {
	cases := []struct {
		in            string
		corpus, src   string
	}{
		{"rust/tokio-docs", "rust", "tokio-docs"},
		{"solana", "solana", ""},
		{"cilium/ebpf/maps", "cilium", "ebpf/maps"},
	}
	for _, c := range cases {
		corpus, src := splitTarget(c.in)
		if corpus != c.corpus || src != c.src {
			t.Errorf("splitTarget(%q) = (%q,%q), want (%q,%q)", c.in, corpus, src, c.corpus, c.src)
		}
	}
}

func TestPoolThrottlesPerTarget(t *testing.T) {
	p := NewPool(nil, nil, Options{MaxPerTargetPerMinute: 1, Concurrency: 1})
	if p.throttled("rust/tokio-docs") {
		t.Fatalf("first call for a target should not be throttled")
	}
	if !p.throttled("rust/tokio-docs") {
		t.Fatalf("second call within the same minute should be throttled")
	}
}

func TestPoolThrottleDisabledWhenZero(t *testing.T) {
	p := NewPool(nil, nil, Options{MaxPerTargetPerMinute: 0, Concurrency: 1})
	if p.throttled("any") || p.throttled("any") {
		t.Fatalf("MaxPerTargetPerMinute=0 must disable throttling")
	}
}
